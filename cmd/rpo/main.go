package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/seralba/rpo/internal/config"
	"github.com/seralba/rpo/internal/lock"
	"github.com/seralba/rpo/internal/research"
	"github.com/seralba/rpo/internal/step"
	"github.com/seralba/rpo/pkg/adapters/cache"
	"github.com/seralba/rpo/pkg/adapters/events"
	memorybus "github.com/seralba/rpo/pkg/adapters/events/memory"
	redisbus "github.com/seralba/rpo/pkg/adapters/events/redis"
	"github.com/seralba/rpo/pkg/adapters/llm"
	"github.com/seralba/rpo/pkg/adapters/metrics/prometheus"
	"github.com/seralba/rpo/pkg/adapters/storage"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

const eventsTopic = "pipeline"

func main() {
	task := flag.String("task", "", "research task to run")
	paper := flag.String("paper", "", "optional paper reference for paper analysis")
	flag.Parse()

	if *task == "" && flag.NArg() > 0 {
		*task = strings.Join(flag.Args(), " ")
	}
	if *task == "" {
		fmt.Fprintln(os.Stderr, "usage: rpo -task \"research question\" [-paper URL]")
		os.Exit(2)
	}

	// Load .env if present; real env always wins.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting research pipeline orchestrator",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	defer redisClient.Close()

	redisUp := redisClient.Ping(ctx).Err() == nil
	if redisUp {
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	} else {
		logger.Warn("Redis unreachable, running with in-memory adapters",
			zap.String("addr", cfg.Redis.Addr))
	}

	var bus events.Bus
	var responseCache cache.Store
	if redisUp {
		bus = redisbus.NewStreamsBus(
			redisClient,
			"rpo-observers",
			fmt.Sprintf("rpo-%d", os.Getpid()),
			logger,
		)
		responseCache = cache.NewRedisStore(redisClient, logger)
	} else {
		bus = memorybus.NewBus()
		responseCache = cache.NewMemoryStore()
	}
	defer bus.Close()

	// Live observer: mirror pipeline events into the log.
	err = bus.Subscribe(ctx, eventsTopic, func(ctx context.Context, event events.Event) error {
		logger.Debug("pipeline event",
			zap.String("type", string(event.Type)),
			zap.String("job_id", event.JobID),
			zap.String("step", event.Step),
			zap.String("message", event.Message))
		return nil
	})
	if err != nil {
		logger.Warn("event subscription failed", zap.Error(err))
	}

	sessionStore := storage.New(ctx, redisClient, cfg.Redis.StateTTL, logger)

	mode, err := llm.ParseMode(cfg.LLM.Status)
	if err != nil {
		logger.Fatal("invalid LLM configuration", zap.Error(err))
	}

	metricsCollector := prometheus.NewCollector()

	pool := llm.NewPool(llm.Config{
		Mode:                mode,
		OllamaBaseURL:       cfg.LLM.OllamaBaseURL,
		OllamaFallbackModel: cfg.LLM.OllamaFallbackModel,
		AnthropicAPIKeys:    cfg.LLM.AnthropicAPIKeys,
		MaxTokens:           cfg.LLM.MaxTokens,
		Temperature:         cfg.LLM.Temperature,
		MaxRetries:          cfg.LLM.MaxRetries,
		InitialBackoff:      cfg.LLM.InitialBackoff,
	}, logger, metricsCollector)

	logger.Info("provider pool ready", zap.Any("status", pool.Status()))

	budgeter := step.NewBudgeter(nil, cfg.LLM.MaxTokens)
	runner := step.NewRunner(pool, responseCache, bus, eventsTopic, metricsCollector, budgeter, logger)

	docLock := lock.New(logger)

	pipeline := research.New(research.Deps{
		Runner:  runner,
		Store:   sessionStore,
		Bus:     bus,
		Topic:   eventsTopic,
		Lock:    docLock,
		Metrics: metricsCollector,
		Logger:  logger,
		Models:  cfg.Models,
		Cfg:     cfg.Pipeline,
	})

	metricsServer := &http.Server{
		Addr:    cfg.GetMetricsAddr(),
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("metrics server listening", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	defer metricsServer.Close()

	final, err := pipeline.Run(ctx, *task, *paper)
	if err != nil {
		logger.Error("run did not complete", zap.Error(err))
		os.Exit(1)
	}

	output, err := json.MarshalIndent(final, "", "  ")
	if err != nil {
		logger.Error("failed to render final state", zap.Error(err))
		os.Exit(1)
	}
	fmt.Println(string(output))

	logger.Info("research pipeline run finished",
		zap.String("job_id", final.JobID),
		zap.Int("findings", len(final.Findings)))
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
