package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the research pipeline orchestrator.
type Config struct {
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	MetricsPort int    `env:"RPO_METRICS_PORT" envDefault:"9090"`

	// LLM provider configuration
	LLM LLMConfig

	// Model assignments per step role
	Models ModelConfig

	// Redis configuration (session store, cache, events)
	Redis RedisConfig

	// Pipeline execution configuration
	Pipeline PipelineConfig
}

// LLMConfig holds provider pool configuration.
type LLMConfig struct {
	// Status selects the default backend kind: OFFLINE (local Ollama)
	// or ONLINE (hosted Anthropic).
	Status string `env:"LLM_STATUS" envDefault:"OFFLINE"`

	OllamaBaseURL       string `env:"OLLAMA_BASE_URL" envDefault:"http://localhost:11434"`
	OllamaFallbackModel string `env:"OLLAMA_FALLBACK_MODEL" envDefault:"phi3:mini"`

	AnthropicAPIKeys []string `env:"ANTHROPIC_API_KEYS" envSeparator:","`

	MaxTokens   int     `env:"LLM_MAX_TOKENS" envDefault:"4096"`
	Temperature float64 `env:"LLM_TEMPERATURE" envDefault:"0.7"`

	MaxRetries     int           `env:"LLM_MAX_RETRIES" envDefault:"3"`
	InitialBackoff time.Duration `env:"LLM_INITIAL_BACKOFF" envDefault:"1s"`
}

// ModelConfig assigns a model to each step role.
type ModelConfig struct {
	Reasoning string `env:"MODEL_REASONING" envDefault:"phi3:mini"`
	Writing   string `env:"MODEL_WRITING" envDefault:"gemma2:2b"`
	Coding    string `env:"MODEL_CODING" envDefault:"qwen2.5-coder:1.5b"`
	Critical  string `env:"MODEL_CRITICAL" envDefault:"phi3:mini"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// StateTTL is the expiry for session state entries.
	StateTTL time.Duration `env:"STATE_TTL" envDefault:"24h"`
}

// PipelineConfig holds graph execution configuration.
type PipelineConfig struct {
	// MaxConcurrency bounds the number of nodes executing in parallel.
	MaxConcurrency int `env:"PIPELINE_MAX_CONCURRENCY" envDefault:"4"`

	// GatePollInterval is the sleep between gate polls while awaiting
	// external input.
	GatePollInterval time.Duration `env:"GATE_POLL_INTERVAL" envDefault:"3s"`

	// LockTimeout bounds how long a writer step waits for the document
	// lock.
	LockTimeout time.Duration `env:"DOCUMENT_LOCK_TIMEOUT" envDefault:"60s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.MetricsPort)
	}

	switch c.LLM.Status {
	case "OFFLINE", "ONLINE", "offline", "online":
	default:
		return fmt.Errorf("invalid LLM status: %s (must be OFFLINE or ONLINE)", c.LLM.Status)
	}

	if c.LLM.MaxTokens < 1 {
		return fmt.Errorf("LLM max tokens must be at least 1")
	}

	if c.Pipeline.MaxConcurrency < 1 {
		return fmt.Errorf("pipeline max concurrency must be at least 1")
	}

	if c.Pipeline.GatePollInterval <= 0 {
		return fmt.Errorf("gate poll interval must be positive")
	}

	return nil
}

// GetMetricsAddr returns the metrics server address.
func (c *Config) GetMetricsAddr() string {
	return fmt.Sprintf(":%d", c.MetricsPort)
}
