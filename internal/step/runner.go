package step

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/seralba/rpo/internal/pipeline"
	"github.com/seralba/rpo/pkg/adapters/cache"
	"github.com/seralba/rpo/pkg/adapters/events"
	"github.com/seralba/rpo/pkg/adapters/llm"
	"github.com/seralba/rpo/pkg/ports"
)

// jsonInstruction is appended to every system prompt so responses stay
// machine-parseable.
const jsonInstruction = "\n\nIMPORTANT: Output ONLY valid JSON. No prose before or after."

// Metrics is the subset of the collector the runner reports to.
type Metrics interface {
	RecordStepExecuted(step, status string, duration time.Duration)
	RecordCacheHit()
	RecordCacheMiss()
	RecordTokens(model string, promptTokens, completionTokens int)
}

type nopMetrics struct{}

func (nopMetrics) RecordStepExecuted(string, string, time.Duration) {}
func (nopMetrics) RecordCacheHit()                                  {}
func (nopMetrics) RecordCacheMiss()                                 {}
func (nopMetrics) RecordTokens(string, int, int)                    {}

// Runner wraps every step invocation in the same envelope: budgeted
// context rendering, content-addressed cache lookup, retried inference,
// layered JSON extraction, and telemetry. Cache and event failures are
// logged and never fail the step.
type Runner struct {
	pool     *llm.Pool
	cache    cache.Store
	bus      events.Bus
	topic    string
	metrics  Metrics
	budgeter *Budgeter
	logger   *zap.Logger
}

// NewRunner creates a step runner. metrics may be nil.
func NewRunner(pool *llm.Pool, store cache.Store, bus events.Bus, topic string, metrics Metrics, budgeter *Budgeter, logger *zap.Logger) *Runner {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Runner{
		pool:     pool,
		cache:    store,
		bus:      bus,
		topic:    topic,
		metrics:  metrics,
		budgeter: budgeter,
		logger:   logger,
	}
}

// Run executes one step against the current run state.
func (r *Runner) Run(ctx context.Context, def Definition, state *pipeline.State) Result {
	started := time.Now()

	prompt := r.budgeter.Render(state, def.Model)
	key := cache.Key(def.Name, def.Model, def.SystemPrompt, prompt)

	r.emit(ctx, events.New(events.TypeStepStarted, state.JobID, def.Name, "", nil))

	if entry, err := r.cache.Get(ctx, key); err == nil {
		r.metrics.RecordCacheHit()
		r.metrics.RecordStepExecuted(def.Name, "cached", 0)
		r.emit(ctx, events.New(events.TypeStepCompleted, state.JobID, def.Name, "served from cache",
			map[string]any{"cached": true}))
		r.logger.Debug("step served from cache",
			zap.String("step", def.Name),
			zap.String("key", key))
		return Result{
			Response:      entry.Response,
			Raw:           entry.Raw,
			Agent:         entry.Agent,
			ExecutionTime: 0,
			InputHash:     entry.InputHash,
			OutputHash:    entry.OutputHash,
			Cached:        true,
		}
	} else if !errors.Is(err, cache.ErrMiss) {
		r.logger.Warn("cache read failed, continuing without cache",
			zap.String("step", def.Name),
			zap.Error(err))
	}
	r.metrics.RecordCacheMiss()

	handle, err := r.pool.GetHandle(def.Model)
	if err != nil {
		return r.fail(ctx, def, state, started, fmt.Errorf("resolving backend: %w", err))
	}

	messages := []ports.Message{
		{Role: "system", Content: def.SystemPrompt + jsonInstruction},
		{Role: "user", Content: prompt},
	}

	response, err := handle.InvokeWithRetry(ctx, messages)
	if err != nil {
		return r.fail(ctx, def, state, started, err)
	}

	elapsed := time.Since(started)
	parsed := ExtractJSON(response.Content)

	promptTokens := response.PromptTokens
	if promptTokens == 0 {
		promptTokens = r.budgeter.CountTokens(prompt)
	}
	completionTokens := response.CompletionTokens
	if completionTokens == 0 {
		completionTokens = r.budgeter.CountTokens(response.Content)
	}
	r.metrics.RecordTokens(def.Model, promptTokens, completionTokens)

	result := Result{
		Response:      parsed,
		Raw:           response.Content,
		Agent:         def.Name,
		ExecutionTime: elapsed.Seconds(),
		InputHash:     key,
		OutputHash:    cache.Hash(response.Content),
	}

	entry := &cache.Entry{
		Response:      result.Response,
		Raw:           result.Raw,
		Agent:         result.Agent,
		ExecutionTime: result.ExecutionTime,
		InputHash:     result.InputHash,
		OutputHash:    result.OutputHash,
	}
	if err := r.cache.Put(ctx, key, entry); err != nil {
		r.logger.Warn("cache write failed",
			zap.String("step", def.Name),
			zap.Error(err))
	}

	r.metrics.RecordStepExecuted(def.Name, "success", elapsed)
	r.emit(ctx, events.New(events.TypeStepCompleted, state.JobID, def.Name, "completed",
		map[string]any{
			"execution_time": result.ExecutionTime,
			"output_hash":    result.OutputHash,
		}))

	r.logger.Info("step completed",
		zap.String("step", def.Name),
		zap.String("model", def.Model),
		zap.Duration("elapsed", elapsed))

	return result
}

func (r *Runner) fail(ctx context.Context, def Definition, state *pipeline.State, started time.Time, err error) Result {
	elapsed := time.Since(started)

	r.metrics.RecordStepExecuted(def.Name, "failure", elapsed)
	r.emit(ctx, events.New(events.TypeStepFailed, state.JobID, def.Name, err.Error(), nil))

	r.logger.Error("step failed",
		zap.String("step", def.Name),
		zap.String("model", def.Model),
		zap.Duration("elapsed", elapsed),
		zap.Error(err))

	return Result{
		Agent:         def.Name,
		ExecutionTime: elapsed.Seconds(),
		Err:           err,
	}
}

// emit publishes an event best-effort.
func (r *Runner) emit(ctx context.Context, event events.Event) {
	if err := r.bus.Publish(ctx, r.topic, event); err != nil {
		r.logger.Debug("event publish failed",
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}
