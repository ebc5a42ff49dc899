package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector records pipeline metrics via Prometheus.
type Collector struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   prometheus.Histogram

	stepsExecuted *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec

	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	llmCalls     *prometheus.CounterVec
	llmTokens    *prometheus.CounterVec
	llmRetries   *prometheus.CounterVec
	llmFallbacks prometheus.Counter

	lockAcquisitions *prometheus.CounterVec
	gatePolls        prometheus.Counter
}

// NewCollector creates a new Prometheus metrics collector.
func NewCollector() *Collector {
	return &Collector{
		runsStarted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "rpo_runs_started_total",
				Help: "Total number of pipeline runs started",
			},
		),
		runsCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpo_runs_completed_total",
				Help: "Total number of pipeline runs completed",
			},
			[]string{"status"},
		),
		runDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rpo_run_duration_seconds",
				Help:    "Pipeline run duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
			},
		),
		stepsExecuted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpo_steps_executed_total",
				Help: "Total number of steps executed",
			},
			[]string{"step", "status"},
		),
		stepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rpo_step_duration_seconds",
				Help:    "Step execution duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"step"},
		),
		cacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "rpo_cache_hits_total",
				Help: "Total number of response cache hits",
			},
		),
		cacheMisses: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "rpo_cache_misses_total",
				Help: "Total number of response cache misses",
			},
		),
		llmCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpo_llm_calls_total",
				Help: "Total number of LLM API calls",
			},
			[]string{"backend", "model", "status"},
		),
		llmTokens: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpo_llm_tokens_total",
				Help: "Total number of LLM tokens used",
			},
			[]string{"model", "type"},
		),
		llmRetries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpo_llm_retries_total",
				Help: "Total number of LLM retries by reason",
			},
			[]string{"reason"},
		),
		llmFallbacks: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "rpo_llm_backend_fallbacks_total",
				Help: "Total number of backend kind fallbacks",
			},
		),
		lockAcquisitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpo_lock_acquisitions_total",
				Help: "Total number of document lock acquisition attempts",
			},
			[]string{"status"},
		),
		gatePolls: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "rpo_gate_polls_total",
				Help: "Total number of gate poll iterations while awaiting input",
			},
		),
	}
}

// RecordRunStarted records the start of a pipeline run.
func (c *Collector) RecordRunStarted() {
	c.runsStarted.Inc()
}

// RecordRunCompleted records the end of a pipeline run.
func (c *Collector) RecordRunCompleted(status string, duration time.Duration) {
	c.runsCompleted.WithLabelValues(status).Inc()
	c.runDuration.Observe(duration.Seconds())
}

// RecordStepExecuted records a step execution with its outcome.
func (c *Collector) RecordStepExecuted(step, status string, duration time.Duration) {
	c.stepsExecuted.WithLabelValues(step, status).Inc()
	c.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordCacheHit records a response cache hit.
func (c *Collector) RecordCacheHit() {
	c.cacheHits.Inc()
}

// RecordCacheMiss records a response cache miss.
func (c *Collector) RecordCacheMiss() {
	c.cacheMisses.Inc()
}

// RecordLLMCall records one inference call against a backend.
func (c *Collector) RecordLLMCall(backend, model, status string) {
	c.llmCalls.WithLabelValues(backend, model, status).Inc()
}

// RecordTokens records token usage for a model.
func (c *Collector) RecordTokens(model string, promptTokens, completionTokens int) {
	c.llmTokens.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	c.llmTokens.WithLabelValues(model, "completion").Add(float64(completionTokens))
}

// RecordRetry records an LLM retry by reason.
func (c *Collector) RecordRetry(reason string) {
	c.llmRetries.WithLabelValues(reason).Inc()
}

// RecordFallback records a fallback between backend kinds.
func (c *Collector) RecordFallback() {
	c.llmFallbacks.Inc()
}

// RecordLockAcquisition records a document lock acquisition attempt.
func (c *Collector) RecordLockAcquisition(status string) {
	c.lockAcquisitions.WithLabelValues(status).Inc()
}

// RecordGatePoll records one gate poll iteration.
func (c *Collector) RecordGatePoll() {
	c.gatePolls.Inc()
}
