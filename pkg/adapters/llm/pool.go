package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seralba/rpo/pkg/adapters/llm/anthropic"
	"github.com/seralba/rpo/pkg/adapters/llm/ollama"
	"github.com/seralba/rpo/pkg/ports"
)

// Config holds provider pool configuration.
type Config struct {
	Mode Mode

	OllamaBaseURL       string
	OllamaFallbackModel string

	AnthropicAPIKeys []string

	MaxTokens   int
	Temperature float64

	MaxRetries     int
	InitialBackoff time.Duration
}

// clientKey identifies one cached client connection.
type clientKey struct {
	kind      Kind
	model     string
	credIndex int
}

// clientFactory builds a backend client. Overridable in tests.
type clientFactory func(kind Kind, model, apiKey string) (ports.LLMClient, error)

// Pool resolves model identifiers to invocable backend handles. It caches
// one client per (kind, model, credential index), rotates hosted-API
// credentials round-robin, and falls back between backend kinds when the
// selected kind is unreachable.
type Pool struct {
	cfg     Config
	creds   *CredentialSet
	logger  *zap.Logger
	metrics Metrics

	clients map[clientKey]ports.LLMClient
	mu      sync.Mutex

	factory clientFactory
}

// NewPool creates a provider pool. metrics may be nil.
func NewPool(cfg Config, logger *zap.Logger, metrics Metrics) *Pool {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}

	pool := &Pool{
		cfg:     cfg,
		creds:   NewCredentialSet(cfg.AnthropicAPIKeys),
		logger:  logger,
		metrics: metrics,
		clients: make(map[clientKey]ports.LLMClient),
	}
	pool.factory = pool.buildClient

	return pool
}

// WithClientFactory replaces how backend clients are constructed.
// Primarily for tests that substitute fake backends.
func (p *Pool) WithClientFactory(factory func(kind Kind, model, apiKey string) (ports.LLMClient, error)) *Pool {
	p.factory = factory
	return p
}

// GetHandle resolves a model identifier to a backend handle.
//
// A namespace prefix ("anthropic/..." or "ollama/...") forces the kind.
// Otherwise the process mode selects the default kind, falling back to the
// alternate kind when the selected one is unreachable and the alternate is
// configured. When no alternate exists the selected kind is used anyway
// and the call is left to fail.
func (p *Pool) GetHandle(model string) (*Handle, error) {
	kind, model, forced := p.resolveKind(model)

	if !forced {
		kind = p.applyFallback(kind)
	}

	switch kind {
	case KindAnthropic:
		return p.hostedHandle(model)
	default:
		return p.localHandle(model)
	}
}

// resolveKind strips a namespace prefix and returns the forced kind, or
// the mode's default kind when no prefix is present.
func (p *Pool) resolveKind(model string) (Kind, string, bool) {
	if rest, ok := strings.CutPrefix(model, "anthropic/"); ok {
		return KindAnthropic, rest, true
	}
	if rest, ok := strings.CutPrefix(model, "ollama/"); ok {
		return KindOllama, rest, true
	}

	if p.cfg.Mode == ModeOnline {
		return KindAnthropic, model, false
	}
	return KindOllama, model, false
}

// applyFallback swaps the backend kind when the selected one cannot serve.
func (p *Pool) applyFallback(kind Kind) Kind {
	switch kind {
	case KindOllama:
		if p.localReachable() {
			return KindOllama
		}
		if p.creds.Len() > 0 {
			p.logger.Warn("ollama unreachable, falling back to anthropic")
			p.metrics.RecordFallback()
			return KindAnthropic
		}
		p.logger.Warn("ollama unreachable and no anthropic keys configured, proceeding anyway")
		return KindOllama

	case KindAnthropic:
		if p.creds.Len() > 0 {
			return KindAnthropic
		}
		p.logger.Warn("online mode without anthropic keys, falling back to ollama")
		p.metrics.RecordFallback()
		return KindOllama
	}

	return kind
}

// localReachable probes the Ollama server with a short-lived probe client.
func (p *Pool) localReachable() bool {
	client, err := p.client(clientKey{kind: KindOllama, model: p.cfg.OllamaFallbackModel}, "")
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return client.Available(ctx)
}

// localHandle builds a handle backed by the local Ollama server.
func (p *Pool) localHandle(model string) (*Handle, error) {
	client, err := p.client(clientKey{kind: KindOllama, model: model}, "")
	if err != nil {
		return nil, err
	}

	return &Handle{
		pool:   p,
		client: client,
		kind:   KindOllama,
		model:  model,
	}, nil
}

// hostedHandle builds a handle backed by the hosted API, advancing the
// credential rotation cursor.
func (p *Pool) hostedHandle(model string) (*Handle, error) {
	index, key := p.creds.Next()
	if index < 0 {
		return nil, fmt.Errorf("no anthropic API keys configured")
	}

	client, err := p.client(clientKey{kind: KindAnthropic, model: model, credIndex: index}, key)
	if err != nil {
		return nil, err
	}

	return &Handle{
		pool:      p,
		client:    client,
		kind:      KindAnthropic,
		model:     model,
		credIndex: index,
	}, nil
}

// client returns the cached client for a key, constructing it on first use.
func (p *Pool) client(key clientKey, apiKey string) (ports.LLMClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.clients[key]; ok {
		return client, nil
	}

	client, err := p.factory(key.kind, key.model, apiKey)
	if err != nil {
		return nil, err
	}

	p.clients[key] = client
	p.logger.Debug("backend client created",
		zap.String("kind", string(key.kind)),
		zap.String("model", key.model),
		zap.Int("credential_index", key.credIndex))

	return client, nil
}

// dropClient evicts a cached client, forcing reconstruction on next use.
// Called after a rate-limit hit so a stale connection is not reused.
func (p *Pool) dropClient(key clientKey) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.clients, key)
}

// buildClient is the default client factory.
func (p *Pool) buildClient(kind Kind, model, apiKey string) (ports.LLMClient, error) {
	switch kind {
	case KindAnthropic:
		return anthropic.NewClient(anthropic.Config{
			APIKey:      apiKey,
			Model:       model,
			MaxTokens:   p.cfg.MaxTokens,
			Temperature: p.cfg.Temperature,
		}), nil
	case KindOllama:
		return ollama.NewClient(ollama.Config{
			BaseURL:       p.cfg.OllamaBaseURL,
			Model:         model,
			FallbackModel: p.cfg.OllamaFallbackModel,
			Temperature:   p.cfg.Temperature,
		})
	default:
		return nil, fmt.Errorf("unknown backend kind: %s", kind)
	}
}

// Status reports the pool's mode, key rotation position, and per-key
// rate-limit counters for introspection.
func (p *Pool) Status() map[string]any {
	return map[string]any{
		"mode":             p.cfg.Mode.String(),
		"total_keys":       p.creds.Len(),
		"active_key_index": p.creds.ActiveIndex(),
		"rate_limit_hits":  p.creds.Hits(),
		"max_retries":      p.cfg.MaxRetries,
		"key_rotation":     "round-robin",
	}
}
