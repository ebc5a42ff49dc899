package llm

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/seralba/rpo/pkg/ports"
)

// Handle is an invocable backend resolved for one model. Hosted handles
// are pinned to the credential chosen at construction; retry rotates to a
// fresh handle internally.
type Handle struct {
	pool      *Pool
	client    ports.LLMClient
	kind      Kind
	model     string
	credIndex int
}

// Kind returns the backend kind this handle routes to.
func (h *Handle) Kind() Kind {
	return h.kind
}

// Model returns the resolved model identifier.
func (h *Handle) Model() string {
	return h.model
}

// Invoke performs a single inference call with no retry.
func (h *Handle) Invoke(ctx context.Context, messages []ports.Message) (*ports.Response, error) {
	response, err := h.client.Invoke(ctx, messages)
	if err != nil {
		h.pool.metrics.RecordLLMCall(string(h.kind), h.model, "error")
		return nil, err
	}

	h.pool.metrics.RecordLLMCall(string(h.kind), h.model, "ok")
	return response, nil
}

// InvokeStream performs a streaming inference call with no retry.
func (h *Handle) InvokeStream(ctx context.Context, messages []ports.Message, fn ports.StreamFunc) (*ports.Response, error) {
	response, err := h.client.InvokeStream(ctx, messages, fn)
	if err != nil {
		h.pool.metrics.RecordLLMCall(string(h.kind), h.model, "error")
		return nil, err
	}

	h.pool.metrics.RecordLLMCall(string(h.kind), h.model, "ok")
	return response, nil
}

// InvokeWithRetry invokes the backend, rotating credentials with
// exponential backoff when the error classifies as a rate limit.
//
// Non-rate-limit errors, and rate limits on single-key pools, propagate
// immediately. Exhausting all attempts returns the last error.
func (h *Handle) InvokeWithRetry(ctx context.Context, messages []ports.Message) (*ports.Response, error) {
	pool := h.pool
	current := h
	backoff := pool.cfg.InitialBackoff

	var lastErr error
	for attempt := 0; attempt < pool.cfg.MaxRetries; attempt++ {
		response, err := current.Invoke(ctx, messages)
		if err == nil {
			return response, nil
		}

		if !IsRateLimited(err) || current.kind != KindAnthropic || pool.creds.Len() <= 1 {
			return nil, err
		}

		pool.creds.RecordRateLimit(current.credIndex)
		pool.dropClient(clientKey{kind: current.kind, model: current.model, credIndex: current.credIndex})
		lastErr = err

		if attempt == pool.cfg.MaxRetries-1 {
			break
		}
		pool.metrics.RecordRetry("rate_limit")

		pool.logger.Warn("rate limit hit, rotating credential",
			zap.Int("credential_index", current.credIndex),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2

		next, handleErr := pool.hostedHandle(current.model)
		if handleErr != nil {
			return nil, handleErr
		}
		current = next
	}

	return nil, lastErr
}

// IsRateLimited classifies an error as a rate limit by matching the
// markers hosted APIs use for "too many requests" responses.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}

	message := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "rate_limit", "rate limit", "too many requests"} {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}
