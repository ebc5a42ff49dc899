package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seralba/rpo/pkg/ports"
)

// stubClient is a scripted backend for pool tests.
type stubClient struct {
	id        string
	err       error
	available bool
	calls     int
}

func (s *stubClient) Invoke(ctx context.Context, messages []ports.Message) (*ports.Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &ports.Response{Content: "from " + s.id, Model: "stub"}, nil
}

func (s *stubClient) InvokeStream(ctx context.Context, messages []ports.Message, fn ports.StreamFunc) (*ports.Response, error) {
	return s.Invoke(ctx, messages)
}

func (s *stubClient) Available(ctx context.Context) bool { return s.available }

func onlinePool(keys []string, factory clientFactory) *Pool {
	pool := NewPool(Config{
		Mode:             ModeOnline,
		AnthropicAPIKeys: keys,
		MaxRetries:       3,
		InitialBackoff:   time.Millisecond,
	}, zap.NewNop(), nil)
	pool.factory = factory
	return pool
}

func TestCredentialSetRoundRobin(t *testing.T) {
	creds := NewCredentialSet([]string{"key-a", "key-b", "key-c"})
	require.Equal(t, 3, creds.Len())

	var seen []string
	for i := 0; i < 6; i++ {
		_, key := creds.Next()
		seen = append(seen, key)
	}
	assert.Equal(t, []string{"key-a", "key-b", "key-c", "key-a", "key-b", "key-c"}, seen)
}

func TestCredentialSetFiltersBlankKeys(t *testing.T) {
	creds := NewCredentialSet([]string{" key-a ", "", "  ", "key-b"})
	assert.Equal(t, 2, creds.Len())

	_, key := creds.Next()
	assert.Equal(t, "key-a", key)
}

func TestCredentialSetEmpty(t *testing.T) {
	creds := NewCredentialSet(nil)
	index, key := creds.Next()
	assert.Equal(t, -1, index)
	assert.Empty(t, key)
}

func TestGetHandleRotatesCredentials(t *testing.T) {
	pool := onlinePool([]string{"key-a", "key-b", "key-c"},
		func(kind Kind, model, apiKey string) (ports.LLMClient, error) {
			return &stubClient{id: apiKey, available: true}, nil
		})

	var indices []int
	for i := 0; i < 6; i++ {
		handle, err := pool.GetHandle("claude-test")
		require.NoError(t, err)
		indices = append(indices, handle.credIndex)
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2}, indices,
		"handles must cycle through configured keys")
}

func TestInvokeWithRetryRotatesOnRateLimit(t *testing.T) {
	clients := map[string]*stubClient{
		"key-a": {id: "key-a", err: errors.New("429 Too Many Requests"), available: true},
		"key-b": {id: "key-b", available: true},
	}
	pool := onlinePool([]string{"key-a", "key-b"},
		func(kind Kind, model, apiKey string) (ports.LLMClient, error) {
			return clients[apiKey], nil
		})

	handle, err := pool.GetHandle("claude-test")
	require.NoError(t, err)

	response, err := handle.InvokeWithRetry(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "from key-b", response.Content)

	hits := pool.creds.Hits()
	assert.Equal(t, 1, hits[0], "rate limit must be recorded against the failing key")
	assert.Equal(t, 0, hits[1])
}

func TestInvokeWithRetrySingleKeyPropagates(t *testing.T) {
	client := &stubClient{id: "only", err: errors.New("429 rate_limit_error"), available: true}
	pool := onlinePool([]string{"only-key"},
		func(kind Kind, model, apiKey string) (ports.LLMClient, error) {
			return client, nil
		})

	handle, err := pool.GetHandle("claude-test")
	require.NoError(t, err)

	_, err = handle.InvokeWithRetry(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, 1, client.calls, "single-key pools must not retry rate limits")
}

func TestInvokeWithRetryNonRateLimitPropagates(t *testing.T) {
	client := &stubClient{id: "a", err: errors.New("500 internal server error"), available: true}
	pool := onlinePool([]string{"key-a", "key-b"},
		func(kind Kind, model, apiKey string) (ports.LLMClient, error) {
			return client, nil
		})

	handle, err := pool.GetHandle("claude-test")
	require.NoError(t, err)

	_, err = handle.InvokeWithRetry(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, 1, client.calls, "non-rate-limit errors must not retry")
}

func TestInvokeWithRetryExhaustsAllKeys(t *testing.T) {
	rateLimited := errors.New("429 Too Many Requests")
	made := 0
	pool := onlinePool([]string{"key-a", "key-b"},
		func(kind Kind, model, apiKey string) (ports.LLMClient, error) {
			made++
			return &stubClient{id: fmt.Sprintf("c%d", made), err: rateLimited, available: true}, nil
		})

	handle, err := pool.GetHandle("claude-test")
	require.NoError(t, err)

	_, err = handle.InvokeWithRetry(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))

	// Attempts rotate key 0 -> 1 -> 0; the final failure must not build
	// a fourth client or advance the cursor past the last handle used.
	assert.Equal(t, 3, made, "exhaustion must not construct a client nothing will use")
	assert.Equal(t, 1, pool.creds.ActiveIndex(), "cursor must not advance after the final attempt")
}

func TestOfflineFallsBackToHostedWhenLocalDown(t *testing.T) {
	pool := NewPool(Config{
		Mode:                ModeOffline,
		OllamaFallbackModel: "fallback",
		AnthropicAPIKeys:    []string{"key-a"},
	}, zap.NewNop(), nil)
	pool.factory = func(kind Kind, model, apiKey string) (ports.LLMClient, error) {
		return &stubClient{id: string(kind), available: kind != KindOllama}, nil
	}

	handle, err := pool.GetHandle("some-model")
	require.NoError(t, err)
	assert.Equal(t, KindAnthropic, handle.Kind())
}

func TestModelPrefixForcesKind(t *testing.T) {
	pool := onlinePool([]string{"key-a"},
		func(kind Kind, model, apiKey string) (ports.LLMClient, error) {
			return &stubClient{id: model, available: true}, nil
		})

	handle, err := pool.GetHandle("ollama/phi3:mini")
	require.NoError(t, err)
	assert.Equal(t, KindOllama, handle.Kind())
	assert.Equal(t, "phi3:mini", handle.Model())

	handle, err = pool.GetHandle("anthropic/claude-test")
	require.NoError(t, err)
	assert.Equal(t, KindAnthropic, handle.Kind())
	assert.Equal(t, "claude-test", handle.Model())
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("ONLINE")
	require.NoError(t, err)
	assert.Equal(t, ModeOnline, mode)

	mode, err = ParseMode("offline")
	require.NoError(t, err)
	assert.Equal(t, ModeOffline, mode)

	mode, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeOffline, mode)

	_, err = ParseMode("hybrid")
	assert.Error(t, err)
}

func TestIsRateLimited(t *testing.T) {
	assert.True(t, IsRateLimited(errors.New("429 Too Many Requests")))
	assert.True(t, IsRateLimited(errors.New("rate_limit_error: quota exceeded")))
	assert.True(t, IsRateLimited(errors.New("Rate limit reached")))
	assert.False(t, IsRateLimited(errors.New("connection refused")))
	assert.False(t, IsRateLimited(nil))
}

func TestStatusReportsRotation(t *testing.T) {
	pool := onlinePool([]string{"key-a", "key-b"},
		func(kind Kind, model, apiKey string) (ports.LLMClient, error) {
			return &stubClient{id: apiKey, available: true}, nil
		})

	status := pool.Status()
	assert.Equal(t, 2, status["total_keys"])
	assert.Equal(t, "round-robin", status["key_rotation"])
}
