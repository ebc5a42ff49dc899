package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNotFound is returned when no state exists for a session.
var ErrNotFound = errors.New("session state not found")

// SessionStore holds the externally-writable per-run state. The research
// frontend resolves gates out of band by writing into it, so the store must
// support atomic per-key reads and writes from other processes.
type SessionStore interface {
	// Get returns the state for a session, or ErrNotFound.
	Get(ctx context.Context, sessionID string) (map[string]any, error)

	// Set replaces the full state for a session.
	Set(ctx context.Context, sessionID string, state map[string]any) error

	// MergeUpdate merges a partial update into the existing state and
	// returns the merged result. A missing session starts from empty.
	MergeUpdate(ctx context.Context, sessionID string, partial map[string]any) (map[string]any, error)

	// Delete removes the state for a session.
	Delete(ctx context.Context, sessionID string) error
}

// New returns a Redis-backed session store when the Redis server is
// reachable, and transparently falls back to the in-memory store otherwise.
// Callers cannot tell which backing is active.
func New(ctx context.Context, client *redis.Client, ttl time.Duration, logger *zap.Logger) SessionStore {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if client != nil {
		if err := client.Ping(pingCtx).Err(); err == nil {
			logger.Info("session store using redis backing")
			return NewRedisStore(client, ttl, logger)
		} else {
			logger.Warn("redis unreachable, session store using in-memory fallback",
				zap.Error(err))
		}
	} else {
		logger.Info("no redis configured, session store using in-memory fallback")
	}

	return NewMemoryStore()
}
