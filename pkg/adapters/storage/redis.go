package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore implements SessionStore using Redis with per-entry expiry.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Get returns the state for a session.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (map[string]any, error) {
	data, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to get state: %w", err)
	}

	var state map[string]any
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return state, nil
}

// Set replaces the full state for a session, refreshing its TTL.
func (s *RedisStore) Set(ctx context.Context, sessionID string, state map[string]any) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := s.client.Set(ctx, sessionKey(sessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	s.logger.Debug("session state saved", zap.String("session_id", sessionID))
	return nil
}

// MergeUpdate merges a partial update into the stored state.
func (s *RedisStore) MergeUpdate(ctx context.Context, sessionID string, partial map[string]any) (map[string]any, error) {
	current, err := s.Get(ctx, sessionID)
	if err != nil {
		if !isNotFound(err) {
			return nil, err
		}
		current = make(map[string]any)
	}

	for key, value := range partial {
		current[key] = value
	}

	if err := s.Set(ctx, sessionID, current); err != nil {
		return nil, err
	}

	return current, nil
}

// Delete removes the state for a session.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}

	s.logger.Debug("session state deleted", zap.String("session_id", sessionID))
	return nil
}

// sessionKey returns the Redis key for a session's state.
func sessionKey(sessionID string) string {
	return fmt.Sprintf("research:%s:state", sessionID)
}
