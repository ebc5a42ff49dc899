package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore persists cache entries in Redis without expiry. Entries
// survive process restarts; at-most-one inference call per distinct input
// holds for the lifetime of the Redis keyspace.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStore creates a Redis-backed cache store.
func NewRedisStore(client *redis.Client, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger,
	}
}

// Get returns the entry for a key, or ErrMiss.
func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := s.client.Get(ctx, cacheKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("cache get failed: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}

	return &entry, nil
}

// Put stores an entry under a key. Entries are stored without TTL.
func (s *RedisStore) Put(ctx context.Context, key string, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := s.client.Set(ctx, cacheKey(key), data, 0).Err(); err != nil {
		return fmt.Errorf("cache put failed: %w", err)
	}

	s.logger.Debug("cache entry stored", zap.String("key", key[:8]))
	return nil
}

// cacheKey returns the Redis key for a cache entry.
func cacheKey(key string) string {
	return fmt.Sprintf("rpo:cache:%s", key)
}
