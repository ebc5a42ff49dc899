// Package cache provides the content-addressed step result cache.
//
// Implementations:
//   - RedisStore: Redis without expiry (production)
//   - MemoryStore: In-memory for tests and Redis-less runs
package cache
