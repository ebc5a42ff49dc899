// Package storage provides the durable session state store.
//
// Implementations:
//   - RedisStore: Redis with JSON serialization and TTL (production)
//   - MemoryStore: In-memory fallback when Redis is unreachable, and tests
package storage
