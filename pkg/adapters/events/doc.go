// Package events defines the pipeline event bus and its implementations.
//
// Implementations:
//   - redis: Redis Streams with consumer groups (production)
//   - memory: In-process handlers for testing
package events
