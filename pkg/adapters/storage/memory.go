package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MemoryStore implements SessionStore with an in-process map. It is the
// fallback backing when Redis is unreachable at startup, and the backing
// used by tests. Expiry is not enforced; entries live until deleted.
type MemoryStore struct {
	states map[string]map[string]any
	mu     sync.RWMutex
}

// NewMemoryStore creates an in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]map[string]any),
	}
}

// Get returns the state for a session.
func (s *MemoryStore) Get(ctx context.Context, sessionID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	return cloneState(state), nil
}

// Set replaces the full state for a session.
func (s *MemoryStore) Set(ctx context.Context, sessionID string, state map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[sessionID] = cloneState(state)
	return nil
}

// MergeUpdate merges a partial update into the stored state.
func (s *MemoryStore) MergeUpdate(ctx context.Context, sessionID string, partial map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.states[sessionID]
	if !ok {
		current = make(map[string]any)
		s.states[sessionID] = current
	}

	for key, value := range partial {
		current[key] = value
	}

	return cloneState(current), nil
}

// Delete removes the state for a session.
func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, sessionID)
	return nil
}

// cloneState copies the top-level map so callers cannot mutate stored state.
func cloneState(state map[string]any) map[string]any {
	cloned := make(map[string]any, len(state))
	for key, value := range state {
		cloned[key] = value
	}
	return cloned
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
