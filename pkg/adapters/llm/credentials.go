package llm

import (
	"strings"
	"sync"
)

// CredentialSet holds the ordered API keys for one backend kind, the
// round-robin rotation cursor, and per-key rate-limit counters. The cursor
// advances on every handle construction, not per call, so load spreads
// across keys even when no errors occur.
type CredentialSet struct {
	keys   []string
	cursor int
	hits   map[int]int
	mu     sync.Mutex
}

// NewCredentialSet builds a credential set, dropping empty keys.
func NewCredentialSet(keys []string) *CredentialSet {
	filtered := make([]string, 0, len(keys))
	for _, key := range keys {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			filtered = append(filtered, trimmed)
		}
	}

	return &CredentialSet{
		keys: filtered,
		hits: make(map[int]int),
	}
}

// Next returns the current key and its index, then advances the cursor.
func (c *CredentialSet) Next() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.keys) == 0 {
		return -1, ""
	}

	index := c.cursor
	c.cursor = (c.cursor + 1) % len(c.keys)
	return index, c.keys[index]
}

// RecordRateLimit counts a rate-limit hit against a key.
func (c *CredentialSet) RecordRateLimit(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hits[index]++
}

// Len returns the number of configured keys.
func (c *CredentialSet) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.keys)
}

// Hits returns a copy of the per-key rate-limit counters.
func (c *CredentialSet) Hits() map[int]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	hits := make(map[int]int, len(c.hits))
	for index, count := range c.hits {
		hits[index] = count
	}
	return hits
}

// ActiveIndex returns the cursor position of the next key to be handed out.
func (c *CredentialSet) ActiveIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cursor
}
