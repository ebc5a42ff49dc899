package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
)

// ErrMiss is returned when no entry exists for a key.
var ErrMiss = errors.New("cache miss")

// Entry is one persisted step result. Entries are written once on a miss
// and never mutated in place; invalidation is manual only.
type Entry struct {
	Response      map[string]any `json:"response"`
	Raw           string         `json:"raw"`
	Agent         string         `json:"agent"`
	ExecutionTime float64        `json:"execution_time"`
	InputHash     string         `json:"input_hash"`
	OutputHash    string         `json:"output_hash"`
}

// Store is a content-addressed cache of step results. The key is derived
// from the step's full input, so a hit guarantees the same (step, model,
// input) triple produced the stored entry.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, key string, entry *Entry) error
}

// Key hashes the identity parts of a step invocation into a cache key.
// Parts are length-prefixed before hashing so boundaries stay unambiguous
// even when a part contains a separator itself (model ids like phi3:mini).
func Key(parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(strconv.Itoa(len(part))))
		h.Write([]byte{':'})
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Hash returns the hex-encoded sha256 of text.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
