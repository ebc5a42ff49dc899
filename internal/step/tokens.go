package step

import (
	"github.com/pkoukk/tiktoken-go"
)

// charsPerToken is the fallback estimate when no encoder is available.
const charsPerToken = 4

// TokenCounter counts tokens with a BPE encoding, falling back to a
// character-ratio estimate when the encoding cannot be loaded (offline
// environments without the embedded vocabulary).
type TokenCounter struct {
	encoder *tiktoken.Tiktoken
}

// NewTokenCounter loads the cl100k_base encoding.
func NewTokenCounter() *TokenCounter {
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &TokenCounter{}
	}
	return &TokenCounter{encoder: encoder}
}

// Count returns the token count of text.
func (t *TokenCounter) Count(text string) int {
	if t.encoder != nil {
		return len(t.encoder.Encode(text, nil, nil))
	}
	return len(text) / charsPerToken
}
