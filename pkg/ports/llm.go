// Package ports defines the contracts between the application core and
// its adapters.
package ports

import "context"

// Message is one role-tagged message in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response is the result of one inference call.
type Response struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

// StreamFunc receives incremental content chunks during a streaming call.
type StreamFunc func(chunk string) error

// LLMClient is an invocable backend connection.
type LLMClient interface {
	// Invoke sends the messages and blocks for the full response.
	Invoke(ctx context.Context, messages []Message) (*Response, error)

	// InvokeStream sends the messages and delivers content incrementally.
	// The returned response carries the accumulated content.
	InvokeStream(ctx context.Context, messages []Message, fn StreamFunc) (*Response, error)

	// Available reports whether the backend is reachable.
	Available(ctx context.Context) bool
}
