// Package ollama adapts a local Ollama server to the pool's client
// contract.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/ollama/ollama/api"

	"github.com/seralba/rpo/pkg/ports"
)

// Config holds the settings for one client connection.
type Config struct {
	BaseURL string
	Model   string

	// FallbackModel is used when the requested model is not installed
	// on the server.
	FallbackModel string

	Temperature float64
}

// Client wraps the Ollama API client behind the pool's client interface.
type Client struct {
	api *api.Client
	cfg Config

	resolveOnce   sync.Once
	resolvedModel string
}

// NewClient creates a client for a local Ollama server.
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base URL %q: %w", cfg.BaseURL, err)
	}

	return &Client{
		api: api.NewClient(base, http.DefaultClient),
		cfg: cfg,
	}, nil
}

// Invoke sends the messages and blocks for the full response.
func (c *Client) Invoke(ctx context.Context, messages []ports.Message) (*ports.Response, error) {
	model := c.model(ctx)
	stream := false

	var final api.ChatResponse
	err := c.api.Chat(ctx, &api.ChatRequest{
		Model:    model,
		Messages: toAPIMessages(messages),
		Stream:   &stream,
		Options:  c.options(),
	}, func(resp api.ChatResponse) error {
		final = resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama call failed: %w", err)
	}

	return &ports.Response{
		Content:          final.Message.Content,
		Model:            model,
		PromptTokens:     final.PromptEvalCount,
		CompletionTokens: final.EvalCount,
	}, nil
}

// InvokeStream sends the messages and delivers content chunks through fn.
func (c *Client) InvokeStream(ctx context.Context, messages []ports.Message, fn ports.StreamFunc) (*ports.Response, error) {
	model := c.model(ctx)
	stream := true

	var content strings.Builder
	var final api.ChatResponse
	err := c.api.Chat(ctx, &api.ChatRequest{
		Model:    model,
		Messages: toAPIMessages(messages),
		Stream:   &stream,
		Options:  c.options(),
	}, func(resp api.ChatResponse) error {
		if resp.Message.Content != "" {
			content.WriteString(resp.Message.Content)
			if err := fn(resp.Message.Content); err != nil {
				return err
			}
		}
		if resp.Done {
			final = resp
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama stream failed: %w", err)
	}

	return &ports.Response{
		Content:          content.String(),
		Model:            model,
		PromptTokens:     final.PromptEvalCount,
		CompletionTokens: final.EvalCount,
	}, nil
}

// Available reports whether the Ollama server responds to a heartbeat.
func (c *Client) Available(ctx context.Context) bool {
	return c.api.Heartbeat(ctx) == nil
}

// model resolves the model to use, once. If the requested model is not
// installed on the server the configured fallback is used when present;
// otherwise the requested model is attempted anyway, since the server may
// auto-pull it.
func (c *Client) model(ctx context.Context) string {
	c.resolveOnce.Do(func() {
		c.resolvedModel = c.cfg.Model

		installed, err := c.installedModels(ctx)
		if err != nil {
			return
		}

		if installed[c.cfg.Model] {
			return
		}
		if c.cfg.FallbackModel != "" && installed[c.cfg.FallbackModel] {
			c.resolvedModel = c.cfg.FallbackModel
		}
	})

	return c.resolvedModel
}

// installedModels lists the models installed on the server.
func (c *Client) installedModels(ctx context.Context) (map[string]bool, error) {
	list, err := c.api.List(ctx)
	if err != nil {
		return nil, err
	}

	installed := make(map[string]bool, len(list.Models))
	for _, model := range list.Models {
		installed[model.Name] = true
	}
	return installed, nil
}

func (c *Client) options() map[string]any {
	return map[string]any{"temperature": c.cfg.Temperature}
}

func toAPIMessages(messages []ports.Message) []api.Message {
	converted := make([]api.Message, 0, len(messages))
	for _, message := range messages {
		converted = append(converted, api.Message{
			Role:    message.Role,
			Content: message.Content,
		})
	}
	return converted
}
