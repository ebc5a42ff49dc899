// Package anthropic adapts the hosted Anthropic API to the pool's
// client contract.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/seralba/rpo/pkg/ports"
)

// Config holds the settings for one client connection.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Client wraps the Anthropic SDK behind the pool's client interface.
type Client struct {
	api sdk.Client
	cfg Config
}

// NewClient creates a client bound to one API key.
func NewClient(cfg Config) *Client {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	return &Client{
		api: sdk.NewClient(option.WithAPIKey(cfg.APIKey)),
		cfg: cfg,
	}
}

// Invoke sends the messages and blocks for the full response.
func (c *Client) Invoke(ctx context.Context, messages []ports.Message) (*ports.Response, error) {
	params := c.buildParams(messages)

	message, err := c.api.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic call failed: %w", err)
	}

	var content strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &ports.Response{
		Content:          content.String(),
		Model:            c.cfg.Model,
		PromptTokens:     int(message.Usage.InputTokens),
		CompletionTokens: int(message.Usage.OutputTokens),
	}, nil
}

// InvokeStream sends the messages and delivers text deltas through fn.
func (c *Client) InvokeStream(ctx context.Context, messages []ports.Message, fn ports.StreamFunc) (*ports.Response, error) {
	params := c.buildParams(messages)

	stream := c.api.Messages.NewStreaming(ctx, params)
	accumulated := sdk.Message{}

	for stream.Next() {
		event := stream.Current()
		if err := accumulated.Accumulate(event); err != nil {
			return nil, fmt.Errorf("failed to accumulate stream event: %w", err)
		}

		switch eventVariant := event.AsAny().(type) {
		case sdk.ContentBlockDeltaEvent:
			switch delta := eventVariant.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if err := fn(delta.Text); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic stream failed: %w", err)
	}

	var content strings.Builder
	for _, block := range accumulated.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &ports.Response{
		Content:          content.String(),
		Model:            c.cfg.Model,
		PromptTokens:     int(accumulated.Usage.InputTokens),
		CompletionTokens: int(accumulated.Usage.OutputTokens),
	}, nil
}

// Available reports whether a key is configured. The hosted API has no
// cheap reachability probe, so key presence stands in for availability.
func (c *Client) Available(ctx context.Context) bool {
	return c.cfg.APIKey != ""
}

// buildParams maps role-tagged messages onto the SDK request shape.
// System messages become the request system prompt.
func (c *Client) buildParams(messages []ports.Message) sdk.MessageNewParams {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.cfg.Model),
		MaxTokens: int64(c.cfg.MaxTokens),
	}

	if c.cfg.Temperature > 0 {
		params.Temperature = sdk.Float(c.cfg.Temperature)
	}

	for _, message := range messages {
		switch message.Role {
		case "system":
			params.System = append(params.System, sdk.TextBlockParam{Text: message.Content})
		case "assistant":
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(sdk.NewTextBlock(message.Content)))
		default:
			params.Messages = append(params.Messages, sdk.NewUserMessage(sdk.NewTextBlock(message.Content)))
		}
	}

	return params
}
