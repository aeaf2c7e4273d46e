// Package claude implements the triage.Provider interface on top of the
// official Anthropic SDK.
package claude

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/sift/internal/ticket"
	"github.com/linnemanlabs/sift/internal/triage"
)

// Client calls the Messages API for a fixed model.
type Client struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// New creates a new Claude client with the given API key and model name.
// Extra request options (base URL, HTTP client) pass through to the SDK.
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: 2048,
	}
}

// Analyze sends the fixed triage instruction plus the ticket to the model and
// returns the raw response. SDK and transport failures wrap
// triage.ErrModelUnavailable so the caller's retry policy applies.
func (c *Client) Analyze(ctx context.Context, t *ticket.Ticket) (*triage.RawResponse, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: triage.SystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(triage.BuildUserPrompt(t))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: messages api: %v", triage.ErrModelUnavailable, err)
	}
	return fromSDKResponse(msg), nil
}

// fromSDKResponse flattens the SDK message into the provider-neutral raw
// shape. Text blocks become output items; other block types are skipped.
func fromSDKResponse(msg *anthropic.Message) *triage.RawResponse {
	raw := &triage.RawResponse{
		Model: string(msg.Model),
		Usage: triage.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		if block.Type != "text" {
			continue
		}
		raw.Output = append(raw.Output, triage.OutputItem{Text: block.Text})
	}
	if len(raw.Output) == 1 {
		raw.OutputText = raw.Output[0].Text
	}
	return raw
}
