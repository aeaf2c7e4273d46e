package triage

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/linnemanlabs/sift/internal/ticket"
)

// Provider is the interface for any model backend. Analyze performs exactly
// one call to the configured endpoint with the fixed triage instruction and
// returns the raw, shape-unstable payload. Transport, timeout, and auth
// failures wrap ErrModelUnavailable.
type Provider interface {
	Analyze(ctx context.Context, t *ticket.Ticket) (*RawResponse, error)
}

// RawResponse is the opaque payload returned by a model backend. The answer
// text may live in any of several locations depending on API variant; no
// single field is guaranteed. Extract knows how to probe all of them.
type RawResponse struct {
	OutputText string       `json:"output_text,omitempty"`
	Output     []OutputItem `json:"output,omitempty"`
	Model      string       `json:"model,omitempty"`
	Usage      Usage        `json:"usage"`
}

// OutputItem is one element of a RawResponse output sequence. Text, Content,
// and Context are alternative carriers for the same payload.
type OutputItem struct {
	Text    string `json:"text,omitempty"`
	Content Blob   `json:"content,omitzero"`
	Context Blob   `json:"context,omitzero"`
}

// Blob is a text fragment that model APIs encode either as a bare JSON
// string or as an object with a "text" field.
type Blob struct {
	Text string `json:"text,omitempty"`
}

// UnmarshalJSON accepts both the string form and the object form.
func (b *Blob) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		return json.Unmarshal(trimmed, &b.Text)
	}
	type blob Blob
	var v blob
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*b = Blob(v)
	return nil
}

// Usage is the token accounting reported by the model backend.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
