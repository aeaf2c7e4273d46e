// Package gemini implements the triage.Provider interface against the
// Google Generative Language API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/sift/internal/ticket"
	"github.com/linnemanlabs/sift/internal/triage"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Client calls the generateContent endpoint for a fixed model.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL. Used in tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithTimeout overrides the per-call HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a new Gemini API client with the given API key and model name.
func New(apiKey, model string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type request struct {
	SystemInstruction *content  `json:"system_instruction,omitempty"`
	Contents          []content `json:"contents"`
}

type response struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

// Analyze sends the fixed triage instruction plus the ticket to the model and
// returns the raw response. Every failure up to and including a non-200 status
// wraps triage.ErrModelUnavailable so the caller's retry policy applies.
func (c *Client) Analyze(ctx context.Context, t *ticket.Ticket) (*triage.RawResponse, error) {
	body, err := json.Marshal(request{
		SystemInstruction: &content{Parts: []part{{Text: triage.SystemPrompt}}},
		Contents: []content{{
			Role:  "user",
			Parts: []part{{Text: triage.BuildUserPrompt(t)}},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: send request: %v", triage.ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", triage.ErrModelUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: gemini api error %d: %s",
			triage.ErrModelUnavailable, resp.StatusCode, string(respBody))
	}

	var out response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("%w: unmarshal response: %v", triage.ErrModelUnavailable, err)
	}

	return fromAPIResponse(&out, c.model), nil
}

// fromAPIResponse flattens the candidates into the provider-neutral raw
// shape. Each candidate contributes one output item with its parts joined.
func fromAPIResponse(resp *response, model string) *triage.RawResponse {
	raw := &triage.RawResponse{
		Model: model,
		Usage: triage.Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		},
	}
	if resp.ModelVersion != "" {
		raw.Model = resp.ModelVersion
	}
	for _, cand := range resp.Candidates {
		var sb strings.Builder
		for _, p := range cand.Content.Parts {
			sb.WriteString(p.Text)
		}
		raw.Output = append(raw.Output, triage.OutputItem{Text: sb.String()})
	}
	if len(raw.Output) == 1 {
		raw.OutputText = raw.Output[0].Text
	}
	return raw
}
