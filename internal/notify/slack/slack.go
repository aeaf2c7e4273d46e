// Package slack sends triage notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/linnemanlabs/sift/internal/triage"
)

const (
	maxNotesLen = 3000
	httpTimeout = 10 * time.Second
)

// Notifier sends triage results to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Send posts a triage result to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, result *triage.Result) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(result)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(r *triage.Result) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(r),
			{"type": "divider"},
			fieldsBlock(r),
			{"type": "divider"},
			summaryBlock(r),
			{"type": "divider"},
			contextBlock(r),
		},
	}
}

func headerBlock(r *triage.Result) map[string]any {
	emoji := statusEmoji(r)
	title := "Triage Complete"
	switch r.Status {
	case triage.StatusFailed:
		title = "Triage Failed"
	case triage.StatusFallback:
		title = "Triage Fallback"
	}
	text := fmt.Sprintf("%s %s: %s", emoji, title, r.Title)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(r *triage.Result) map[string]any {
	priority := "n/a"
	skills := "_none_"
	if r.Triage != nil {
		priority = string(r.Triage.Priority)
		if len(r.Triage.RelatedSkills) > 0 {
			skills = strings.Join(r.Triage.RelatedSkills, ", ")
		}
	}

	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Status:* %s", r.Status),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Priority:* %s", priority),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Duration:* %.1fs", r.Duration),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Model:* %s", shortModel(r.Model)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Tokens:* %d", r.InputTokens+r.OutputTokens),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Skills:* %s", skills),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func summaryBlock(r *triage.Result) map[string]any {
	var text string
	switch {
	case r.Triage != nil:
		text = fmt.Sprintf("*Summary*\n\n%s\n\n*Notes*\n\n%s",
			r.Triage.Summary, truncate(r.Triage.HelpfulNotes, maxNotesLen))
	case r.FallbackReason != "":
		text = fmt.Sprintf("_No usable triage (%s); ticket routed to the default queue._", r.FallbackReason)
	case r.Error != "":
		text = fmt.Sprintf("_Triage failed: %s_", truncate(r.Error, maxNotesLen))
	default:
		text = "_No triage available._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text,
		},
	}
}

func contextBlock(r *triage.Result) map[string]any {
	ts := r.CompletedAt
	if ts.IsZero() {
		ts = r.CreatedAt
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("sift • triage %s • ticket %s • %s",
				r.ID, r.TicketID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func statusEmoji(r *triage.Result) string {
	if r.Status == triage.StatusFailed {
		return "\U0001f534" // red circle
	}
	if r.Triage == nil {
		return "\U0001f7e1" // yellow circle
	}
	switch r.Triage.Priority {
	case triage.PriorityHigh:
		return "\U0001f534" // red circle
	case triage.PriorityMedium:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

// dateModelRe matches model names ending with a YYYYMMDD date suffix.
var dateModelRe = regexp.MustCompile(`-\d{8}$`)

func shortModel(model string) string {
	return dateModelRe.ReplaceAllString(model, "")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
