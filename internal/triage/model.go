package triage

import "time"

// Status tracks where a triage run is in its lifecycle.
type Status string

const (
	// StatusReceived means the event was accepted, triage not yet started
	StatusReceived Status = "received"

	// StatusAnalyzing means the model call is in flight (or retrying)
	StatusAnalyzing Status = "analyzing"

	// StatusDecoding means the raw model output is being extracted and parsed
	StatusDecoding Status = "decoding"

	// StatusCompleted means a validated triage was produced
	StatusCompleted Status = "completed"

	// StatusFallback means no usable triage could be recovered; downstream
	// assignment falls back to its manual/default policy
	StatusFallback Status = "fallback_completed"

	// StatusFailed means the model call failed and the retry budget is exhausted
	StatusFailed Status = "failed"
)

// Terminal reports whether a status is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFallback || s == StatusFailed
}

// Priority classifies how urgent a ticket is.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ValidPriority reports whether p is one of the three allowed values.
func ValidPriority(p Priority) bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// Triage is the validated model verdict for one ticket. If non-nil, Summary
// and HelpfulNotes are non-empty, Priority is one of the enum values, and
// RelatedSkills contains only strings (possibly none).
type Triage struct {
	Summary       string   `json:"summary"`
	Priority      Priority `json:"priority"`
	HelpfulNotes  string   `json:"helpfulNotes"`
	RelatedSkills []string `json:"relatedSkills"`
}

// Result is the record of one triage run.
type Result struct {
	ID             string    `json:"id"`
	EventID        string    `json:"event_id"`
	TicketID       string    `json:"ticket_id"`
	Title          string    `json:"title"`
	Status         Status    `json:"status"`
	Triage         *Triage   `json:"triage,omitempty"`
	FallbackReason string    `json:"fallback_reason,omitempty"`
	Error          string    `json:"error,omitempty"`
	Model          string    `json:"model,omitempty"`
	InputTokens    int       `json:"input_tokens,omitempty"`
	OutputTokens   int       `json:"output_tokens,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	CompletedAt    time.Time `json:"completed_at,omitempty"`
	Duration       float64   `json:"duration_seconds,omitempty"`
}
