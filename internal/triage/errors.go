package triage

import "errors"

// The pipeline's error taxonomy. Only ErrModelUnavailable may escape the
// orchestrator; the dispatch boundary retries it with a bounded budget.
// Decode and validation failures are absorbed into StatusFallback and are
// never retried (re-invoking the model does not fix a malformed answer).
var (
	// ErrModelUnavailable marks network, timeout, and auth failures against
	// the model endpoint. Retryable.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrMalformedResponse marks model text that cannot be parsed into a
	// JSON object. Not retryable.
	ErrMalformedResponse = errors.New("malformed model response")

	// ErrInvalidTriageShape marks a decoded object that violates the Triage
	// field invariants. Not retryable.
	ErrInvalidTriageShape = errors.New("invalid triage shape")

	// ErrInvalidEvent marks a submitted event whose payload cannot be used.
	// Callers should treat it as a client error, not a service failure.
	ErrInvalidEvent = errors.New("invalid event")
)
