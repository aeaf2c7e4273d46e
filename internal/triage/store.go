package triage

import "context"

// Store is the persistence interface for triage results.
type Store interface {
	Get(ctx context.Context, id string) (*Result, bool, error)
	GetByEvent(ctx context.Context, eventID string) (*Result, bool, error)
	GetByTicket(ctx context.Context, ticketID string) (*Result, bool, error)
	Put(ctx context.Context, result *Result) error
}

// Notifier pushes a finished triage result to an external channel. Delivery
// is best-effort; a notification failure never fails the triage.
type Notifier interface {
	Send(ctx context.Context, result *Result) error
}
