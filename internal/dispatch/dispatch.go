// Package dispatch is sift's event execution boundary. It delivers events to
// registered handlers with at-least-once semantics: step results are recorded
// in a Ledger so re-delivery of an event never repeats a step whose result is
// already durable, failed steps retry under a bounded backoff policy, and no
// two executions of the same event id run concurrently.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/linnemanlabs/go-core/log"
)

// Event is one unit of delivery. ID is the idempotency key.
type Event struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

// EventStatus tracks an event through the ledger.
type EventStatus string

const (
	// EventRunning means a handler execution is in flight
	EventRunning EventStatus = "running"

	// EventCompleted means the handler finished; re-delivery is a no-op
	EventCompleted EventStatus = "completed"

	// EventFailed means the handler gave up after the retry budget; the
	// record stays in the ledger for inspection or alerting
	EventFailed EventStatus = "failed"
)

// EventRecord is the durable state of one event in the ledger.
type EventRecord struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Status    EventStatus `json:"status"`
	Attempts  int         `json:"attempts"`
	LastError string      `json:"last_error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Ledger is the persistence interface for event state and memoized step
// results. The ledger is the only shared state in the pipeline.
type Ledger interface {
	GetEvent(ctx context.Context, id string) (*EventRecord, bool, error)
	PutEvent(ctx context.Context, rec *EventRecord) error
	GetStep(ctx context.Context, eventID, step string) ([]byte, bool, error)
	PutStep(ctx context.Context, eventID, step string, result []byte) error
}

// Handler processes one event. Steps executed through the Step runner are
// memoized and retried per the dispatcher's policy; an error returned here
// marks the whole event failed.
type Handler func(ctx context.Context, ev Event, step *Step) error

// RetryPolicy bounds how steps are retried before an event is abandoned.
type RetryPolicy struct {
	// MaxAttempts is the total tries per step, first attempt included.
	MaxAttempts uint
	// InitialBackoff seeds the exponential backoff between attempts.
	InitialBackoff time.Duration
	// MaxBackoff caps the interval between attempts.
	MaxBackoff time.Duration
}

// DefaultRetryPolicy mirrors the production defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

// Hooks receive dispatch lifecycle notifications (wired to Prometheus by main).
type Hooks struct {
	OnEvent func(name string, status EventStatus)
	OnStep  func(step string, memoized bool, duration float64)
	OnRetry func(step string)
}

// Dispatcher routes events to handlers and owns the idempotency/retry ledger
// contract.
type Dispatcher struct {
	ledger   Ledger
	policy   RetryPolicy
	handlers map[string]Handler
	logger   log.Logger
	hooks    Hooks
	group    singleflight.Group
}

// NewDispatcher creates a dispatcher over the given ledger and retry policy.
func NewDispatcher(ledger Ledger, policy RetryPolicy, logger log.Logger, hooks Hooks) *Dispatcher {
	if logger == nil {
		logger = log.Nop()
	}
	if policy.MaxAttempts == 0 {
		policy = DefaultRetryPolicy()
	}
	return &Dispatcher{
		ledger:   ledger,
		policy:   policy,
		handlers: make(map[string]Handler),
		logger:   logger,
		hooks:    hooks,
	}
}

// Register binds a handler to an event name. Not safe for concurrent use
// with Dispatch; register everything during startup.
func (d *Dispatcher) Register(name string, h Handler) {
	d.handlers[name] = h
}

// Dispatch runs the handler for ev to completion. Concurrent deliveries of
// the same event id coalesce into a single execution; re-delivery of a
// completed event returns nil without invoking the handler.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		return fmt.Errorf("dispatch: event id is required")
	}
	if ev.Name == "" {
		return fmt.Errorf("dispatch: event name is required")
	}
	_, err, _ := d.group.Do(ev.ID, func() (any, error) {
		return nil, d.run(ctx, ev)
	})
	return err
}

func (d *Dispatcher) run(ctx context.Context, ev Event) error {
	L := d.logger.With("event_id", ev.ID, "event", ev.Name)

	rec, ok, err := d.ledger.GetEvent(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("dispatch: get event: %w", err)
	}
	if ok && rec.Status == EventCompleted {
		L.Info(ctx, "duplicate delivery of completed event, skipping")
		return nil
	}

	h, registered := d.handlers[ev.Name]
	if !registered {
		return fmt.Errorf("dispatch: no handler registered for event %q", ev.Name)
	}

	now := time.Now()
	if !ok {
		rec = &EventRecord{ID: ev.ID, Name: ev.Name, CreatedAt: now}
	}
	rec.Status = EventRunning
	rec.Attempts++
	rec.UpdatedAt = now
	if err := d.ledger.PutEvent(ctx, rec); err != nil {
		return fmt.Errorf("dispatch: record event start: %w", err)
	}

	st := &Step{
		eventID: ev.ID,
		ledger:  d.ledger,
		policy:  d.policy,
		logger:  L,
		hooks:   d.hooks,
	}

	if herr := h(ctx, ev, st); herr != nil {
		rec.Status = EventFailed
		rec.LastError = herr.Error()
		rec.UpdatedAt = time.Now()
		if perr := d.ledger.PutEvent(ctx, rec); perr != nil {
			L.Error(ctx, perr, "failed to record event failure")
		}
		d.emit(ev.Name, EventFailed)
		L.Error(ctx, herr, "event failed", "attempts", rec.Attempts)
		return herr
	}

	rec.Status = EventCompleted
	rec.LastError = ""
	rec.UpdatedAt = time.Now()
	if err := d.ledger.PutEvent(ctx, rec); err != nil {
		return fmt.Errorf("dispatch: record event completion: %w", err)
	}
	d.emit(ev.Name, EventCompleted)
	return nil
}

func (d *Dispatcher) emit(name string, status EventStatus) {
	if d.hooks.OnEvent != nil {
		d.hooks.OnEvent(name, status)
	}
}
