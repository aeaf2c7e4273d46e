package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/sift/internal/dispatch"
	"github.com/linnemanlabs/sift/internal/ticket"
	"github.com/oklog/ulid/v2"
)

// SubmitResult is the outcome of submitting an event for triage.
type SubmitResult struct {
	ID      string
	Skipped bool
	Reason  string
}

// Service is the business boundary for triage operations. It owns dedup and
// lifecycle; execution happens through the dispatch boundary.
type Service struct {
	store      Store
	dispatcher *dispatch.Dispatcher
	logger     log.Logger
	metrics    *Metrics
}

// NewService creates a new triage service. metrics may be nil.
func NewService(store Store, dispatcher *dispatch.Dispatcher, logger log.Logger, metrics *Metrics) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    metrics,
	}
}

// Submit accepts a ticket/created event, creates the triage record, and
// dispatches the event asynchronously. Ticket creation upstream never blocks
// on triage: Submit returns as soon as the record is durable.
func (s *Service) Submit(ctx context.Context, ev *ticket.Envelope) (*SubmitResult, error) {
	if ev.Name != ticket.EventTicketCreated {
		s.submits("ignored")
		return &SubmitResult{Skipped: true, Reason: "unhandled event"}, nil
	}

	var data ticket.CreatedData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		s.submits("invalid")
		return nil, fmt.Errorf("%w: decode event data: %w", ErrInvalidEvent, err)
	}
	if data.TicketID == "" {
		s.submits("invalid")
		return nil, fmt.Errorf("%w: event data missing ticketId", ErrInvalidEvent)
	}

	// re-delivery of a known event id maps to the existing run
	if ev.ID != "" {
		if existing, ok, err := s.store.GetByEvent(ctx, ev.ID); err != nil {
			return nil, err
		} else if ok {
			s.submits("duplicate")
			return &SubmitResult{ID: existing.ID, Skipped: true, Reason: "duplicate delivery"}, nil
		}
	}

	// dedup: skip if a triage for this ticket is still in flight
	if existing, ok, err := s.store.GetByTicket(ctx, data.TicketID); err != nil {
		return nil, err
	} else if ok && !existing.Status.Terminal() {
		s.submits("duplicate")
		return &SubmitResult{ID: existing.ID, Skipped: true, Reason: "duplicate"}, nil
	}

	eventID := ev.ID
	if eventID == "" {
		eventID = ulid.Make().String()
	}

	result := &Result{
		ID:        ulid.Make().String(),
		EventID:   eventID,
		TicketID:  data.TicketID,
		Title:     data.Title,
		Status:    StatusReceived,
		CreatedAt: time.Now(),
	}
	if err := s.store.Put(ctx, result); err != nil {
		return nil, err
	}
	s.submits("accepted")

	// async dispatch - WithoutCancel so a client disconnect upstream does
	// not abort the run mid-flight
	go func() {
		dctx := context.WithoutCancel(ctx)
		err := s.dispatcher.Dispatch(dctx, dispatch.Event{
			ID:   eventID,
			Name: ev.Name,
			Data: ev.Data,
		})
		if err != nil {
			s.logger.Error(dctx, err, "event dispatch failed",
				"event_id", eventID,
				"triage_id", result.ID,
			)
		}
	}()

	return &SubmitResult{ID: result.ID}, nil
}

// Get retrieves a triage result by ID.
func (s *Service) Get(ctx context.Context, id string) (*Result, bool, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) submits(result string) {
	if s.metrics != nil {
		s.metrics.SubmitsTotal.WithLabelValues(result).Inc()
	}
}
