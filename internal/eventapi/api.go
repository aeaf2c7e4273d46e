// Package eventapi exposes the HTTP intake for ticket events and a read
// endpoint for triage results.
package eventapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/sift/internal/ticket"
	"github.com/linnemanlabs/sift/internal/triage"
)

// TriageService defines the business operations eventapi needs.
type TriageService interface {
	Submit(ctx context.Context, ev *ticket.Envelope) (*triage.SubmitResult, error)
	Get(ctx context.Context, id string) (*triage.Result, bool, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    TriageService
}

// New creates a new API handler.
func New(logger log.Logger, svc TriageService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/events", a.handleIngestEvent)
		r.Get("/triage/{id}", a.handleGetTriage)
	})
}

func (a *API) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	var ev ticket.Envelope
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("sift.event.id", ev.ID),
		attribute.String("sift.event.name", ev.Name),
	)

	res, err := a.svc.Submit(r.Context(), &ev)
	if err != nil {
		if errors.Is(err, triage.ErrInvalidEvent) {
			a.logger.Warn(r.Context(), "event rejected", "event_id", ev.ID, "reason", err.Error())
			http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
			return
		}
		a.logger.Error(r.Context(), err, "failed to submit event", "event_id", ev.ID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(res)
}

func (a *API) handleGetTriage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("sift.triage.id", id))

	result, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get triage result", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	span.SetAttributes(attribute.String("sift.triage.status", string(result.Status)))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}
