package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/sift/internal/dispatch"
	"github.com/linnemanlabs/sift/internal/ticket"
	"github.com/oklog/ulid/v2"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sift/internal/triage")

// EngineHooks receive engine lifecycle notifications (wired to Prometheus by main).
type EngineHooks struct {
	OnModelCall func(inputTokens, outputTokens int, duration float64)
	OnDecode    func(outcome string)
	OnComplete  func(e *CompleteEvent)
}

// CompleteEvent summarizes one finished triage run for the metrics hooks.
type CompleteEvent struct {
	Status    Status
	Model     string
	Duration  float64
	TokensIn  int
	TokensOut int
}

// Engine is the triage orchestrator. Invoked by the dispatch boundary for
// each ticket/created event, it drives analyze -> extract -> decode ->
// validate as durable steps and converts every decode or validation failure
// into an explicit fallback result. The only error it lets escape is a model
// call failure, so the dispatcher can retry it.
type Engine struct {
	provider Provider
	store    Store
	notifier Notifier
	logger   log.Logger
	hooks    EngineHooks
}

// NewEngine creates a new triage engine with the given dependencies.
// notifier may be nil.
func NewEngine(provider Provider, store Store, notifier Notifier, logger log.Logger, hooks EngineHooks) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{
		provider: provider,
		store:    store,
		notifier: notifier,
		logger:   logger,
		hooks:    hooks,
	}
}

// decodeOutcome is the memoized result of the decode step.
type decodeOutcome struct {
	Triage   *Triage `json:"triage,omitempty"`
	Fallback bool    `json:"fallback"`
	Reason   string  `json:"reason,omitempty"`
}

// HandleTicketCreated is the dispatch handler for ticket/created events.
func (e *Engine) HandleTicketCreated(ctx context.Context, ev dispatch.Event, st *dispatch.Step) error {
	var data ticket.CreatedData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return fmt.Errorf("decode ticket/created payload: %w", err)
	}
	tk := data.Ticket()
	start := time.Now()

	result, ok, err := e.store.GetByEvent(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("load triage for event: %w", err)
	}
	if !ok {
		// Submit creates the row before dispatching; tolerate deliveries
		// that bypassed it (e.g. replay from the ledger).
		result = &Result{
			ID:        ulid.Make().String(),
			EventID:   ev.ID,
			TicketID:  tk.ID,
			Title:     tk.Title,
			Status:    StatusReceived,
			CreatedAt: start,
		}
	}

	L := e.logger.With(
		"triage_id", result.ID,
		"ticket_id", tk.ID,
		"event_id", ev.ID,
	)

	if !tk.Valid() {
		// upstream validation is the ticket service's job; never call the
		// model for a ticket it would reject
		L.Warn(ctx, "ticket missing required fields, skipping model call")
		e.emitDecode("empty_ticket")
		outcome := &decodeOutcome{Fallback: true, Reason: "ticket missing title or description"}
		return e.finalize(ctx, st, L, result, outcome, start)
	}

	result.Status = StatusAnalyzing
	if err := e.store.Put(ctx, result); err != nil {
		return fmt.Errorf("persist analyzing status: %w", err)
	}

	raw, err := dispatch.Run(ctx, st, "analyze", func(ctx context.Context) (*RawResponse, error) {
		return e.analyze(ctx, result.ID, tk)
	})
	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		stamp(result, start)
		if perr := e.store.Put(ctx, result); perr != nil {
			L.Error(ctx, perr, "failed to persist failed triage")
		}
		e.emitComplete(result)
		L.Error(ctx, err, "model analysis failed, retry budget exhausted")
		return err
	}

	result.Model = raw.Model
	result.InputTokens = raw.Usage.InputTokens
	result.OutputTokens = raw.Usage.OutputTokens
	result.Status = StatusDecoding
	if err := e.store.Put(ctx, result); err != nil {
		return fmt.Errorf("persist decoding status: %w", err)
	}

	outcome, err := dispatch.Run(ctx, st, "decode", func(ctx context.Context) (*decodeOutcome, error) {
		return e.decode(ctx, L, result.ID, raw), nil
	})
	if err != nil {
		return err
	}

	return e.finalize(ctx, st, L, result, outcome, start)
}

// analyze performs the single model call for one ticket.
func (e *Engine) analyze(ctx context.Context, triageID string, tk *ticket.Ticket) (*RawResponse, error) {
	ctx, span := tracer.Start(ctx, "llm.analyze", trace.WithAttributes(
		attribute.String("gen_ai.operation.name", "llm.analyze"),
		attribute.String("sift.triage.id", triageID),
		attribute.String("sift.ticket.id", tk.ID),
	))
	defer span.End()

	callStart := time.Now()
	resp, err := e.provider.Analyze(ctx, tk)
	dur := time.Since(callStart).Seconds()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.Int("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
	)
	if e.hooks.OnModelCall != nil {
		e.hooks.OnModelCall(resp.Usage.InputTokens, resp.Usage.OutputTokens, dur)
	}
	return resp, nil
}

// decode runs extraction, parsing, and validation. It never fails: every
// problem becomes a fallback outcome with a recorded reason.
func (e *Engine) decode(ctx context.Context, L log.Logger, triageID string, raw *RawResponse) *decodeOutcome {
	ctx, span := tracer.Start(ctx, "triage.decode", trace.WithAttributes(
		attribute.String("sift.triage.id", triageID),
	))
	defer span.End()

	text := Extract(raw)
	if text == "" {
		L.Warn(ctx, "no text found in model response")
		span.SetAttributes(attribute.String("sift.decode.outcome", "empty"))
		e.emitDecode("empty")
		return &decodeOutcome{Fallback: true, Reason: "no text in model response"}
	}

	obj, err := DecodeObject(text)
	if err != nil {
		L.Warn(ctx, "failed to parse JSON from model response", "error", err)
		span.SetAttributes(attribute.String("sift.decode.outcome", "malformed"))
		e.emitDecode("malformed")
		return &decodeOutcome{Fallback: true, Reason: err.Error()}
	}

	tr, err := ValidateTriage(obj)
	if err != nil {
		L.Warn(ctx, "model response failed triage validation", "error", err)
		span.SetAttributes(attribute.String("sift.decode.outcome", "invalid_shape"))
		e.emitDecode("invalid_shape")
		return &decodeOutcome{Fallback: true, Reason: err.Error()}
	}

	span.SetAttributes(
		attribute.String("sift.decode.outcome", "ok"),
		attribute.String("sift.triage.priority", string(tr.Priority)),
	)
	e.emitDecode("ok")
	return &decodeOutcome{Triage: tr}
}

// finalize converts the decode outcome into a terminal result, persists it,
// and notifies, each as a durable step.
func (e *Engine) finalize(ctx context.Context, st *dispatch.Step, L log.Logger, result *Result, outcome *decodeOutcome, start time.Time) error {
	if outcome.Fallback {
		result.Status = StatusFallback
		result.FallbackReason = outcome.Reason
		result.Triage = nil
	} else {
		result.Status = StatusCompleted
		result.Triage = outcome.Triage
	}
	stamp(result, start)

	if _, err := dispatch.Run(ctx, st, "persist", func(ctx context.Context) (bool, error) {
		if err := e.store.Put(ctx, result); err != nil {
			return false, err
		}
		return true, nil
	}); err != nil {
		return err
	}
	e.emitComplete(result)

	if e.notifier != nil {
		if _, err := dispatch.Run(ctx, st, "notify", func(ctx context.Context) (bool, error) {
			if nerr := e.notifier.Send(ctx, result); nerr != nil {
				// best-effort: a notification failure never fails the triage
				L.Warn(ctx, "triage notification failed", "error", nerr)
				return false, nil
			}
			return true, nil
		}); err != nil {
			return err
		}
	}

	L.Info(ctx, "triage finished",
		"status", result.Status,
		"duration", result.Duration,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
	)
	return nil
}

func stamp(r *Result, start time.Time) {
	r.CompletedAt = time.Now()
	r.Duration = time.Since(start).Seconds()
}

func (e *Engine) emitDecode(outcome string) {
	if e.hooks.OnDecode != nil {
		e.hooks.OnDecode(outcome)
	}
}

func (e *Engine) emitComplete(r *Result) {
	if e.hooks.OnComplete != nil {
		e.hooks.OnComplete(&CompleteEvent{
			Status:    r.Status,
			Model:     r.Model,
			Duration:  r.Duration,
			TokensIn:  r.InputTokens,
			TokensOut: r.OutputTokens,
		})
	}
}
