// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/sift/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sift/internal/triage/pgstore")

//go:embed schema.sql
var schema string

const resultColumns = `id, event_id, ticket_id, title, status, triage, fallback_reason,
	error, model, input_tokens, output_tokens, created_at, completed_at, duration_secs`

// Store persists triage results in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the triage schema on the given pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply triage schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Get retrieves a triage result by its ID.
func (s *Store) Get(ctx context.Context, id string) (*triage.Result, bool, error) {
	return s.getWhere(ctx, "id = $1", id)
}

// GetByEvent retrieves the triage result created for an event ID.
func (s *Store) GetByEvent(ctx context.Context, eventID string) (*triage.Result, bool, error) {
	return s.getWhere(ctx, "event_id = $1", eventID)
}

// GetByTicket retrieves the most recent triage result for a ticket ID.
func (s *Store) GetByTicket(ctx context.Context, ticketID string) (*triage.Result, bool, error) {
	return s.getWhere(ctx, "ticket_id = $1 ORDER BY created_at DESC LIMIT 1", ticketID)
}

func (s *Store) getWhere(ctx context.Context, where string, arg any) (*triage.Result, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	row := s.pool.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM triage_runs WHERE `+where, arg)

	var r triage.Result
	var status string
	var triageJSON []byte
	var completedAt *time.Time
	err := row.Scan(&r.ID, &r.EventID, &r.TicketID, &r.Title, &status, &triageJSON,
		&r.FallbackReason, &r.Error, &r.Model, &r.InputTokens, &r.OutputTokens,
		&r.CreatedAt, &completedAt, &r.Duration)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("get triage result: %w", err)
	}
	r.Status = triage.Status(status)
	if completedAt != nil {
		r.CompletedAt = *completedAt
	}
	if len(triageJSON) > 0 {
		var t triage.Triage
		if err := json.Unmarshal(triageJSON, &t); err != nil {
			return nil, false, fmt.Errorf("decode stored triage: %w", err)
		}
		r.Triage = &t
	}
	return &r, true, nil
}

// Put upserts a triage result.
func (s *Store) Put(ctx context.Context, r *triage.Result) error {
	ctx, span := tracer.Start(ctx, "pgstore.Put", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	var triageJSON []byte
	if r.Triage != nil {
		var err error
		triageJSON, err = json.Marshal(r.Triage)
		if err != nil {
			return fmt.Errorf("encode triage: %w", err)
		}
	}
	var completedAt *time.Time
	if !r.CompletedAt.IsZero() {
		completedAt = &r.CompletedAt
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO triage_runs (`+resultColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (id) DO UPDATE SET
			status          = EXCLUDED.status,
			triage          = EXCLUDED.triage,
			fallback_reason = EXCLUDED.fallback_reason,
			error           = EXCLUDED.error,
			model           = EXCLUDED.model,
			input_tokens    = EXCLUDED.input_tokens,
			output_tokens   = EXCLUDED.output_tokens,
			completed_at    = EXCLUDED.completed_at,
			duration_secs   = EXCLUDED.duration_secs`,
		r.ID, r.EventID, r.TicketID, r.Title, string(r.Status), triageJSON,
		r.FallbackReason, r.Error, r.Model, r.InputTokens, r.OutputTokens,
		r.CreatedAt, completedAt, r.Duration,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("put triage result: %w", err)
	}
	return nil
}
