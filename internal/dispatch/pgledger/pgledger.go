// Package pgledger provides a PostgreSQL implementation of dispatch.Ledger.
package pgledger

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/sift/internal/dispatch"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sift/internal/dispatch/pgledger")

//go:embed schema.sql
var schema string

// Ledger persists event records and step results in PostgreSQL.
type Ledger struct {
	pool *pgxpool.Pool
}

// New applies the ledger schema on the given pool and returns a ready Ledger.
func New(ctx context.Context, pool *pgxpool.Pool) (*Ledger, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply ledger schema: %w", err)
	}
	return &Ledger{pool: pool}, nil
}

// GetEvent retrieves an event record by id.
func (l *Ledger) GetEvent(ctx context.Context, id string) (*dispatch.EventRecord, bool, error) {
	ctx, span := tracer.Start(ctx, "pgledger.GetEvent", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var rec dispatch.EventRecord
	var status string
	err := l.pool.QueryRow(ctx,
		`SELECT id, name, status, attempts, last_error, created_at, updated_at
		 FROM dispatch_events WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.Name, &status, &rec.Attempts, &rec.LastError, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("get event: %w", err)
	}
	rec.Status = dispatch.EventStatus(status)
	return &rec, true, nil
}

// PutEvent upserts an event record.
func (l *Ledger) PutEvent(ctx context.Context, rec *dispatch.EventRecord) error {
	ctx, span := tracer.Start(ctx, "pgledger.PutEvent", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	_, err := l.pool.Exec(ctx,
		`INSERT INTO dispatch_events (id, name, status, attempts, last_error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
			status     = EXCLUDED.status,
			attempts   = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at`,
		rec.ID, rec.Name, string(rec.Status), rec.Attempts, rec.LastError, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("put event: %w", err)
	}
	return nil
}

// GetStep retrieves a memoized step result.
func (l *Ledger) GetStep(ctx context.Context, eventID, step string) ([]byte, bool, error) {
	ctx, span := tracer.Start(ctx, "pgledger.GetStep", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var result []byte
	err := l.pool.QueryRow(ctx,
		`SELECT result FROM dispatch_steps WHERE event_id = $1 AND step = $2`,
		eventID, step,
	).Scan(&result)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("get step: %w", err)
	}
	return result, true, nil
}

// PutStep records a step result. First write wins so a durable result is
// never overwritten by a concurrent retry.
func (l *Ledger) PutStep(ctx context.Context, eventID, step string, result []byte) error {
	ctx, span := tracer.Start(ctx, "pgledger.PutStep", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	_, err := l.pool.Exec(ctx,
		`INSERT INTO dispatch_steps (event_id, step, result)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (event_id, step) DO NOTHING`,
		eventID, step, result,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("put step: %w", err)
	}
	return nil
}
