package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/linnemanlabs/go-core/log"
)

// Step executes durable steps for one event. A step's result is recorded in
// the ledger under (event id, step name); once recorded it is never computed
// again, so side effects inside a step happen at most once per event even
// when the event itself is delivered more than once.
type Step struct {
	eventID string
	ledger  Ledger
	policy  RetryPolicy
	logger  log.Logger
	hooks   Hooks
}

// Run executes fn as a durable step and returns its JSON-typed result. A
// previously recorded result short-circuits fn entirely. Otherwise fn runs
// under the retry policy; wrap an error with backoff.Permanent to skip
// retries. Exhausting the budget fails the step (and with it the event).
func Run[T any](ctx context.Context, s *Step, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	raw, err := s.run(ctx, name, func(ctx context.Context) ([]byte, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		out, merr := json.Marshal(v)
		if merr != nil {
			return nil, backoff.Permanent(fmt.Errorf("encode result: %w", merr))
		}
		return out, nil
	})
	if err != nil {
		return zero, err
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("step %s: decode recorded result: %w", name, err)
	}
	return out, nil
}

func (s *Step) run(ctx context.Context, name string, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	if out, ok, err := s.ledger.GetStep(ctx, s.eventID, name); err != nil {
		return nil, fmt.Errorf("step %s: ledger get: %w", name, err)
	} else if ok {
		s.logger.Info(ctx, "step result memoized, skipping execution", "step", name)
		if s.hooks.OnStep != nil {
			s.hooks.OnStep(name, true, 0)
		}
		return out, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.policy.InitialBackoff
	b.MaxInterval = s.policy.MaxBackoff

	start := time.Now()
	out, err := backoff.Retry(ctx,
		func() ([]byte, error) { return fn(ctx) },
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.policy.MaxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			s.logger.Warn(ctx, "step failed, will retry",
				"step", name,
				"error", err,
				"backoff", wait.String(),
			)
			if s.hooks.OnRetry != nil {
				s.hooks.OnRetry(name)
			}
		}),
	)
	dur := time.Since(start).Seconds()
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", name, err)
	}

	if err := s.ledger.PutStep(ctx, s.eventID, name, out); err != nil {
		return nil, fmt.Errorf("step %s: ledger put: %w", name, err)
	}
	if s.hooks.OnStep != nil {
		s.hooks.OnStep(name, false, dur)
	}
	return out, nil
}
