package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/linnemanlabs/go-core/log"
)

// memLedger is a minimal in-memory Ledger for tests.
type memLedger struct {
	mu     sync.Mutex
	events map[string]EventRecord
	steps  map[string][]byte
}

func newMemLedger() *memLedger {
	return &memLedger{
		events: make(map[string]EventRecord),
		steps:  make(map[string][]byte),
	}
}

func (l *memLedger) GetEvent(_ context.Context, id string) (*EventRecord, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.events[id]
	if !ok {
		return nil, false, nil
	}
	cp := rec
	return &cp, true, nil
}

func (l *memLedger) PutEvent(_ context.Context, rec *EventRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[rec.ID] = *rec
	return nil
}

func (l *memLedger) GetStep(_ context.Context, eventID, step string) ([]byte, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out, ok := l.steps[eventID+"/"+step]
	return out, ok, nil
}

func (l *memLedger) PutStep(_ context.Context, eventID, step string, result []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := eventID + "/" + step
	if _, ok := l.steps[key]; !ok {
		l.steps[key] = result
	}
	return nil
}

func testPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func testEvent(id string) Event {
	return Event{ID: id, Name: "test/event", Data: json.RawMessage(`{}`)}
}

func TestDispatch_ValidatesEvent(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(newMemLedger(), testPolicy(), log.Nop(), Hooks{})

	if err := d.Dispatch(context.Background(), Event{Name: "x"}); err == nil {
		t.Error("expected error for missing id")
	}
	if err := d.Dispatch(context.Background(), Event{ID: "e1"}); err == nil {
		t.Error("expected error for missing name")
	}
}

func TestDispatch_UnknownHandler(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(newMemLedger(), testPolicy(), log.Nop(), Hooks{})

	err := d.Dispatch(context.Background(), testEvent("e1"))
	if err == nil || !strings.Contains(err.Error(), "no handler registered") {
		t.Errorf("err = %v, want no-handler error", err)
	}
}

func TestDispatch_CompletedEventSkipsHandler(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	d := NewDispatcher(newMemLedger(), testPolicy(), log.Nop(), Hooks{})
	d.Register("test/event", func(context.Context, Event, *Step) error {
		calls.Add(1)
		return nil
	})

	ev := testEvent("e1")
	if err := d.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("first Dispatch() = %v", err)
	}
	if err := d.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("second Dispatch() = %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("handler calls = %d, want 1", got)
	}
}

func TestDispatch_FailureRecordedAndRetriable(t *testing.T) {
	t.Parallel()

	ledger := newMemLedger()
	var calls atomic.Int64
	d := NewDispatcher(ledger, testPolicy(), log.Nop(), Hooks{})
	d.Register("test/event", func(context.Context, Event, *Step) error {
		if calls.Add(1) == 1 {
			return errors.New("transient handler failure")
		}
		return nil
	})

	ev := testEvent("e1")
	if err := d.Dispatch(context.Background(), ev); err == nil {
		t.Fatal("expected handler error")
	}

	rec, ok, _ := ledger.GetEvent(context.Background(), "e1")
	if !ok || rec.Status != EventFailed {
		t.Fatalf("record = %+v, want failed", rec)
	}
	if rec.LastError == "" {
		t.Error("expected recorded last error")
	}

	// a failed event re-runs on the next delivery
	if err := d.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("redelivery Dispatch() = %v", err)
	}
	rec, _, _ = ledger.GetEvent(context.Background(), "e1")
	if rec.Status != EventCompleted {
		t.Errorf("status = %q, want completed", rec.Status)
	}
	if rec.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", rec.Attempts)
	}
	if rec.LastError != "" {
		t.Errorf("last error = %q, want cleared", rec.LastError)
	}
}

func TestDispatch_ConcurrentSameIDCoalesces(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	started := make(chan struct{})
	release := make(chan struct{})

	d := NewDispatcher(newMemLedger(), testPolicy(), log.Nop(), Hooks{})
	d.Register("test/event", func(context.Context, Event, *Step) error {
		calls.Add(1)
		close(started)
		<-release
		return nil
	})

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Dispatch(context.Background(), testEvent("e1"))
		}()
	}

	<-started
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("handler calls = %d, want 1 (coalesced)", got)
	}
}

func TestRun_MemoizesStepResult(t *testing.T) {
	t.Parallel()

	ledger := newMemLedger()
	var stepRuns atomic.Int64

	d := NewDispatcher(ledger, testPolicy(), log.Nop(), Hooks{})
	d.Register("test/event", func(ctx context.Context, ev Event, st *Step) error {
		v, err := Run(ctx, st, "compute", func(context.Context) (int, error) {
			stepRuns.Add(1)
			return 42, nil
		})
		if err != nil {
			return err
		}
		if v != 42 {
			t.Errorf("step value = %d, want 42", v)
		}
		// fail the event so the next delivery re-enters the handler
		return errors.New("fail after step")
	})

	ev := testEvent("e1")
	_ = d.Dispatch(context.Background(), ev)
	_ = d.Dispatch(context.Background(), ev)

	if got := stepRuns.Load(); got != 1 {
		t.Errorf("step executions = %d, want 1 (memoized on redelivery)", got)
	}
}

func TestRun_RetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int64
	var retries atomic.Int64
	hooks := Hooks{OnRetry: func(string) { retries.Add(1) }}

	d := NewDispatcher(newMemLedger(), testPolicy(), log.Nop(), hooks)
	d.Register("test/event", func(ctx context.Context, ev Event, st *Step) error {
		_, err := Run(ctx, st, "flaky", func(context.Context) (string, error) {
			if attempts.Add(1) < 3 {
				return "", errors.New("transient")
			}
			return "done", nil
		})
		return err
	})

	if err := d.Dispatch(context.Background(), testEvent("e1")); err != nil {
		t.Fatalf("Dispatch() = %v, want nil", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	if got := retries.Load(); got != 2 {
		t.Errorf("retry notifications = %d, want 2", got)
	}
}

func TestRun_ExhaustsRetryBudget(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int64
	d := NewDispatcher(newMemLedger(), testPolicy(), log.Nop(), Hooks{})
	d.Register("test/event", func(ctx context.Context, ev Event, st *Step) error {
		_, err := Run(ctx, st, "doomed", func(context.Context) (string, error) {
			attempts.Add(1)
			return "", errors.New("always down")
		})
		return err
	})

	err := d.Dispatch(context.Background(), testEvent("e1"))
	if err == nil || !strings.Contains(err.Error(), "always down") {
		t.Fatalf("err = %v, want wrapped step error", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestRun_PermanentErrorSkipsRetries(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int64
	d := NewDispatcher(newMemLedger(), testPolicy(), log.Nop(), Hooks{})
	d.Register("test/event", func(ctx context.Context, ev Event, st *Step) error {
		_, err := Run(ctx, st, "fatal", func(context.Context) (string, error) {
			attempts.Add(1)
			return "", backoff.Permanent(errors.New("bad input"))
		})
		return err
	})

	if err := d.Dispatch(context.Background(), testEvent("e1")); err == nil {
		t.Fatal("expected error")
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1 (permanent)", got)
	}
}

func TestRun_StructResultRoundTrips(t *testing.T) {
	t.Parallel()

	type verdict struct {
		Summary string   `json:"summary"`
		Skills  []string `json:"skills"`
	}

	var got verdict
	d := NewDispatcher(newMemLedger(), testPolicy(), log.Nop(), Hooks{})
	d.Register("test/event", func(ctx context.Context, ev Event, st *Step) error {
		v, err := Run(ctx, st, "verdict", func(context.Context) (*verdict, error) {
			return &verdict{Summary: "ok", Skills: []string{"Go"}}, nil
		})
		if err != nil {
			return err
		}
		got = *v
		return nil
	})

	if err := d.Dispatch(context.Background(), testEvent("e1")); err != nil {
		t.Fatalf("Dispatch() = %v", err)
	}
	if got.Summary != "ok" || len(got.Skills) != 1 {
		t.Errorf("verdict = %+v", got)
	}
}

func TestDispatch_EventHooks(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	statuses := map[EventStatus]int{}
	hooks := Hooks{OnEvent: func(_ string, status EventStatus) {
		mu.Lock()
		statuses[status]++
		mu.Unlock()
	}}

	d := NewDispatcher(newMemLedger(), testPolicy(), log.Nop(), hooks)
	d.Register("test/event", func(context.Context, Event, *Step) error { return nil })
	d.Register("test/fail", func(context.Context, Event, *Step) error { return errors.New("nope") })

	_ = d.Dispatch(context.Background(), testEvent("e1"))
	_ = d.Dispatch(context.Background(), Event{ID: "e2", Name: "test/fail"})

	mu.Lock()
	defer mu.Unlock()
	if statuses[EventCompleted] != 1 || statuses[EventFailed] != 1 {
		t.Errorf("statuses = %v, want one completed and one failed", statuses)
	}
}
