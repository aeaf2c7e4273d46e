// Package memledger provides an in-memory implementation of dispatch.Ledger.
package memledger

import (
	"context"
	"sync"

	"github.com/linnemanlabs/sift/internal/dispatch"
)

// Ledger holds event records and step results in memory. Suitable for
// dev/testing; memoization does not survive a restart.
type Ledger struct {
	mu     sync.RWMutex
	events map[string]*dispatch.EventRecord
	steps  map[string][]byte // event id + "\x00" + step -> result
}

// New initializes a new in-memory Ledger.
func New() *Ledger {
	return &Ledger{
		events: make(map[string]*dispatch.EventRecord),
		steps:  make(map[string][]byte),
	}
}

// GetEvent retrieves an event record by id. Returns a copy.
func (l *Ledger) GetEvent(_ context.Context, id string) (*dispatch.EventRecord, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.events[id]
	if !ok {
		return nil, false, nil
	}
	cp := *rec
	return &cp, true, nil
}

// PutEvent stores a copy of the event record.
func (l *Ledger) PutEvent(_ context.Context, rec *dispatch.EventRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *rec
	l.events[rec.ID] = &cp
	return nil
}

// GetStep retrieves a memoized step result.
func (l *Ledger) GetStep(_ context.Context, eventID, step string) ([]byte, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out, ok := l.steps[stepKey(eventID, step)]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(out))
	copy(cp, out)
	return cp, true, nil
}

// PutStep records a step result. First write wins; a durable result is never
// overwritten.
func (l *Ledger) PutStep(_ context.Context, eventID, step string, result []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := stepKey(eventID, step)
	if _, ok := l.steps[key]; ok {
		return nil
	}
	cp := make([]byte, len(result))
	copy(cp, result)
	l.steps[key] = cp
	return nil
}

func stepKey(eventID, step string) string {
	return eventID + "\x00" + step
}
