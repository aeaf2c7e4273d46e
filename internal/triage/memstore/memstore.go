// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"sync"

	"github.com/linnemanlabs/sift/internal/triage"
)

// Store holds triage results in memory. Suitable for dev/testing.
type Store struct {
	mu       sync.RWMutex
	results  map[string]*triage.Result // triage ID -> result
	byEvent  map[string]string         // event ID -> triage ID
	byTicket map[string]string         // ticket ID -> latest triage ID
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		results:  make(map[string]*triage.Result),
		byEvent:  make(map[string]string),
		byTicket: make(map[string]string),
	}
}

// Get retrieves a triage result by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*triage.Result, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyOf(id)
}

// GetByEvent retrieves the triage result created for an event ID.
func (s *Store) GetByEvent(_ context.Context, eventID string) (*triage.Result, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEvent[eventID]
	if !ok {
		return nil, false, nil
	}
	return s.copyOf(id)
}

// GetByTicket retrieves the most recent triage result for a ticket ID, for
// deduplication.
func (s *Store) GetByTicket(_ context.Context, ticketID string) (*triage.Result, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byTicket[ticketID]
	if !ok {
		return nil, false, nil
	}
	return s.copyOf(id)
}

// Put stores a copy of the triage result.
func (s *Store) Put(_ context.Context, r *triage.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.results[r.ID] = &cp
	if r.EventID != "" {
		s.byEvent[r.EventID] = r.ID
	}
	if r.TicketID != "" {
		s.byTicket[r.TicketID] = r.ID
	}
	return nil
}

func (s *Store) copyOf(id string) (*triage.Result, bool, error) {
	r, ok := s.results[id]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}
