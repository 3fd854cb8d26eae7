// Package memstore provides an in-memory risk event repository used by tests
// and local development.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowsentry/flowsentry/internal/forecast"
	"github.com/flowsentry/flowsentry/internal/risk"
)

type naturalKey struct {
	tenantID uuid.UUID
	kind     risk.Kind
	day      string
}

type Store struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]risk.Event
	byKey map[naturalKey]uuid.UUID
}

func New() *Store {
	return &Store{
		byID:  make(map[uuid.UUID]risk.Event),
		byKey: make(map[naturalKey]uuid.UUID),
	}
}

func keyOf(ev *risk.Event) naturalKey {
	return naturalKey{
		tenantID: ev.TenantID,
		kind:     ev.Kind,
		day:      forecast.Day(ev.DetectedOn).Format(time.DateOnly),
	}
}

func (s *Store) InsertEvent(_ context.Context, ev *risk.Event) (*risk.Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(ev)

	if id, exists := s.byKey[k]; exists {
		existing := s.byID[id]
		return &existing, false, nil
	}

	ev.ID = uuid.New()
	ev.DetectedAt = time.Now().UTC()
	s.byID[ev.ID] = *ev
	s.byKey[k] = ev.ID

	return ev, true, nil
}

func (s *Store) GetEvent(_ context.Context, id uuid.UUID) (*risk.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.byID[id]
	if !ok {
		return nil, risk.ErrNotFound
	}

	return &ev, nil
}

func (s *Store) ListEvents(_ context.Context, tenantID uuid.UUID, since time.Time) ([]*risk.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*risk.Event

	for _, ev := range s.byID {
		if ev.TenantID != tenantID || ev.DetectedOn.Before(since) {
			continue
		}

		cp := ev
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].DetectedOn.After(out[j].DetectedOn)
	})

	return out, nil
}

func (s *Store) AttachCandidates(_ context.Context, id uuid.UUID, actionIDs []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.byID[id]
	if !ok {
		return risk.ErrNotFound
	}

	ev.CandidateActionIDs = append([]uuid.UUID(nil), actionIDs...)
	s.byID[id] = ev

	return nil
}
