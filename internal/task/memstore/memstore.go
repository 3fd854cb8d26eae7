// Package memstore provides an in-memory task repository used by tests and
// local development. It enforces the same guarantees as the SQL store: one
// open task per (risk event, kind) and conditional state updates.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowsentry/flowsentry/internal/task"
)

type Store struct {
	mu   sync.Mutex
	byID map[uuid.UUID]task.Task
}

func New() *Store {
	return &Store{byID: make(map[uuid.UUID]task.Task)}
}

func clone(t task.Task) *task.Task {
	cp := t

	if t.Impact != nil {
		impact := *t.Impact
		impact.Deltas = append([]task.ImpactDelta(nil), t.Impact.Deltas...)
		cp.Impact = &impact
	}

	return &cp
}

func (s *Store) CreateTask(_ context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byID {
		if existing.OriginRiskEventID == t.OriginRiskEventID &&
			existing.Kind == t.Kind && existing.Open() {
			return task.ErrDuplicateTask
		}
	}

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	s.byID[t.ID] = *clone(*t)

	return nil
}

func (s *Store) GetTask(_ context.Context, id uuid.UUID) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[id]
	if !ok {
		return nil, task.ErrNotFound
	}

	return clone(t), nil
}

func (s *Store) FindOpenTask(_ context.Context, originRiskEventID uuid.UUID, kind task.Kind) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var newest *task.Task

	for _, t := range s.byID {
		if t.OriginRiskEventID != originRiskEventID || t.Kind != kind || !t.Open() {
			continue
		}

		if newest == nil || t.CreatedAt.After(newest.CreatedAt) {
			newest = clone(t)
		}
	}

	if newest == nil {
		return nil, task.ErrNotFound
	}

	return newest, nil
}

func (s *Store) ListTasks(_ context.Context, filter task.ListFilter) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*task.Task

	for _, t := range s.byID {
		if t.TenantID != filter.TenantID {
			continue
		}

		if len(filter.States) > 0 && !containsState(filter.States, t.State) {
			continue
		}

		if filter.OriginRiskEventID != nil && t.OriginRiskEventID != *filter.OriginRiskEventID {
			continue
		}

		if filter.UpdatedBefore != nil && !t.UpdatedAt.Before(*filter.UpdatedBefore) {
			continue
		}

		out = append(out, clone(t))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out, nil
}

func (s *Store) UpdateTask(_ context.Context, t *task.Task, expectState task.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[t.ID]
	if !ok {
		return task.ErrNotFound
	}

	if stored.State != expectState {
		return task.ErrStale
	}

	t.UpdatedAt = time.Now().UTC()
	t.CreatedAt = stored.CreatedAt
	s.byID[t.ID] = *clone(*t)

	return nil
}

func containsState(states []task.State, st task.State) bool {
	for _, s := range states {
		if s == st {
			return true
		}
	}

	return false
}
