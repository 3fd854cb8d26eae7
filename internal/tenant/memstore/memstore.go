// Package memstore provides an in-memory tenant repository used by tests and
// local development.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowsentry/flowsentry/internal/tenant"
)

type Store struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]tenant.Tenant
}

func New() *Store {
	return &Store{byID: make(map[uuid.UUID]tenant.Tenant)}
}

func (s *Store) CreateTenant(_ context.Context, t *tenant.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}

	t.CreatedAt = time.Now().UTC()
	s.byID[t.ID] = *t

	return nil
}

func (s *Store) GetTenant(_ context.Context, id uuid.UUID) (*tenant.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.byID[id]
	if !ok {
		return nil, tenant.ErrNotFound
	}

	return &t, nil
}

func (s *Store) ListTenants(_ context.Context, filter tenant.ListFilter) ([]*tenant.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*tenant.Tenant, 0, len(s.byID))

	for _, t := range s.byID {
		if filter.OnlyActive && !t.Active {
			continue
		}

		cp := t
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out, nil
}

func (s *Store) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[id]
	if !ok {
		return tenant.ErrNotFound
	}

	now := time.Now().UTC()
	t.Active = active
	t.UpdatedAt = &now
	s.byID[id] = t

	return nil
}
