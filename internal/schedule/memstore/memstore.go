// Package memstore provides an in-memory job run repository used by tests
// and local development.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowsentry/flowsentry/internal/schedule"
)

type key struct {
	tenantID uuid.UUID
	job      schedule.Job
}

type Store struct {
	mu   sync.RWMutex
	runs map[key]time.Time
}

func New() *Store {
	return &Store{runs: make(map[key]time.Time)}
}

func (s *Store) LastSuccess(_ context.Context, tenantID uuid.UUID, job schedule.Job) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.runs[key{tenantID: tenantID, job: job}], nil
}

func (s *Store) RecordSuccess(_ context.Context, tenantID uuid.UUID, job schedule.Job, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[key{tenantID: tenantID, job: job}] = at

	return nil
}
