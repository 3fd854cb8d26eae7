// Package memstore provides an in-memory category rule repository used by
// tests and local development.
package memstore

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type rule struct {
	pattern  string
	category string
}

type Store struct {
	mu    sync.RWMutex
	rules map[uuid.UUID][]rule
}

func New() *Store {
	return &Store{rules: make(map[uuid.UUID][]rule)}
}

// FindCategory matches case-insensitively on substring; the longest pattern
// wins, the most recently learned rule breaks ties.
func (s *Store) FindCategory(_ context.Context, tenantID uuid.UUID, detail string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lowered := strings.ToLower(detail)

	best := -1
	category := ""

	for _, r := range s.rules[tenantID] {
		if !strings.Contains(lowered, strings.ToLower(r.pattern)) {
			continue
		}

		if len(r.pattern) >= best {
			best = len(r.pattern)
			category = r.category
		}
	}

	return category, nil
}

func (s *Store) CreateRule(_ context.Context, tenantID uuid.UUID, pattern, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules[tenantID] = append(s.rules[tenantID], rule{pattern: pattern, category: category})

	return nil
}
