// Package memstore provides an in-memory record repository used by tests and
// local development.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowsentry/flowsentry/internal/record"
)

type Store struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]record.Record

	// importMu serializes imports, standing in for the advisory lock the
	// SQL store takes.
	importMu sync.Mutex
}

func New() *Store {
	return &Store{byID: make(map[uuid.UUID]record.Record)}
}

func (s *Store) CreateRecord(_ context.Context, rec *record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.insertLocked(rec)

	return nil
}

func (s *Store) insertLocked(rec *record.Record) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	rec.CreatedAt = time.Now().UTC()
	s.byID[rec.ID] = *rec
}

func (s *Store) GetRecord(_ context.Context, id uuid.UUID) (*record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[id]
	if !ok {
		return nil, record.ErrNotFound
	}

	return &rec, nil
}

func (s *Store) ListRecords(_ context.Context, filter record.ListFilter) ([]*record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*record.Record

	for _, rec := range s.byID {
		if !matches(rec, filter) {
			continue
		}

		cp := rec
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredOn.Equal(out[j].OccurredOn) {
			return out[i].OccurredOn.Before(out[j].OccurredOn)
		}

		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out, nil
}

func matches(rec record.Record, filter record.ListFilter) bool {
	if rec.TenantID != filter.TenantID {
		return false
	}

	if filter.From != nil && rec.OccurredOn.Before(*filter.From) {
		return false
	}

	if filter.To != nil && rec.OccurredOn.After(*filter.To) {
		return false
	}

	if filter.Direction != nil && rec.Direction != *filter.Direction {
		return false
	}

	if filter.Role != nil && rec.Role != *filter.Role {
		return false
	}

	if filter.Category != nil && rec.Category != *filter.Category {
		return false
	}

	if filter.Source != nil && rec.Source != *filter.Source {
		return false
	}

	if filter.DueFrom != nil && (rec.DueOn == nil || rec.DueOn.Before(*filter.DueFrom)) {
		return false
	}

	if filter.DueTo != nil && (rec.DueOn == nil || rec.DueOn.After(*filter.DueTo)) {
		return false
	}

	if filter.MinAmount != nil && rec.Amount.LessThan(*filter.MinAmount) {
		return false
	}

	return true
}

type importTx struct {
	store    *Store
	tenantID uuid.UUID
	staged   []*record.Record
	done     bool
}

func (s *Store) BeginImport(_ context.Context, tenantID uuid.UUID, _, _ time.Time) (record.ImportTx, error) {
	s.importMu.Lock()

	return &importTx{store: s, tenantID: tenantID}, nil
}

func (itx *importTx) FindDuplicates(ctx context.Context, params []record.CreateParams) ([]*record.Record, error) {
	if len(params) == 0 {
		return nil, nil
	}

	type lookupKey struct {
		Date      string
		Direction record.Direction
		Amount    string
		Detail    string
	}

	keySet := make(map[lookupKey]struct{}, len(params))
	for _, p := range params {
		keySet[lookupKey{
			Date:      p.OccurredOn.Format(time.DateOnly),
			Direction: p.Direction,
			Amount:    p.Amount.String(),
			Detail:    p.Detail,
		}] = struct{}{}
	}

	existing, err := itx.store.ListRecords(ctx, record.ListFilter{TenantID: itx.tenantID})
	if err != nil {
		return nil, err
	}

	var duplicates []*record.Record

	for _, rec := range existing {
		k := lookupKey{
			Date:      rec.OccurredOn.Format(time.DateOnly),
			Direction: rec.Direction,
			Amount:    rec.Amount.String(),
			Detail:    rec.Detail,
		}

		if _, found := keySet[k]; found {
			duplicates = append(duplicates, rec)
		}
	}

	return duplicates, nil
}

func (itx *importTx) CreateRecords(_ context.Context, recs []*record.Record) error {
	itx.staged = append(itx.staged, recs...)
	return nil
}

func (itx *importTx) Commit() error {
	if itx.done {
		return nil
	}

	itx.done = true

	itx.store.mu.Lock()
	for _, rec := range itx.staged {
		itx.store.insertLocked(rec)
	}
	itx.store.mu.Unlock()

	itx.store.importMu.Unlock()

	return nil
}

func (itx *importTx) Rollback() error {
	if itx.done {
		return nil
	}

	itx.done = true
	itx.staged = nil
	itx.store.importMu.Unlock()

	return nil
}
