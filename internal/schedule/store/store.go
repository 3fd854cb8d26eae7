package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowsentry/flowsentry/internal/schedule"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) LastSuccess(ctx context.Context, tenantID uuid.UUID, job schedule.Job) (time.Time, error) {
	query := `SELECT last_success_at FROM job_runs WHERE tenant_id = $1 AND job = $2`

	var at time.Time

	err := s.db.QueryRowContext(ctx, query, tenantID, job).Scan(&at)
	if err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, nil
		}

		return time.Time{}, fmt.Errorf("loading last job run: %w", err)
	}

	return at, nil
}

func (s *Store) RecordSuccess(ctx context.Context, tenantID uuid.UUID, job schedule.Job, at time.Time) error {
	query := `
		INSERT INTO job_runs (tenant_id, job, last_success_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, job) DO UPDATE SET last_success_at = EXCLUDED.last_success_at
	`

	if _, err := s.db.ExecContext(ctx, query, tenantID, job, at); err != nil {
		return fmt.Errorf("recording job run: %w", err)
	}

	return nil
}
