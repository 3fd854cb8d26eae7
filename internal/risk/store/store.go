package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowsentry/flowsentry/internal/risk"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

const selectEventColumns = `
	id, tenant_id, kind, detected_on, detected_at, severity,
	baseline, projected, deviation, window_days, dip_date, days_to_dip,
	candidate_action_ids
`

func scanEvent(s scanner) (*risk.Event, error) {
	var ev risk.Event

	var kindStr string

	var candidates []byte

	if err := s.Scan(
		&ev.ID, &ev.TenantID, &kindStr, &ev.DetectedOn, &ev.DetectedAt, &ev.Severity,
		&ev.Snapshot.Baseline, &ev.Snapshot.Projected, &ev.Snapshot.Deviation,
		&ev.Snapshot.WindowDays, &ev.Snapshot.DipDate, &ev.Snapshot.DaysToDip,
		&candidates,
	); err != nil {
		return nil, err
	}

	ev.Kind = risk.Kind(kindStr)

	if len(candidates) > 0 {
		if err := json.Unmarshal(candidates, &ev.CandidateActionIDs); err != nil {
			return nil, fmt.Errorf("decoding candidate action ids: %w", err)
		}
	}

	return &ev, nil
}

// InsertEvent relies on the unique index over (tenant_id, kind, detected_on)
// to keep one event per signal and day, no matter how often detection runs.
func (s *Store) InsertEvent(ctx context.Context, ev *risk.Event) (*risk.Event, bool, error) {
	query := `
		INSERT INTO risk_events (tenant_id, kind, detected_on, detected_at, severity, baseline, projected, deviation, window_days, dip_date, days_to_dip)
		VALUES ($1, $2, $3, NOW(), $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tenant_id, kind, detected_on) DO NOTHING
		RETURNING id, detected_at
	`

	err := s.db.QueryRowContext(ctx, query,
		ev.TenantID,
		ev.Kind,
		ev.DetectedOn,
		ev.Severity,
		ev.Snapshot.Baseline,
		ev.Snapshot.Projected,
		ev.Snapshot.Deviation,
		ev.Snapshot.WindowDays,
		ev.Snapshot.DipDate,
		ev.Snapshot.DaysToDip,
	).Scan(&ev.ID, &ev.DetectedAt)

	if err == nil {
		return ev, true, nil
	}

	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("inserting risk event: %w", err)
	}

	existing, err := s.getByNaturalKey(ctx, ev.TenantID, ev.Kind, ev.DetectedOn)
	if err != nil {
		return nil, false, fmt.Errorf("loading existing risk event: %w", err)
	}

	return existing, false, nil
}

func (s *Store) getByNaturalKey(ctx context.Context, tenantID uuid.UUID, kind risk.Kind, detectedOn time.Time) (*risk.Event, error) {
	query := `SELECT ` + selectEventColumns + `
		FROM risk_events
		WHERE tenant_id = $1 AND kind = $2 AND detected_on = $3`

	return scanEvent(s.db.QueryRowContext(ctx, query, tenantID, kind, detectedOn))
}

func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (*risk.Event, error) {
	query := `SELECT ` + selectEventColumns + ` FROM risk_events WHERE id = $1`

	ev, err := scanEvent(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, risk.ErrNotFound
		}

		return nil, fmt.Errorf("getting risk event: %w", err)
	}

	return ev, nil
}

func (s *Store) ListEvents(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]*risk.Event, error) {
	query := `SELECT ` + selectEventColumns + `
		FROM risk_events
		WHERE tenant_id = $1 AND detected_on >= $2
		ORDER BY detected_on DESC`

	rows, err := s.db.QueryContext(ctx, query, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("listing risk events: %w", err)
	}
	defer rows.Close()

	var events []*risk.Event

	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning risk event: %w", err)
		}

		events = append(events, ev)
	}

	return events, rows.Err()
}

func (s *Store) AttachCandidates(ctx context.Context, id uuid.UUID, actionIDs []uuid.UUID) error {
	payload, err := json.Marshal(actionIDs)
	if err != nil {
		return fmt.Errorf("encoding candidate action ids: %w", err)
	}

	query := `
		UPDATE risk_events
		SET candidate_action_ids = $1
		WHERE id = $2
	`

	res, err := s.db.ExecContext(ctx, query, payload, id)
	if err != nil {
		return fmt.Errorf("attaching candidate actions: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return risk.ErrNotFound
	}

	return nil
}
