package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/flowsentry/flowsentry/internal/task"
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

const selectTaskColumns = `
	id, tenant_id, kind, state, outcome, title, payload, impact,
	origin_risk_event_id, delivery_attempts, receipt_id,
	created_at, updated_at, sent_at, resolved_at
`

func scanTask(s scanner) (*task.Task, error) {
	var t task.Task

	var kindStr, stateStr, outcomeStr string

	var payload, impact []byte

	if err := s.Scan(
		&t.ID, &t.TenantID, &kindStr, &stateStr, &outcomeStr, &t.Title, &payload, &impact,
		&t.OriginRiskEventID, &t.DeliveryAttempts, &t.ReceiptID,
		&t.CreatedAt, &t.UpdatedAt, &t.SentAt, &t.ResolvedAt,
	); err != nil {
		return nil, err
	}

	t.Kind = task.Kind(kindStr)
	t.State = task.State(stateStr)
	t.Outcome = task.Outcome(outcomeStr)

	if err := json.Unmarshal(payload, &t.Payload); err != nil {
		return nil, fmt.Errorf("decoding task payload: %w", err)
	}

	if len(impact) > 0 {
		t.Impact = &task.ImpactSnapshot{}
		if err := json.Unmarshal(impact, t.Impact); err != nil {
			return nil, fmt.Errorf("decoding task impact: %w", err)
		}
	}

	return &t, nil
}

// uniqueViolation is the Postgres error code raised by the partial unique
// index over open tasks per (origin_risk_event_id, kind).
const uniqueViolation = "23505"

func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	payload, err := json.Marshal(t.Payload)
	if err != nil {
		return fmt.Errorf("encoding task payload: %w", err)
	}

	var impact []byte

	if t.Impact != nil {
		impact, err = json.Marshal(t.Impact)
		if err != nil {
			return fmt.Errorf("encoding task impact: %w", err)
		}
	}

	query := `
		INSERT INTO action_tasks (tenant_id, kind, state, outcome, title, payload, impact, origin_risk_event_id, delivery_attempts, receipt_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`

	err = s.db.QueryRowContext(ctx, query,
		t.TenantID,
		t.Kind,
		t.State,
		t.Outcome,
		t.Title,
		payload,
		impact,
		t.OriginRiskEventID,
		t.DeliveryAttempts,
		t.ReceiptID,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return task.ErrDuplicateTask
		}

		return fmt.Errorf("creating task: %w", err)
	}

	return nil
}

func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	query := `SELECT ` + selectTaskColumns + ` FROM action_tasks WHERE id = $1`

	t, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, task.ErrNotFound
		}

		return nil, fmt.Errorf("getting task: %w", err)
	}

	return t, nil
}

func (s *Store) FindOpenTask(ctx context.Context, originRiskEventID uuid.UUID, kind task.Kind) (*task.Task, error) {
	query := `SELECT ` + selectTaskColumns + `
		FROM action_tasks
		WHERE origin_risk_event_id = $1 AND kind = $2 AND state = ANY($3)
		ORDER BY created_at DESC
		LIMIT 1`

	t, err := scanTask(s.db.QueryRowContext(ctx, query, originRiskEventID, kind, statesParam(task.OpenStates())))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, task.ErrNotFound
		}

		return nil, fmt.Errorf("finding open task: %w", err)
	}

	return t, nil
}

func (s *Store) ListTasks(ctx context.Context, filter task.ListFilter) ([]*task.Task, error) {
	query := `SELECT ` + selectTaskColumns + ` FROM action_tasks WHERE tenant_id = $1`

	args := []any{filter.TenantID}

	argIdx := 2

	if len(filter.States) > 0 {
		query += fmt.Sprintf(" AND state = ANY($%d)", argIdx)

		args = append(args, statesParam(filter.States))
		argIdx++
	}

	if filter.OriginRiskEventID != nil {
		query += fmt.Sprintf(" AND origin_risk_event_id = $%d", argIdx)

		args = append(args, *filter.OriginRiskEventID)
		argIdx++
	}

	if filter.UpdatedBefore != nil {
		query += fmt.Sprintf(" AND updated_at < $%d", argIdx)

		args = append(args, *filter.UpdatedBefore)
		argIdx++
	}

	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task

	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}

		tasks = append(tasks, t)
	}

	return tasks, rows.Err()
}

func (s *Store) UpdateTask(ctx context.Context, t *task.Task, expectState task.State) error {
	var impact []byte

	var err error

	if t.Impact != nil {
		impact, err = json.Marshal(t.Impact)
		if err != nil {
			return fmt.Errorf("encoding task impact: %w", err)
		}
	}

	query := `
		UPDATE action_tasks
		SET state = $1, outcome = $2, impact = $3, delivery_attempts = $4, receipt_id = $5, sent_at = $6, resolved_at = $7, updated_at = NOW()
		WHERE id = $8 AND state = $9
		RETURNING updated_at
	`

	err = s.db.QueryRowContext(ctx, query,
		t.State,
		t.Outcome,
		impact,
		t.DeliveryAttempts,
		t.ReceiptID,
		t.SentAt,
		t.ResolvedAt,
		t.ID,
		expectState,
	).Scan(&t.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return task.ErrStale
		}

		return fmt.Errorf("updating task: %w", err)
	}

	return nil
}

// statesParam renders states as a text array literal for ANY().
func statesParam(states []task.State) string {
	out := "{"

	for i, st := range states {
		if i > 0 {
			out += ","
		}

		out += string(st)
	}

	return out + "}"
}
