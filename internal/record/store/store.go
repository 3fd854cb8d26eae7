package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"

	"github.com/flowsentry/flowsentry/internal/record"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanRecord reads a record row and returns a populated Record.
// Expected column order: id, tenant_id, occurred_on, direction, amount,
// counterparty, role, category, detail, source, due_on, metadata, created_at
func scanRecord(s scanner) (*record.Record, error) {
	var rec record.Record

	var dirStr, roleStr, sourceStr string

	var metadata []byte

	if err := s.Scan(
		&rec.ID, &rec.TenantID, &rec.OccurredOn, &dirStr, &rec.Amount,
		&rec.Counterparty, &roleStr, &rec.Category, &rec.Detail, &sourceStr,
		&rec.DueOn, &metadata, &rec.CreatedAt,
	); err != nil {
		return nil, err
	}

	rec.Direction = record.Direction(dirStr)
	rec.Role = record.CounterpartyRole(roleStr)
	rec.Source = record.Source(sourceStr)

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decoding record metadata: %w", err)
		}
	}

	return &rec, nil
}

const selectRecordColumns = `
	id, tenant_id, occurred_on, direction, amount,
	counterparty, role, category, detail, source, due_on, metadata, created_at
`

const insertRecordQuery = `
	INSERT INTO records (tenant_id, occurred_on, direction, amount, counterparty, role, category, detail, source, due_on, metadata, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
	RETURNING id, created_at
`

func encodeMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}

	return json.Marshal(m)
}

// rowQuerier is satisfied by both *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertRecord(ctx context.Context, q rowQuerier, rec *record.Record) error {
	metadata, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encoding record metadata: %w", err)
	}

	err = q.QueryRowContext(ctx, insertRecordQuery,
		rec.TenantID,
		rec.OccurredOn,
		rec.Direction,
		rec.Amount,
		rec.Counterparty,
		rec.Role,
		rec.Category,
		rec.Detail,
		rec.Source,
		rec.DueOn,
		metadata,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating record: %w", err)
	}

	return nil
}

func (s *Store) CreateRecord(ctx context.Context, rec *record.Record) error {
	return insertRecord(ctx, s.db, rec)
}

func (s *Store) GetRecord(ctx context.Context, id uuid.UUID) (*record.Record, error) {
	query := `SELECT ` + selectRecordColumns + ` FROM records WHERE id = $1`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, record.ErrNotFound
		}

		return nil, fmt.Errorf("getting record: %w", err)
	}

	return rec, nil
}

func (s *Store) ListRecords(ctx context.Context, filter record.ListFilter) ([]*record.Record, error) {
	query := `SELECT ` + selectRecordColumns + ` FROM records WHERE tenant_id = $1`

	args := []any{filter.TenantID}

	argIdx := 2

	if filter.From != nil {
		query += fmt.Sprintf(" AND occurred_on >= $%d", argIdx)

		args = append(args, *filter.From)
		argIdx++
	}

	if filter.To != nil {
		query += fmt.Sprintf(" AND occurred_on <= $%d", argIdx)

		args = append(args, *filter.To)
		argIdx++
	}

	if filter.Direction != nil {
		query += fmt.Sprintf(" AND direction = $%d", argIdx)

		args = append(args, *filter.Direction)
		argIdx++
	}

	if filter.Role != nil {
		query += fmt.Sprintf(" AND role = $%d", argIdx)

		args = append(args, *filter.Role)
		argIdx++
	}

	if filter.Category != nil {
		query += fmt.Sprintf(" AND category = $%d", argIdx)

		args = append(args, *filter.Category)
		argIdx++
	}

	if filter.Source != nil {
		query += fmt.Sprintf(" AND source = $%d", argIdx)

		args = append(args, *filter.Source)
		argIdx++
	}

	if filter.DueFrom != nil {
		query += fmt.Sprintf(" AND due_on >= $%d", argIdx)

		args = append(args, *filter.DueFrom)
		argIdx++
	}

	if filter.DueTo != nil {
		query += fmt.Sprintf(" AND due_on <= $%d", argIdx)

		args = append(args, *filter.DueTo)
		argIdx++
	}

	if filter.MinAmount != nil {
		query += fmt.Sprintf(" AND amount >= $%d", argIdx)

		args = append(args, *filter.MinAmount)
		argIdx++
	}

	query += " ORDER BY occurred_on ASC, created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	var recs []*record.Record

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}

		recs = append(recs, rec)
	}

	return recs, rows.Err()
}

func importLockKey(tenantID uuid.UUID, minDate, maxDate time.Time) int64 {
	h := fnv.New64a()
	h.Write([]byte(tenantID.String()))
	h.Write([]byte{0})
	h.Write([]byte(minDate.Format(time.DateOnly)))
	h.Write([]byte{0})
	h.Write([]byte(maxDate.Format(time.DateOnly)))

	return int64(h.Sum64())
}

type importTx struct {
	tx       *sql.Tx
	tenantID uuid.UUID
}

func (s *Store) BeginImport(ctx context.Context, tenantID uuid.UUID, minDate, maxDate time.Time) (record.ImportTx, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning import tx: %w", err)
	}

	lockKey := importLockKey(tenantID, minDate, maxDate)
	if _, err := dbTx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", lockKey); err != nil {
		dbTx.Rollback()
		return nil, fmt.Errorf("acquiring import lock: %w", err)
	}

	return &importTx{tx: dbTx, tenantID: tenantID}, nil
}

func (itx *importTx) Commit() error   { return itx.tx.Commit() }
func (itx *importTx) Rollback() error { return itx.tx.Rollback() }

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

	minDate := params[0].OccurredOn
	maxDate := params[0].OccurredOn
	keySet := make(map[lookupKey]struct{}, len(params))

	for _, p := range params {
		if p.OccurredOn.Before(minDate) {
			minDate = p.OccurredOn
		}

		if p.OccurredOn.After(maxDate) {
			maxDate = p.OccurredOn
		}

		keySet[lookupKey{
			Date:      p.OccurredOn.Format(time.DateOnly),
			Direction: p.Direction,
			Amount:    p.Amount.String(),
			Detail:    p.Detail,
		}] = struct{}{}
	}

	query := `SELECT ` + selectRecordColumns + `
		FROM records
		WHERE tenant_id = $1 AND occurred_on >= $2 AND occurred_on <= $3
		ORDER BY occurred_on ASC`

	rows, err := itx.tx.QueryContext(ctx, query, itx.tenantID, minDate, maxDate)
	if err != nil {
		return nil, fmt.Errorf("finding duplicates: %w", err)
	}
	defer rows.Close()

	var duplicates []*record.Record

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}

		k := lookupKey{
			Date:      rec.OccurredOn.Format(time.DateOnly),
			Direction: rec.Direction,
			Amount:    rec.Amount.String(),
			Detail:    rec.Detail,
		}

		if _, found := keySet[k]; !found {
			continue
		}

		duplicates = append(duplicates, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating duplicate rows: %w", err)
	}

	return duplicates, nil
}

func (itx *importTx) CreateRecords(ctx context.Context, recs []*record.Record) error {
	for _, rec := range recs {
		if err := insertRecord(ctx, itx.tx, rec); err != nil {
			return err
		}
	}

	return nil
}
