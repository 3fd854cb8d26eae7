package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/flowsentry/flowsentry/internal/tenant"
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

func scanTenant(s scanner) (*tenant.Tenant, error) {
	var t tenant.Tenant

	if err := s.Scan(
		&t.ID, &t.Name, &t.ChannelAddress, &t.Timezone, &t.Active,
		&t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}

	return &t, nil
}

const selectTenantColumns = `
	id, name, channel_address, timezone, active, created_at, updated_at
`

func (s *Store) CreateTenant(ctx context.Context, t *tenant.Tenant) error {
	query := `
		INSERT INTO tenants (name, channel_address, timezone, active, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, created_at
	`

	err := s.db.QueryRowContext(ctx, query,
		t.Name,
		t.ChannelAddress,
		t.Timezone,
		t.Active,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating tenant: %w", err)
	}

	return nil
}

func (s *Store) GetTenant(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error) {
	query := `SELECT ` + selectTenantColumns + ` FROM tenants WHERE id = $1`

	t, err := scanTenant(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, tenant.ErrNotFound
		}

		return nil, fmt.Errorf("getting tenant: %w", err)
	}

	return t, nil
}

func (s *Store) ListTenants(ctx context.Context, filter tenant.ListFilter) ([]*tenant.Tenant, error) {
	query := `SELECT ` + selectTenantColumns + ` FROM tenants`

	if filter.OnlyActive {
		query += " WHERE active"
	}

	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*tenant.Tenant

	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tenant: %w", err)
		}

		tenants = append(tenants, t)
	}

	return tenants, rows.Err()
}

func (s *Store) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `
		UPDATE tenants
		SET active = $1, updated_at = NOW()
		WHERE id = $2
	`

	res, err := s.db.ExecContext(ctx, query, active, id)
	if err != nil {
		return fmt.Errorf("updating tenant active flag: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return tenant.ErrNotFound
	}

	return nil
}
