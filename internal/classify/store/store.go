package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) FindCategory(ctx context.Context, tenantID uuid.UUID, detail string) (string, error) {
	query := `
		SELECT category
		FROM category_rules
		WHERE tenant_id = $1 AND $2 ILIKE '%' || pattern || '%'
		ORDER BY LENGTH(pattern) DESC, created_at DESC
		LIMIT 1
	`

	var category string

	err := s.db.QueryRowContext(ctx, query, tenantID, detail).Scan(&category)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}

		return "", fmt.Errorf("finding category: %w", err)
	}

	return category, nil
}

func (s *Store) CreateRule(ctx context.Context, tenantID uuid.UUID, pattern, category string) error {
	query := `
		INSERT INTO category_rules (tenant_id, pattern, category, created_at)
		VALUES ($1, $2, $3, NOW())
	`

	if _, err := s.db.ExecContext(ctx, query, tenantID, pattern, category); err != nil {
		return fmt.Errorf("creating category rule: %w", err)
	}

	return nil
}
