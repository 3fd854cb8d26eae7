// Package classify learns which spending or income category a record's
// detail text belongs to, so imported statement rows and chat records get
// the category the owner already taught the agent.
package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Repository interface {
	FindCategory(ctx context.Context, tenantID uuid.UUID, detail string) (string, error)
	CreateRule(ctx context.Context, tenantID uuid.UUID, pattern, category string) error
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Suggest returns the learned category for a detail text, or an empty string
// when no rule of the tenant matches.
func (s *Service) Suggest(ctx context.Context, tenantID uuid.UUID, detail string) (string, error) {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return "", nil
	}

	return s.repo.FindCategory(ctx, tenantID, detail)
}

// Learn remembers that details containing pattern belong to category.
func (s *Service) Learn(ctx context.Context, tenantID uuid.UUID, pattern, category string) error {
	pattern = strings.TrimSpace(pattern)
	category = strings.TrimSpace(category)

	if pattern == "" || category == "" {
		return fmt.Errorf("pattern and category are required")
	}

	return s.repo.CreateRule(ctx, tenantID, pattern, category)
}
