package tenant

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

//go:generate mockgen -source=service.go -destination=repository_mock.go -package=tenant
type Repository interface {
	CreateTenant(ctx context.Context, t *Tenant) error
	GetTenant(ctx context.Context, id uuid.UUID) (*Tenant, error)
	ListTenants(ctx context.Context, filter ListFilter) ([]*Tenant, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

type CreateParams struct {
	Name           string
	ChannelAddress string
	Timezone       string
}

type ListFilter struct {
	OnlyActive bool
}

func (s *Service) Create(ctx context.Context, params CreateParams) (*Tenant, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("tenant name is required")
	}

	if params.Timezone != "" {
		if _, err := time.LoadLocation(params.Timezone); err != nil {
			return nil, fmt.Errorf("resolving timezone %q: %w", params.Timezone, err)
		}
	}

	t := &Tenant{
		Name:           params.Name,
		ChannelAddress: params.ChannelAddress,
		Timezone:       params.Timezone,
		Active:         true,
	}
	if err := s.repo.CreateTenant(ctx, t); err != nil {
		return nil, err
	}

	return t, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	return s.repo.GetTenant(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Tenant, error) {
	return s.repo.ListTenants(ctx, filter)
}

func (s *Service) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return s.repo.SetActive(ctx, id, active)
}
