package record

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=service.go -destination=repository_mock.go -package=record
type Repository interface {
	CreateRecord(ctx context.Context, rec *Record) error
	GetRecord(ctx context.Context, id uuid.UUID) (*Record, error)
	ListRecords(ctx context.Context, filter ListFilter) ([]*Record, error)

	BeginImport(ctx context.Context, tenantID uuid.UUID, minDate, maxDate time.Time) (ImportTx, error)
}

type ImportTx interface {
	FindDuplicates(ctx context.Context, params []CreateParams) ([]*Record, error)
	CreateRecords(ctx context.Context, recs []*Record) error
	Commit() error
	Rollback() error
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

type CreateParams struct {
	TenantID     uuid.UUID
	OccurredOn   time.Time
	Direction    Direction
	Amount       decimal.Decimal
	Counterparty string
	Role         CounterpartyRole
	Category     string
	Detail       string
	Source       Source
	DueOn        *time.Time
	Metadata     map[string]string
}

type ListFilter struct {
	TenantID  uuid.UUID
	From      *time.Time
	To        *time.Time
	Direction *Direction
	Role      *CounterpartyRole
	Category  *string
	Source    *Source
	DueFrom   *time.Time
	DueTo     *time.Time
	MinAmount *decimal.Decimal
}

func (p CreateParams) validate() error {
	if p.TenantID == uuid.Nil {
		return fmt.Errorf("tenant id is required")
	}

	if p.Amount.IsNegative() {
		return ErrNegativeAmount
	}

	switch p.Direction {
	case DirectionInflow, DirectionOutflow:
	default:
		return fmt.Errorf("unknown direction %q", p.Direction)
	}

	if p.OccurredOn.IsZero() {
		return fmt.Errorf("occurred_on is required")
	}

	return nil
}

func (s *Service) Create(ctx context.Context, params CreateParams) (*Record, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	rec := paramsToRecord(params)
	if err := s.repo.CreateRecord(ctx, rec); err != nil {
		return nil, err
	}

	return rec, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	return s.repo.GetRecord(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Record, error) {
	if filter.TenantID == uuid.Nil {
		return nil, fmt.Errorf("tenant id is required")
	}

	return s.repo.ListRecords(ctx, filter)
}

type ImportResult struct {
	Imported []*Record
	Skipped  []CreateParams
}

// ImportBatch inserts a batch of records for one tenant, silently skipping
// rows that already exist. A row is a duplicate when an existing record of
// the tenant has the same date, direction, amount and detail text. The whole
// batch commits in a single transaction guarded by an advisory lock, so a
// re-submitted statement never double-books.
func (s *Service) ImportBatch(ctx context.Context, tenantID uuid.UUID, params []CreateParams) (*ImportResult, error) {
	if len(params) == 0 {
		return &ImportResult{}, nil
	}

	for i := range params {
		params[i].TenantID = tenantID
		if params[i].Source == "" {
			params[i].Source = SourceImport
		}

		if err := params[i].validate(); err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
	}

	minDate, maxDate := dateRange(params)

	itx, err := s.repo.BeginImport(ctx, tenantID, minDate, maxDate)
	if err != nil {
		return nil, fmt.Errorf("begin import: %w", err)
	}
	defer itx.Rollback()

	duplicates, err := itx.FindDuplicates(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("find duplicates: %w", err)
	}

	lookup := make(map[dupKey]struct{}, len(duplicates))
	for _, d := range duplicates {
		lookup[dupKeyOf(d.OccurredOn, d.Direction, d.Amount, d.Detail)] = struct{}{}
	}

	var (
		newParams []CreateParams
		skipped   []CreateParams
	)

	for _, p := range params {
		k := dupKeyOf(p.OccurredOn, p.Direction, p.Amount, p.Detail)

		if _, found := lookup[k]; found {
			skipped = append(skipped, p)
			continue
		}

		// A batch can repeat a row; only the first copy is imported.
		lookup[k] = struct{}{}

		newParams = append(newParams, p)
	}

	recs := make([]*Record, len(newParams))
	for i, p := range newParams {
		recs[i] = paramsToRecord(p)
	}

	if len(recs) > 0 {
		if err := itx.CreateRecords(ctx, recs); err != nil {
			return nil, fmt.Errorf("create records: %w", err)
		}
	}

	if err := itx.Commit(); err != nil {
		return nil, fmt.Errorf("commit import: %w", err)
	}

	return &ImportResult{Imported: recs, Skipped: skipped}, nil
}

type dupKey struct {
	Date      string
	Direction Direction
	Amount    string
	Detail    string
}

func dupKeyOf(date time.Time, dir Direction, amount decimal.Decimal, detail string) dupKey {
	return dupKey{
		Date:      date.Format(time.DateOnly),
		Direction: dir,
		Amount:    amount.String(),
		Detail:    detail,
	}
}

func dateRange(params []CreateParams) (time.Time, time.Time) {
	minDate := params[0].OccurredOn
	maxDate := params[0].OccurredOn

	for _, p := range params[1:] {
		if p.OccurredOn.Before(minDate) {
			minDate = p.OccurredOn
		}

		if p.OccurredOn.After(maxDate) {
			maxDate = p.OccurredOn
		}
	}

	return minDate, maxDate
}

func paramsToRecord(p CreateParams) *Record {
	return &Record{
		TenantID:     p.TenantID,
		OccurredOn:   p.OccurredOn,
		Direction:    p.Direction,
		Amount:       p.Amount,
		Counterparty: p.Counterparty,
		Role:         p.Role,
		Category:     p.Category,
		Detail:       p.Detail,
		Source:       p.Source,
		DueOn:        p.DueOn,
		Metadata:     p.Metadata,
	}
}
