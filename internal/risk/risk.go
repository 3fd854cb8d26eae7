package risk

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("risk event not found")

// Kind names a class of detected risk signal.
type Kind string

const (
	// KindCashDip flags a projected net cash shortfall against the
	// tenant's recent baseline.
	KindCashDip Kind = "cash_dip"
)

// Snapshot freezes the numbers that justified a risk event at detection
// time, so later advice can be explained even after forecasts move on.
type Snapshot struct {
	Baseline   decimal.Decimal
	Projected  decimal.Decimal
	Deviation  float64
	WindowDays int
	DipDate    *time.Time
	DaysToDip  int
}

// Event is one detected risk signal for a tenant. Events are naturally keyed
// by (tenant, kind, detected_on): re-running detection on the same day never
// yields a second event for the same signal.
type Event struct {
	ID                 uuid.UUID
	TenantID           uuid.UUID
	Kind               Kind
	DetectedOn         time.Time
	DetectedAt         time.Time
	Severity           float64
	Snapshot           Snapshot
	CandidateActionIDs []uuid.UUID
}

type Repository interface {
	// InsertEvent persists the event unless one with the same natural key
	// already exists. It returns the stored event and whether this call
	// created it.
	InsertEvent(ctx context.Context, ev *Event) (*Event, bool, error)
	GetEvent(ctx context.Context, id uuid.UUID) (*Event, error)
	ListEvents(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]*Event, error)
	AttachCandidates(ctx context.Context, id uuid.UUID, actionIDs []uuid.UUID) error
}
