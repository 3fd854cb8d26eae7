package record

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrNegativeAmount = errors.New("record amount must not be negative")
)

// Direction says whether money moved into or out of the business.
type Direction string

const (
	DirectionInflow  Direction = "inflow"
	DirectionOutflow Direction = "outflow"
)

// CounterpartyRole classifies who the money moved to or from.
type CounterpartyRole string

const (
	RoleCustomer CounterpartyRole = "customer"
	RoleVendor   CounterpartyRole = "vendor"
	RoleStaff    CounterpartyRole = "staff"
	RoleOther    CounterpartyRole = "other"
)

// Source records which ingestion path produced the record.
type Source string

const (
	SourceChat   Source = "chat"
	SourceImport Source = "import"
	SourceAPI    Source = "api"
)

// Record is one financial movement of a tenant. Records are append-only:
// once written they are never updated or deleted, corrections are new
// records.
type Record struct {
	ID           uuid.UUID
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
	CreatedAt    time.Time
}

// Signed returns the amount with outflows negated, for net aggregation.
func (r *Record) Signed() decimal.Decimal {
	if r.Direction == DirectionOutflow {
		return r.Amount.Neg()
	}

	return r.Amount
}
