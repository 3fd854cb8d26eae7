package tenant

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("tenant not found")

// Tenant is one onboarded business. Every record, forecast and action task
// belongs to exactly one tenant, and scheduled jobs iterate active tenants.
type Tenant struct {
	ID             uuid.UUID
	Name           string
	ChannelAddress string
	Timezone       string
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      *time.Time
}

// Location resolves the tenant's IANA timezone, falling back to UTC when the
// stored name is empty.
func (t *Tenant) Location() (*time.Location, error) {
	if t.Timezone == "" {
		return time.UTC, nil
	}

	return time.LoadLocation(t.Timezone)
}
