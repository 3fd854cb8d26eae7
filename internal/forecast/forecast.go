package forecast

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInsufficientHistory means the tenant has too few days with recorded
// activity to produce a meaningful projection.
var ErrInsufficientHistory = errors.New("insufficient history to forecast")

// Point is the projected net movement for one future day, with an
// uncertainty band around the projection.
type Point struct {
	Date  time.Time
	Net   decimal.Decimal
	Lower decimal.Decimal
	Upper decimal.Decimal
}

// Series is a daily net cash projection for one tenant, starting the day
// after AsOf.
type Series struct {
	TenantID uuid.UUID
	AsOf     time.Time
	Points   []Point
}

// TotalNet sums the projected net movement over the whole horizon.
func (s *Series) TotalNet() decimal.Decimal {
	total := decimal.Zero
	for _, p := range s.Points {
		total = total.Add(p.Net)
	}

	return total
}

// Dip marks the first projected day on which the pessimistic cumulative
// position falls below the level at the start of the horizon.
type Dip struct {
	Date    time.Time
	DaysOut int
}

// FirstDip walks the running sum of lower bounds and returns the first day
// it turns negative, or nil when the horizon stays above water.
func (s *Series) FirstDip() *Dip {
	running := decimal.Zero

	for i, p := range s.Points {
		running = running.Add(p.Lower)
		if running.IsNegative() {
			return &Dip{Date: p.Date, DaysOut: i + 1}
		}
	}

	return nil
}

// Forecaster produces a forward net cash series for a tenant as of a given
// local date.
type Forecaster interface {
	Forecast(ctx context.Context, tenantID uuid.UUID, asOf time.Time) (*Series, error)
}
