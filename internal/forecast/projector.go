package forecast

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flowsentry/flowsentry/internal/record"
)

// RecordLister is the slice of the record service the projector needs.
type RecordLister interface {
	List(ctx context.Context, filter record.ListFilter) ([]*record.Record, error)
}

// Projector builds daily net series from a tenant's records and extends them
// with a least-squares trend plus a weekday seasonality offset. The band
// around each projected day widens with distance, derived from the residual
// spread of the fit.
type Projector struct {
	records        RecordLister
	lookbackDays   int
	minHistoryDays int
	horizonDays    int
}

func NewProjector(records RecordLister, lookbackDays, minHistoryDays, horizonDays int) *Projector {
	return &Projector{
		records:        records,
		lookbackDays:   lookbackDays,
		minHistoryDays: minHistoryDays,
		horizonDays:    horizonDays,
	}
}

// widenZ scales the residual spread into the band half-width, roughly an
// 80% interval under a normal assumption.
const widenZ = 1.28

func (p *Projector) Forecast(ctx context.Context, tenantID uuid.UUID, asOf time.Time) (*Series, error) {
	asOf = Day(asOf)
	from := asOf.AddDate(0, 0, -p.lookbackDays+1)

	recs, err := p.records.List(ctx, record.ListFilter{
		TenantID: tenantID,
		From:     &from,
		To:       &asOf,
	})
	if err != nil {
		return nil, fmt.Errorf("listing records for forecast: %w", err)
	}

	nets := dailyNets(recs)
	if len(nets) < p.minHistoryDays {
		return nil, fmt.Errorf("%w: %d active days, need %d", ErrInsufficientHistory, len(nets), p.minHistoryDays)
	}

	series := buildDaySeries(nets, asOf)

	slope, intercept := fitLine(series)
	offsets, spread := weekdayOffsets(series, slope, intercept)

	n := len(series)
	points := make([]Point, p.horizonDays)

	for k := 1; k <= p.horizonDays; k++ {
		date := asOf.AddDate(0, 0, k)
		pred := slope*float64(n-1+k) + intercept + offsets[int(date.Weekday())]
		margin := widenZ * spread * math.Sqrt(1+float64(k-1)/7)

		points[k-1] = Point{
			Date:  date,
			Net:   decimal.NewFromFloat(pred).Round(2),
			Lower: decimal.NewFromFloat(pred - margin).Round(2),
			Upper: decimal.NewFromFloat(pred + margin).Round(2),
		}
	}

	return &Series{TenantID: tenantID, AsOf: asOf, Points: points}, nil
}

// Day collapses a timestamp to its calendar date at UTC midnight, so dates
// from different sources compare and key consistently.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type dayNet struct {
	date time.Time
	net  float64
}

// dailyNets buckets records into calendar days with at least one record.
func dailyNets(recs []*record.Record) map[time.Time]decimal.Decimal {
	nets := make(map[time.Time]decimal.Decimal)

	for _, rec := range recs {
		day := Day(rec.OccurredOn)
		nets[day] = nets[day].Add(rec.Signed())
	}

	return nets
}

// buildDaySeries expands the bucketed days into a contiguous series from the
// first active day through asOf. Days without activity count as zero net.
func buildDaySeries(nets map[time.Time]decimal.Decimal, asOf time.Time) []dayNet {
	var first time.Time

	for day := range nets {
		if first.IsZero() || day.Before(first) {
			first = day
		}
	}

	var series []dayNet

	for day := first; !day.After(asOf); day = day.AddDate(0, 0, 1) {
		series = append(series, dayNet{date: day, net: nets[day].InexactFloat64()})
	}

	return series
}

// fitLine runs an ordinary least squares fit of net against day index.
func fitLine(series []dayNet) (slope, intercept float64) {
	n := float64(len(series))
	if n == 0 {
		return 0, 0
	}

	var sumX, sumY, sumXY, sumXX float64

	for i, d := range series {
		x := float64(i)
		sumX += x
		sumY += d.net
		sumXY += x * d.net
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}

	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n

	return slope, intercept
}

// weekdayOffsets averages the fit residuals per weekday and returns them
// along with the standard deviation of the de-seasonalized residuals.
func weekdayOffsets(series []dayNet, slope, intercept float64) ([7]float64, float64) {
	var (
		sums    [7]float64
		counts  [7]int
		offsets [7]float64
	)

	for i, d := range series {
		resid := d.net - (slope*float64(i) + intercept)
		wd := int(d.date.Weekday())
		sums[wd] += resid
		counts[wd]++
	}

	for wd := range offsets {
		if counts[wd] > 0 {
			offsets[wd] = sums[wd] / float64(counts[wd])
		}
	}

	var sq float64

	for i, d := range series {
		resid := d.net - (slope*float64(i) + intercept + offsets[int(d.date.Weekday())])
		sq += resid * resid
	}

	spread := math.Sqrt(sq / float64(len(series)))

	return offsets, spread
}
