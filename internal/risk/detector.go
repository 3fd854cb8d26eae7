package risk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flowsentry/flowsentry/internal/forecast"
	"github.com/flowsentry/flowsentry/internal/metrics"
	"github.com/flowsentry/flowsentry/internal/record"
)

// baselineWindows caps how many past windows feed the baseline average.
const baselineWindows = 4

// epsilon is the smallest baseline the deviation ratio is computed against.
// At or below it the tenant has no meaningful positive baseline and dip
// detection stays quiet.
const epsilon = 1e-9

// Detector compares a projected horizon against the tenant's recent
// baseline and emits a cash dip event when the projection falls short by
// more than the configured threshold.
type Detector struct {
	repo      Repository
	threshold float64
}

func NewDetector(repo Repository, threshold float64) *Detector {
	return &Detector{repo: repo, threshold: threshold}
}

// Detect evaluates one tenant's series against its history. It returns the
// persisted event and whether this run created it, or nil when the horizon
// looks healthy. history must cover the lookback window the series was
// built from.
func (d *Detector) Detect(ctx context.Context, tenantID uuid.UUID, series *forecast.Series, history []*record.Record) (*Event, bool, error) {
	horizon := len(series.Points)
	if horizon == 0 {
		return nil, false, nil
	}

	baseline, windows := baselineNet(history, series.AsOf, horizon)
	if windows == 0 || baseline.InexactFloat64() <= epsilon {
		slog.Debug("no usable baseline, skipping dip detection",
			"tenant_id", tenantID, "windows", windows)
		return nil, false, nil
	}

	projected := series.TotalNet()
	deviation := baseline.Sub(projected).InexactFloat64() / baseline.InexactFloat64()

	if deviation < d.threshold {
		return nil, false, nil
	}

	severity := min(max(deviation, 0), 1)

	snapshot := Snapshot{
		Baseline:   baseline.Round(2),
		Projected:  projected.Round(2),
		Deviation:  deviation,
		WindowDays: horizon,
	}

	if dip := series.FirstDip(); dip != nil {
		snapshot.DipDate = &dip.Date
		snapshot.DaysToDip = dip.DaysOut
	}

	ev := &Event{
		TenantID:   tenantID,
		Kind:       KindCashDip,
		DetectedOn: series.AsOf,
		Severity:   severity,
		Snapshot:   snapshot,
	}

	stored, created, err := d.repo.InsertEvent(ctx, ev)
	if err != nil {
		return nil, false, fmt.Errorf("persisting risk event: %w", err)
	}

	if created {
		metrics.RiskEventsDetected.WithLabelValues(string(KindCashDip)).Inc()
	}

	return stored, created, nil
}

// baselineNet averages net movement over past windows of the horizon's
// length. Only windows fully covered by the tenant's active history count,
// newest first, capped at baselineWindows.
func baselineNet(history []*record.Record, asOf time.Time, horizonDays int) (decimal.Decimal, int) {
	if len(history) == 0 {
		return decimal.Zero, 0
	}

	firstActive := forecast.Day(history[0].OccurredOn)
	for _, rec := range history[1:] {
		if day := forecast.Day(rec.OccurredOn); day.Before(firstActive) {
			firstActive = day
		}
	}

	asOf = forecast.Day(asOf)
	total := decimal.Zero
	windows := 0

	for w := 1; w <= baselineWindows; w++ {
		end := asOf.AddDate(0, 0, -(w-1)*horizonDays)
		start := end.AddDate(0, 0, -horizonDays+1)

		if start.Before(firstActive) {
			break
		}

		for _, rec := range history {
			day := forecast.Day(rec.OccurredOn)
			if !day.Before(start) && !day.After(end) {
				total = total.Add(rec.Signed())
			}
		}

		windows++
	}

	if windows == 0 {
		return decimal.Zero, 0
	}

	return total.Div(decimal.NewFromInt(int64(windows))), windows
}
