// Package impact produces counterfactual forecasts for proposed actions: what
// the projected cash position looks like if the owner goes ahead.
package impact

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flowsentry/flowsentry/internal/forecast"
	"github.com/flowsentry/flowsentry/internal/task"
)

var ErrUnknownKind = errors.New("no impact profile for task kind")

// Lag profiles per action kind. A payment link usually clears within a few
// days, a reminder converts slower, a reorder pays out up front and earns the
// uplift back over the remaining horizon.
const (
	paymentLagDays  = 3
	reminderLagDays = 7
	reorderCostDay  = 2
)

type Simulator struct {
	horizonDays int
}

func NewSimulator(horizonDays int) *Simulator {
	return &Simulator{horizonDays: horizonDays}
}

// Simulate builds the impact snapshot for a task against the baseline series.
// The effective horizon is the configured horizon clipped to the series
// length. The input series and task are never mutated.
func (s *Simulator) Simulate(t *task.Task, series *forecast.Series) (*task.ImpactSnapshot, error) {
	horizon := s.horizonDays
	if len(series.Points) < horizon {
		horizon = len(series.Points)
	}

	if horizon == 0 {
		return nil, errors.New("forecast series has no points")
	}

	window := series.Points[:horizon]

	deltas, err := actionDeltas(t, window)
	if err != nil {
		return nil, err
	}

	baseline := decimal.Zero
	for _, p := range window {
		baseline = baseline.Add(p.Net)
	}

	total := decimal.Zero
	for _, d := range deltas {
		total = total.Add(d.Delta)
	}

	return &task.ImpactSnapshot{
		Horizon:      horizon,
		BaselineNet:  baseline,
		ProjectedNet: baseline.Add(total),
		ResolvesDip:  staysAboveWater(window, deltas),
		Deltas:       deltas,
		GeneratedAt:  time.Now().UTC(),
	}, nil
}

// actionDeltas renders the task's expected effect as a daily delta series
// inside the window.
func actionDeltas(t *task.Task, points []forecast.Point) ([]task.ImpactDelta, error) {
	horizon := len(points)

	switch t.Kind {
	case task.KindPayment:
		day := paymentLagDays
		if day > horizon {
			day = horizon
		}

		return []task.ImpactDelta{{Date: points[day-1].Date, Delta: t.Payload.ExpectedDelta}}, nil
	case task.KindReminder:
		day := reminderLagDays
		if day > horizon {
			day = horizon
		}

		return []task.ImpactDelta{{Date: points[day-1].Date, Delta: t.Payload.ExpectedDelta}}, nil
	case task.KindReorder:
		costDay := reorderCostDay
		if costDay > horizon {
			costDay = horizon
		}

		deltas := []task.ImpactDelta{{Date: points[costDay-1].Date, Delta: t.Payload.Amount.Neg()}}

		uplift := t.Payload.ExpectedDelta

		rest := horizon - costDay
		if rest <= 0 {
			deltas[0].Delta = deltas[0].Delta.Add(uplift)
			return deltas, nil
		}

		// Spread the uplift evenly over the remaining days, keeping the
		// rounded parts summing exactly to the estimate.
		perDay := uplift.Div(decimal.NewFromInt(int64(rest))).Round(2)
		assigned := decimal.Zero

		for i := costDay; i < horizon; i++ {
			d := perDay
			if i == horizon-1 {
				d = uplift.Sub(assigned)
			}

			assigned = assigned.Add(d)
			deltas = append(deltas, task.ImpactDelta{Date: points[i].Date, Delta: d})
		}

		return deltas, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, t.Kind)
	}
}

// staysAboveWater reports whether the running worst-case balance, lower bound
// plus applied deltas, holds at or above zero through the window.
func staysAboveWater(points []forecast.Point, deltas []task.ImpactDelta) bool {
	byDate := make(map[time.Time]decimal.Decimal, len(deltas))
	for _, d := range deltas {
		byDate[d.Date] = byDate[d.Date].Add(d.Delta)
	}

	running := decimal.Zero

	for _, p := range points {
		running = running.Add(p.Lower)
		running = running.Add(byDate[p.Date])

		if running.IsNegative() {
			return false
		}
	}

	return true
}
