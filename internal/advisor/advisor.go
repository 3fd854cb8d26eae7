// Package advisor runs the per-tenant advisory cycle: expire stale tasks,
// resume interrupted ones, forecast, detect risk, propose actions, simulate
// their impact and send them out for confirmation.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/flowsentry/flowsentry/internal/forecast"
	"github.com/flowsentry/flowsentry/internal/metrics"
	"github.com/flowsentry/flowsentry/internal/record"
	"github.com/flowsentry/flowsentry/internal/risk"
	"github.com/flowsentry/flowsentry/internal/task"
	"github.com/flowsentry/flowsentry/internal/tenant"
)

type RecordLister interface {
	List(ctx context.Context, filter record.ListFilter) ([]*record.Record, error)
}

type Detector interface {
	Detect(ctx context.Context, tenantID uuid.UUID, series *forecast.Series, history []*record.Record) (*risk.Event, bool, error)
}

type Proposer interface {
	Propose(ctx context.Context, ev *risk.Event, recs []*record.Record) ([]*task.Task, error)
}

type Simulator interface {
	Simulate(t *task.Task, series *forecast.Series) (*task.ImpactSnapshot, error)
}

// Advisor wires the pipeline steps together. One Advisor serves all tenants;
// each RunCycle call works on a single tenant and failures stay contained to
// that call.
type Advisor struct {
	forecaster forecast.Forecaster
	records    RecordLister
	detector   Detector
	engine     Proposer
	simulator  Simulator
	tasks      *task.Orchestrator
	clock      clock.Clock

	lookbackDays int
	stepTimeout  time.Duration
}

type Params struct {
	Forecaster forecast.Forecaster
	Records    RecordLister
	Detector   Detector
	Engine     Proposer
	Simulator  Simulator
	Tasks      *task.Orchestrator
	Clock      clock.Clock

	LookbackDays int
	StepTimeout  time.Duration
}

func New(p Params) *Advisor {
	if p.Clock == nil {
		p.Clock = clock.New()
	}

	if p.LookbackDays <= 0 {
		p.LookbackDays = 60
	}

	if p.StepTimeout <= 0 {
		p.StepTimeout = 30 * time.Second
	}

	return &Advisor{
		forecaster:   p.Forecaster,
		records:      p.Records,
		detector:     p.Detector,
		engine:       p.Engine,
		simulator:    p.Simulator,
		tasks:        p.Tasks,
		clock:        p.Clock,
		lookbackDays: p.LookbackDays,
		stepTimeout:  p.StepTimeout,
	}
}

// CycleResult counts what one advisory cycle did.
type CycleResult struct {
	Expired   int
	Resumed   int
	Detected  bool
	Proposed  int
	Simulated int
	Sent      int
}

// RunCycle executes the full advisory pipeline for one tenant. A tenant with
// too little history is healthy, not an error. Simulation and delivery
// failures skip the affected task and leave it for the next cycle.
func (a *Advisor) RunCycle(ctx context.Context, tn *tenant.Tenant) (res *CycleResult, err error) {
	start := time.Now()

	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}

		metrics.CyclesRun.WithLabelValues("advisory", status).Inc()
		metrics.CycleDuration.WithLabelValues("advisory").Observe(time.Since(start).Seconds())
	}()

	res = &CycleResult{}

	// Housekeeping first, so stale tasks cannot shadow fresh proposals and
	// interrupted ones finish before new work begins.
	err = a.step(ctx, func(stepCtx context.Context) error {
		expired, stepErr := a.tasks.ExpireStale(stepCtx, tn.ID)
		res.Expired = expired

		if stepErr != nil {
			return fmt.Errorf("expiring stale tasks: %w", stepErr)
		}

		return nil
	})
	if err != nil {
		return res, err
	}

	err = a.step(ctx, func(stepCtx context.Context) error {
		resumed, stepErr := a.tasks.Resume(stepCtx, tn.ID)
		res.Resumed = resumed

		if stepErr != nil {
			return fmt.Errorf("resuming tasks: %w", stepErr)
		}

		return nil
	})
	if err != nil {
		return res, err
	}

	asOf := a.clock.Now().UTC()

	var series *forecast.Series

	err = a.step(ctx, func(stepCtx context.Context) error {
		var stepErr error
		series, stepErr = a.forecaster.Forecast(stepCtx, tn.ID, asOf)

		return stepErr
	})
	if errors.Is(err, forecast.ErrInsufficientHistory) {
		slog.Info("not enough history to forecast, skipping detection", "tenant_id", tn.ID)
		return res, nil
	}

	if err != nil {
		return res, fmt.Errorf("forecasting: %w", err)
	}

	from := asOf.AddDate(0, 0, -a.lookbackDays)

	var history []*record.Record

	err = a.step(ctx, func(stepCtx context.Context) error {
		var stepErr error
		history, stepErr = a.records.List(stepCtx, record.ListFilter{TenantID: tn.ID, From: &from, To: &asOf})

		return stepErr
	})
	if err != nil {
		return res, fmt.Errorf("listing history: %w", err)
	}

	var ev *risk.Event

	err = a.step(ctx, func(stepCtx context.Context) error {
		var created bool
		var stepErr error

		ev, created, stepErr = a.detector.Detect(stepCtx, tn.ID, series, history)
		if stepErr != nil {
			return stepErr
		}

		if ev != nil && created {
			slog.Info("cash dip detected",
				"tenant_id", tn.ID, "severity", ev.Severity, "detected_on", ev.DetectedOn.Format(time.DateOnly))
		}

		return nil
	})
	if err != nil {
		return res, fmt.Errorf("detecting risk: %w", err)
	}

	if ev == nil {
		return res, nil
	}

	res.Detected = true

	var proposed []*task.Task

	err = a.step(ctx, func(stepCtx context.Context) error {
		var stepErr error
		proposed, stepErr = a.engine.Propose(stepCtx, ev, history)

		return stepErr
	})
	if err != nil {
		return res, fmt.Errorf("proposing actions: %w", err)
	}

	res.Proposed = len(proposed)

	for _, tk := range proposed {
		switch tk.State {
		case task.StateProposed, task.StateSimulated:
		default:
			// Already past sending, nothing left for this cycle to do.
			continue
		}

		id := tk.ID

		err = a.step(ctx, func(stepCtx context.Context) error {
			_, stepErr := a.tasks.Simulate(stepCtx, id, func(cur *task.Task) (*task.ImpactSnapshot, error) {
				return a.simulator.Simulate(cur, series)
			})

			return stepErr
		})
		if err != nil {
			slog.Warn("simulation failed, task stays proposed", "task_id", id, "error", err)
			err = nil

			continue
		}

		res.Simulated++

		err = a.step(ctx, func(stepCtx context.Context) error {
			_, stepErr := a.tasks.Send(stepCtx, id)

			return stepErr
		})
		if err != nil {
			slog.Warn("delivery failed, task stays open", "task_id", id, "error", err)
			err = nil

			continue
		}

		res.Sent++
	}

	return res, nil
}

// step runs one pipeline stage under its own timeout.
func (a *Advisor) step(ctx context.Context, fn func(context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, a.stepTimeout)
	defer cancel()

	return fn(stepCtx)
}
