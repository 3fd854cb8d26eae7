// Package schedule drives the recurring per-tenant jobs: the daily advisory
// cycle and the weekly report. Due times are derived from the last recorded
// success per (tenant, job), so catch-up after downtime survives restarts.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/flowsentry/flowsentry/internal/advisor"
	"github.com/flowsentry/flowsentry/internal/metrics"
	"github.com/flowsentry/flowsentry/internal/tenant"
)

type Job string

const (
	JobAdvisory Job = "advisory"
	JobReport   Job = "report"
)

// ErrRunInFlight is returned by Force when the same job for the same tenant
// is already queued or running.
var ErrRunInFlight = errors.New("run already in flight")

// reportSlotHour is the local hour on Sunday after which the weekly report
// becomes due.
const reportSlotHour = 18

type RunsRepository interface {
	// LastSuccess returns the zero time when the job never completed.
	LastSuccess(ctx context.Context, tenantID uuid.UUID, job Job) (time.Time, error)
	RecordSuccess(ctx context.Context, tenantID uuid.UUID, job Job, at time.Time) error
}

type AdvisoryRunner interface {
	RunCycle(ctx context.Context, tn *tenant.Tenant) (*advisor.CycleResult, error)
}

type ReportSender interface {
	Send(ctx context.Context, tn *tenant.Tenant, asOf time.Time) error
}

type Scheduler struct {
	tenants *tenant.Service
	advisor AdvisoryRunner
	reports ReportSender
	runs    RunsRepository
	clock   clock.Clock

	tick             time.Duration
	advisoryInterval time.Duration
	catchUpWindow    time.Duration
	workers          int

	queue  chan run
	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu       sync.Mutex
	inFlight map[runKey]struct{}
}

type run struct {
	tenant *tenant.Tenant
	job    Job
}

type runKey struct {
	tenantID uuid.UUID
	job      Job
}

type Params struct {
	Tenants *tenant.Service
	Advisor AdvisoryRunner
	Reports ReportSender
	Runs    RunsRepository
	Clock   clock.Clock

	Tick             time.Duration
	AdvisoryInterval time.Duration
	CatchUpWindow    time.Duration
	Workers          int
}

func New(p Params) *Scheduler {
	if p.Clock == nil {
		p.Clock = clock.New()
	}

	if p.Tick <= 0 {
		p.Tick = time.Minute
	}

	if p.AdvisoryInterval <= 0 {
		p.AdvisoryInterval = 24 * time.Hour
	}

	if p.CatchUpWindow <= 0 {
		p.CatchUpWindow = 48 * time.Hour
	}

	if p.Workers <= 0 {
		p.Workers = 4
	}

	return &Scheduler{
		tenants:          p.Tenants,
		advisor:          p.Advisor,
		reports:          p.Reports,
		runs:             p.Runs,
		clock:            p.Clock,
		tick:             p.Tick,
		advisoryInterval: p.AdvisoryInterval,
		catchUpWindow:    p.CatchUpWindow,
		workers:          p.Workers,
		queue:            make(chan run, p.Workers*8),
		inFlight:         make(map[runKey]struct{}),
	}
}

// Start launches the worker pool and the tick loop. The first sweep runs
// immediately so catch-up after a restart does not wait a full tick.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)

		go s.worker(ctx)
	}

	s.wg.Add(1)

	go s.loop(ctx)
}

// Stop cancels the loop and all in-flight runs and waits for the workers to
// exit. Task transitions are single conditional writes, so an interrupted
// cycle leaves every task in a valid state for Resume to pick up.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}

	s.wg.Wait()
}

// Force runs one job for one tenant immediately, bypassing the due check but
// not the in-flight dedup. The job error is returned to the caller.
func (s *Scheduler) Force(ctx context.Context, tenantID uuid.UUID, job Job) error {
	if job != JobAdvisory && job != JobReport {
		return fmt.Errorf("unknown job %q", job)
	}

	tn, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return err
	}

	key := runKey{tenantID: tn.ID, job: job}
	if !s.acquire(key) {
		return ErrRunInFlight
	}
	defer s.release(key)

	if err := s.runJob(ctx, tn, job); err != nil {
		return err
	}

	if err := s.runs.RecordSuccess(ctx, tn.ID, job, s.clock.Now().UTC()); err != nil {
		slog.Error("recording forced run", "tenant_id", tn.ID, "job", string(job), "error", err)
	}

	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := s.clock.Ticker(s.tick)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// sweep enqueues every due (tenant, job) pair. One slow tenant never delays
// another: sweeps only enqueue, workers run.
func (s *Scheduler) sweep(ctx context.Context) {
	tenants, err := s.tenants.List(ctx, tenant.ListFilter{OnlyActive: true})
	if err != nil {
		slog.Error("listing tenants for scheduler sweep", "error", err)
		return
	}

	metrics.TenantsScheduled.Set(float64(len(tenants)))

	now := s.clock.Now().UTC()

	for _, tn := range tenants {
		s.consider(ctx, tn, JobAdvisory, now)
		s.consider(ctx, tn, JobReport, now)
	}
}

func (s *Scheduler) consider(ctx context.Context, tn *tenant.Tenant, job Job, now time.Time) {
	last, err := s.runs.LastSuccess(ctx, tn.ID, job)
	if err != nil {
		slog.Error("loading last run", "tenant_id", tn.ID, "job", string(job), "error", err)
		return
	}

	var due bool

	switch job {
	case JobAdvisory:
		var stale bool

		due, stale = s.advisoryState(last, now)
		if stale {
			slog.Warn("advisory overdue beyond catch-up window, re-anchoring",
				"tenant_id", tn.ID, "last_success", last)

			if err := s.runs.RecordSuccess(ctx, tn.ID, job, now); err != nil {
				slog.Error("re-anchoring advisory run", "tenant_id", tn.ID, "error", err)
			}

			return
		}
	case JobReport:
		due = s.reportDue(tn, last, now)
	}

	if !due {
		return
	}

	s.enqueue(tn, job)
}

// advisoryState reports whether the daily cycle is due. A run overdue beyond
// the catch-up window is stale: it is skipped and re-anchored instead of
// fired long after the moment it was meant to cover.
func (s *Scheduler) advisoryState(last, now time.Time) (due, stale bool) {
	if last.IsZero() {
		return true, false
	}

	next := last.Add(s.advisoryInterval)
	if now.Before(next) {
		return false, false
	}

	if now.Sub(next) > s.catchUpWindow {
		return false, true
	}

	return true, false
}

// reportDue reports whether the weekly summary is due: the most recent Sunday
// evening slot in the tenant's timezone has passed, postdates both the last
// send and the tenant's onboarding, and is still within the catch-up window.
func (s *Scheduler) reportDue(tn *tenant.Tenant, last, now time.Time) bool {
	loc, err := tn.Location()
	if err != nil {
		slog.Warn("invalid tenant timezone, scheduling report in UTC",
			"tenant_id", tn.ID, "timezone", tn.Timezone)

		loc = time.UTC
	}

	slot := lastReportSlot(now, loc)
	if !slot.After(last) || !slot.After(tn.CreatedAt) {
		return false
	}

	return now.Sub(slot) <= s.catchUpWindow
}

// lastReportSlot returns the most recent Sunday at reportSlotHour in loc at
// or before now.
func lastReportSlot(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)

	daysBack := int(local.Weekday() - time.Sunday)
	slot := time.Date(local.Year(), local.Month(), local.Day()-daysBack, reportSlotHour, 0, 0, 0, loc)

	if slot.After(now) {
		slot = slot.AddDate(0, 0, -7)
	}

	return slot
}

func (s *Scheduler) enqueue(tn *tenant.Tenant, job Job) {
	key := runKey{tenantID: tn.ID, job: job}
	if !s.acquire(key) {
		return
	}

	select {
	case s.queue <- run{tenant: tn, job: job}:
	default:
		s.release(key)
		slog.Warn("scheduler queue full, run postponed", "tenant_id", tn.ID, "job", string(job))
	}
}

func (s *Scheduler) acquire(key runKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.inFlight[key]; busy {
		return false
	}

	s.inFlight[key] = struct{}{}

	return true
}

func (s *Scheduler) release(key runKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inFlight, key)
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case r := <-s.queue:
			s.process(ctx, r)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) process(ctx context.Context, r run) {
	defer s.release(runKey{tenantID: r.tenant.ID, job: r.job})

	if err := s.runJob(ctx, r.tenant, r.job); err != nil {
		slog.Error("scheduled run failed", "tenant_id", r.tenant.ID, "job", string(r.job), "error", err)
		return
	}

	if err := s.runs.RecordSuccess(ctx, r.tenant.ID, r.job, s.clock.Now().UTC()); err != nil {
		slog.Error("recording run success", "tenant_id", r.tenant.ID, "job", string(r.job), "error", err)
	}
}

func (s *Scheduler) runJob(ctx context.Context, tn *tenant.Tenant, job Job) error {
	switch job {
	case JobAdvisory:
		_, err := s.advisor.RunCycle(ctx, tn)

		return err
	case JobReport:
		start := time.Now()

		err := s.reports.Send(ctx, tn, s.clock.Now().UTC())

		status := "ok"
		if err != nil {
			status = "error"
		}

		metrics.CyclesRun.WithLabelValues(string(JobReport), status).Inc()
		metrics.CycleDuration.WithLabelValues(string(JobReport)).Observe(time.Since(start).Seconds())

		return err
	default:
		return fmt.Errorf("unknown job %q", job)
	}
}
