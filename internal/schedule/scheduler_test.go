package schedule_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsentry/flowsentry/internal/advisor"
	"github.com/flowsentry/flowsentry/internal/schedule"
	"github.com/flowsentry/flowsentry/internal/schedule/memstore"
	"github.com/flowsentry/flowsentry/internal/tenant"
	tenantmem "github.com/flowsentry/flowsentry/internal/tenant/memstore"
)

// gosched yields real time so the loop and worker goroutines can observe the
// mock clock before a test asserts or advances it again.
func gosched() {
	time.Sleep(20 * time.Millisecond)
}

type stubAdvisor struct {
	mu    sync.Mutex
	runs  map[uuid.UUID]int
	block map[uuid.UUID]chan struct{}
	err   error
}

func newStubAdvisor() *stubAdvisor {
	return &stubAdvisor{
		runs:  make(map[uuid.UUID]int),
		block: make(map[uuid.UUID]chan struct{}),
	}
}

func (s *stubAdvisor) RunCycle(ctx context.Context, tn *tenant.Tenant) (*advisor.CycleResult, error) {
	s.mu.Lock()
	s.runs[tn.ID]++
	gate := s.block[tn.ID]
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if s.err != nil {
		return nil, s.err
	}

	return &advisor.CycleResult{}, nil
}

// gate makes every future run for the tenant block until the returned
// channel is closed or the run context is cancelled.
func (s *stubAdvisor) gate(id uuid.UUID) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan struct{})
	s.block[id] = ch

	return ch
}

func (s *stubAdvisor) count(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.runs[id]
}

type stubReports struct {
	mu   sync.Mutex
	sent []uuid.UUID
}

func (s *stubReports) Send(_ context.Context, tn *tenant.Tenant, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sent = append(s.sent, tn.ID)

	return nil
}

func (s *stubReports) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sent)
}

type fixture struct {
	sched   *schedule.Scheduler
	advisor *stubAdvisor
	reports *stubReports
	runs    *memstore.Store
	tenants *tenant.Service
	clock   *clock.Mock
}

func newFixture(t *testing.T, workers int) *fixture {
	t.Helper()

	mock := clock.NewMock()
	mock.Set(time.Now().UTC())

	f := &fixture{
		advisor: newStubAdvisor(),
		reports: &stubReports{},
		runs:    memstore.New(),
		tenants: tenant.NewService(tenantmem.New()),
		clock:   mock,
	}

	f.sched = schedule.New(schedule.Params{
		Tenants:          f.tenants,
		Advisor:          f.advisor,
		Reports:          f.reports,
		Runs:             f.runs,
		Clock:            mock,
		Tick:             5 * time.Minute,
		AdvisoryInterval: 24 * time.Hour,
		CatchUpWindow:    48 * time.Hour,
		Workers:          workers,
	})

	return f
}

func (f *fixture) addTenant(t *testing.T, name string) *tenant.Tenant {
	t.Helper()

	tn, err := f.tenants.Create(context.Background(), tenant.CreateParams{
		Name:           name,
		ChannelAddress: "+91900000001",
		Timezone:       "Asia/Kolkata",
	})
	require.NoError(t, err)

	return tn
}

// nextSundayEvening returns a moment just before the weekly report slot on
// the first Sunday after the wall clock's today.
func nextSundayEvening(t *testing.T, tz string) time.Time {
	t.Helper()

	loc, err := time.LoadLocation(tz)
	require.NoError(t, err)

	local := time.Now().In(loc)

	days := (int(time.Sunday) - int(local.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}

	d := local.AddDate(0, 0, days)

	return time.Date(d.Year(), d.Month(), d.Day(), 17, 59, 0, 0, loc)
}

func TestScheduler_RunsDueAdvisoriesOnStart(t *testing.T) {
	f := newFixture(t, 2)
	a := f.addTenant(t, "Chai Point")
	b := f.addTenant(t, "Goel Traders")

	f.sched.Start(context.Background())
	defer f.sched.Stop()

	require.Eventually(t, func() bool {
		return f.advisor.count(a.ID) == 1 && f.advisor.count(b.ID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	last, err := f.runs.LastSuccess(context.Background(), a.ID, schedule.JobAdvisory)
	require.NoError(t, err)
	assert.False(t, last.IsZero())
}

func TestScheduler_AdvisoryWaitsForInterval(t *testing.T) {
	f := newFixture(t, 1)
	tn := f.addTenant(t, "Chai Point")
	ctx := context.Background()

	require.NoError(t, f.runs.RecordSuccess(ctx, tn.ID, schedule.JobAdvisory, f.clock.Now().UTC().Add(-10*time.Hour)))

	f.sched.Start(ctx)
	defer f.sched.Stop()

	gosched()
	assert.Equal(t, 0, f.advisor.count(tn.ID))

	// Crossing the 24h interval makes the next sweep fire the cycle.
	f.clock.Add(14*time.Hour + 5*time.Minute)

	require.Eventually(t, func() bool {
		return f.advisor.count(tn.ID) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_AdvisoryCatchUpAfterShortDowntime(t *testing.T) {
	f := newFixture(t, 1)
	tn := f.addTenant(t, "Chai Point")
	ctx := context.Background()

	// Overdue by 6h, well inside the 48h catch-up window.
	require.NoError(t, f.runs.RecordSuccess(ctx, tn.ID, schedule.JobAdvisory, f.clock.Now().UTC().Add(-30*time.Hour)))

	f.sched.Start(ctx)
	defer f.sched.Stop()

	require.Eventually(t, func() bool {
		return f.advisor.count(tn.ID) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_StaleAdvisoryReanchorsInsteadOfRunning(t *testing.T) {
	f := newFixture(t, 1)
	tn := f.addTenant(t, "Chai Point")
	ctx := context.Background()

	// Five days of downtime is far past the catch-up window: the backlog is
	// dropped and the schedule re-anchored at now.
	require.NoError(t, f.runs.RecordSuccess(ctx, tn.ID, schedule.JobAdvisory, f.clock.Now().UTC().Add(-5*24*time.Hour)))

	f.sched.Start(ctx)
	defer f.sched.Stop()

	require.Eventually(t, func() bool {
		last, err := f.runs.LastSuccess(ctx, tn.ID, schedule.JobAdvisory)
		return err == nil && f.clock.Now().UTC().Sub(last) < time.Hour
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, f.advisor.count(tn.ID))
}

func TestScheduler_WeeklyReportFiresSundayEvening(t *testing.T) {
	f := newFixture(t, 2)
	tn := f.addTenant(t, "Chai Point")
	ctx := context.Background()

	eve := nextSundayEvening(t, "Asia/Kolkata")
	f.clock.Set(eve)

	// Keep the advisory quiet so only the report fires.
	require.NoError(t, f.runs.RecordSuccess(ctx, tn.ID, schedule.JobAdvisory, f.clock.Now().UTC()))

	f.sched.Start(ctx)
	defer f.sched.Stop()

	gosched()
	assert.Equal(t, 0, f.reports.count())

	// Two ticks past 18:00 local; the in-flight dedup and the recorded
	// success keep it to a single send.
	f.clock.Add(10 * time.Minute)

	require.Eventually(t, func() bool {
		return f.reports.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.clock.Add(5 * time.Minute)
	gosched()
	assert.Equal(t, 1, f.reports.count())

	last, err := f.runs.LastSuccess(ctx, tn.ID, schedule.JobReport)
	require.NoError(t, err)
	assert.False(t, last.IsZero())
}

func TestScheduler_ReportMissedBeyondWindowWaitsForNextSlot(t *testing.T) {
	f := newFixture(t, 1)
	tn := f.addTenant(t, "Chai Point")
	ctx := context.Background()

	// Wednesday, three days after a Sunday slot that was never sent.
	f.clock.Set(nextSundayEvening(t, "Asia/Kolkata").Add(72 * time.Hour))

	require.NoError(t, f.runs.RecordSuccess(ctx, tn.ID, schedule.JobAdvisory, f.clock.Now().UTC()))

	f.sched.Start(ctx)
	defer f.sched.Stop()

	gosched()
	assert.Equal(t, 0, f.reports.count())
}

func TestScheduler_SlowTenantDoesNotDelayOthers(t *testing.T) {
	f := newFixture(t, 2)
	slow := f.addTenant(t, "Slow Mart")
	fast := f.addTenant(t, "Chai Point")
	ctx := context.Background()

	gate := f.advisor.gate(slow.ID)

	f.sched.Start(ctx)
	defer f.sched.Stop()

	require.Eventually(t, func() bool {
		last, err := f.runs.LastSuccess(ctx, fast.ID, schedule.JobAdvisory)
		return err == nil && !last.IsZero()
	}, 2*time.Second, 10*time.Millisecond)

	// The slow run started but has not completed.
	assert.Equal(t, 1, f.advisor.count(slow.ID))

	last, err := f.runs.LastSuccess(ctx, slow.ID, schedule.JobAdvisory)
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	close(gate)

	require.Eventually(t, func() bool {
		last, err := f.runs.LastSuccess(ctx, slow.ID, schedule.JobAdvisory)
		return err == nil && !last.IsZero()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_InFlightRunNotEnqueuedTwice(t *testing.T) {
	f := newFixture(t, 2)
	tn := f.addTenant(t, "Chai Point")
	ctx := context.Background()

	gate := f.advisor.gate(tn.ID)

	f.sched.Start(ctx)
	defer f.sched.Stop()

	require.Eventually(t, func() bool {
		return f.advisor.count(tn.ID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// More sweeps while the first run is still blocked.
	f.clock.Add(5 * time.Minute)
	f.clock.Add(5 * time.Minute)
	gosched()

	assert.Equal(t, 1, f.advisor.count(tn.ID))

	close(gate)

	require.Eventually(t, func() bool {
		last, err := f.runs.LastSuccess(ctx, tn.ID, schedule.JobAdvisory)
		return err == nil && !last.IsZero()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_ForceRunsRegardlessOfSchedule(t *testing.T) {
	f := newFixture(t, 1)
	tn := f.addTenant(t, "Chai Point")
	ctx := context.Background()

	// Nothing is due, and the scheduler is not even started.
	require.NoError(t, f.runs.RecordSuccess(ctx, tn.ID, schedule.JobAdvisory, f.clock.Now().UTC()))

	require.NoError(t, f.sched.Force(ctx, tn.ID, schedule.JobAdvisory))
	assert.Equal(t, 1, f.advisor.count(tn.ID))

	require.NoError(t, f.sched.Force(ctx, tn.ID, schedule.JobReport))
	assert.Equal(t, 1, f.reports.count())
}

func TestScheduler_ForceSurfacesJobError(t *testing.T) {
	f := newFixture(t, 1)
	tn := f.addTenant(t, "Chai Point")
	ctx := context.Background()

	f.advisor.err = errors.New("pipeline exploded")

	require.Error(t, f.sched.Force(ctx, tn.ID, schedule.JobAdvisory))

	last, err := f.runs.LastSuccess(ctx, tn.ID, schedule.JobAdvisory)
	require.NoError(t, err)
	assert.True(t, last.IsZero())
}

func TestScheduler_ForceRejectsUnknownTenantAndJob(t *testing.T) {
	f := newFixture(t, 1)
	tn := f.addTenant(t, "Chai Point")
	ctx := context.Background()

	err := f.sched.Force(ctx, uuid.New(), schedule.JobAdvisory)
	assert.ErrorIs(t, err, tenant.ErrNotFound)

	err = f.sched.Force(ctx, tn.ID, schedule.Job("nightly"))
	assert.Error(t, err)
}

func TestScheduler_ForceWhileInFlight(t *testing.T) {
	f := newFixture(t, 1)
	tn := f.addTenant(t, "Chai Point")
	ctx := context.Background()

	gate := f.advisor.gate(tn.ID)

	done := make(chan error, 1)

	go func() {
		done <- f.sched.Force(ctx, tn.ID, schedule.JobAdvisory)
	}()

	require.Eventually(t, func() bool {
		return f.advisor.count(tn.ID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, f.sched.Force(ctx, tn.ID, schedule.JobAdvisory), schedule.ErrRunInFlight)

	close(gate)
	require.NoError(t, <-done)
}

func TestScheduler_StopCancelsInFlightRuns(t *testing.T) {
	f := newFixture(t, 1)
	tn := f.addTenant(t, "Chai Point")
	ctx := context.Background()

	// Never released: the run can only end through context cancellation.
	f.advisor.gate(tn.ID)

	f.sched.Start(ctx)

	require.Eventually(t, func() bool {
		return f.advisor.count(tn.ID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	stopped := make(chan struct{})

	go func() {
		f.sched.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop while a run was blocked")
	}

	last, err := f.runs.LastSuccess(ctx, tn.ID, schedule.JobAdvisory)
	require.NoError(t, err)
	assert.True(t, last.IsZero())
}
