package advisor_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/flowsentry/flowsentry/internal/advisor"
	"github.com/flowsentry/flowsentry/internal/forecast"
	"github.com/flowsentry/flowsentry/internal/impact"
	"github.com/flowsentry/flowsentry/internal/notify"
	"github.com/flowsentry/flowsentry/internal/proposal"
	"github.com/flowsentry/flowsentry/internal/record"
	recordmem "github.com/flowsentry/flowsentry/internal/record/memstore"
	"github.com/flowsentry/flowsentry/internal/risk"
	riskmem "github.com/flowsentry/flowsentry/internal/risk/memstore"
	"github.com/flowsentry/flowsentry/internal/task"
	taskmem "github.com/flowsentry/flowsentry/internal/task/memstore"
	"github.com/flowsentry/flowsentry/internal/tenant"
	tenantmem "github.com/flowsentry/flowsentry/internal/tenant/memstore"
)

var asOf = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type stubForecaster struct {
	build func(tenantID uuid.UUID) *forecast.Series
	err   error
}

func (s stubForecaster) Forecast(_ context.Context, tenantID uuid.UUID, _ time.Time) (*forecast.Series, error) {
	if s.err != nil {
		return nil, s.err
	}

	return s.build(tenantID), nil
}

type failingSimulator struct{}

func (failingSimulator) Simulate(*task.Task, *forecast.Series) (*task.ImpactSnapshot, error) {
	return nil, errors.New("no impact profile")
}

// weakSeries projects well under the seeded weekly baseline of 100000.
func weakSeries(tenantID uuid.UUID) *forecast.Series {
	points := make([]forecast.Point, 7)

	for i := range points {
		points[i] = forecast.Point{
			Date:  asOf.AddDate(0, 0, i+1),
			Net:   decimal.NewFromInt(10000),
			Lower: decimal.NewFromInt(-1000),
			Upper: decimal.NewFromInt(20000),
		}
	}

	return &forecast.Series{TenantID: tenantID, AsOf: asOf, Points: points}
}

type fixture struct {
	tasks   *taskmem.Store
	risks   *riskmem.Store
	records *recordmem.Store
	gateway *notify.MockGateway
	clock   *clock.Mock
	orch    *task.Orchestrator
	tenant  *tenant.Tenant
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctrl := gomock.NewController(t)

	tenants := tenantmem.New()
	tn := &tenant.Tenant{Name: "Chai Point", ChannelAddress: "+91900000001", Timezone: "Asia/Kolkata", Active: true}
	require.NoError(t, tenants.CreateTenant(context.Background(), tn))

	mock := clock.NewMock()
	mock.Set(asOf)

	f := &fixture{
		tasks:   taskmem.New(),
		risks:   riskmem.New(),
		records: recordmem.New(),
		gateway: notify.NewMockGateway(ctrl),
		clock:   mock,
		tenant:  tn,
	}

	f.orch = task.NewOrchestrator(task.OrchestratorParams{
		Repo:                f.tasks,
		Tenants:             tenant.NewService(tenants),
		Gateway:             f.gateway,
		Registry:            task.NewRegistry(),
		Clock:               mock,
		TTL:                 72 * time.Hour,
		MaxDeliveryAttempts: 5,
	})

	return f
}

// newAdvisor builds an advisor over the fixture's shared stores, so a test
// can run consecutive cycles with different forecasters or simulators.
func (f *fixture) newAdvisor(forecaster forecast.Forecaster, sim advisor.Simulator) *advisor.Advisor {
	if sim == nil {
		sim = impact.NewSimulator(14)
	}

	return advisor.New(advisor.Params{
		Forecaster:   forecaster,
		Records:      record.NewService(f.records),
		Detector:     risk.NewDetector(f.risks, 0.2),
		Engine:       proposal.NewEngine(proposal.NewStatic(nil), f.orch, f.risks),
		Simulator:    sim,
		Tasks:        f.orch,
		Clock:        f.clock,
		LookbackDays: 60,
		StepTimeout:  5 * time.Second,
	})
}

// seedBaseline records one strong inflow per recent week plus an overdue
// receivable the engine can chase.
func (f *fixture) seedBaseline(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	for _, daysAgo := range []int{2, 9, 16, 27} {
		err := f.records.CreateRecord(ctx, &record.Record{
			TenantID:   f.tenant.ID,
			OccurredOn: asOf.AddDate(0, 0, -daysAgo),
			Direction:  record.DirectionInflow,
			Amount:     decimal.NewFromInt(100000),
			Source:     record.SourceImport,
		})
		require.NoError(t, err)
	}

	dueOn := asOf.AddDate(0, 0, -10)

	err := f.records.CreateRecord(ctx, &record.Record{
		TenantID:     f.tenant.ID,
		OccurredOn:   asOf.AddDate(0, 0, -25),
		Direction:    record.DirectionInflow,
		Amount:       decimal.NewFromInt(8000),
		Counterparty: "Patel Kirana",
		Role:         record.RoleCustomer,
		Source:       record.SourceChat,
		DueOn:        &dueOn,
	})
	require.NoError(t, err)
}

func TestAdvisor_FullCycleSendsAdvisory(t *testing.T) {
	f := newFixture(t)
	f.seedBaseline(t)

	adv := f.newAdvisor(stubForecaster{build: weakSeries}, nil)

	var gotKey string
	var gotMsg notify.Message

	f.gateway.EXPECT().
		Deliver(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, key string, msg notify.Message) (*notify.Receipt, error) {
			gotKey = key
			gotMsg = msg
			return &notify.Receipt{ID: "rcpt-1", AcceptedAt: time.Now()}, nil
		})

	res, err := adv.RunCycle(context.Background(), f.tenant)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Expired)
	assert.Equal(t, 0, res.Resumed)
	assert.True(t, res.Detected)
	assert.Equal(t, 1, res.Proposed)
	assert.Equal(t, 1, res.Simulated)
	assert.Equal(t, 1, res.Sent)

	// The moderate shortfall lands in the reminder band.
	assert.True(t, strings.HasPrefix(gotKey, "task-"))
	assert.Equal(t, f.tenant.ChannelAddress, gotMsg.To)
	assert.Contains(t, gotMsg.Body, "Patel Kirana")
	assert.Contains(t, gotMsg.Body, "Reply YES")

	open, err := f.tasks.ListTasks(context.Background(), task.ListFilter{TenantID: f.tenant.ID})
	require.NoError(t, err)
	require.Len(t, open, 1)

	sent := open[0]
	assert.Equal(t, task.KindReminder, sent.Kind)
	assert.Equal(t, task.StateSent, sent.State)
	assert.Equal(t, "rcpt-1", sent.ReceiptID)
	require.NotNil(t, sent.Impact)
	assert.Equal(t, 7, sent.Impact.Horizon)

	events, err := f.risks.ListEvents(context.Background(), f.tenant.ID, asOf.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.InDelta(t, 0.3137, events[0].Severity, 0.001)
	assert.Equal(t, []uuid.UUID{sent.ID}, events[0].CandidateActionIDs)
}

func TestAdvisor_SecondRunSameDayAddsNothing(t *testing.T) {
	f := newFixture(t)
	f.seedBaseline(t)

	adv := f.newAdvisor(stubForecaster{build: weakSeries}, nil)

	f.gateway.EXPECT().
		Deliver(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&notify.Receipt{ID: "rcpt-1", AcceptedAt: time.Now()}, nil)

	_, err := adv.RunCycle(context.Background(), f.tenant)
	require.NoError(t, err)

	// No further Deliver expectation: the re-run must not touch the gateway.
	res, err := adv.RunCycle(context.Background(), f.tenant)
	require.NoError(t, err)

	assert.True(t, res.Detected)
	assert.Equal(t, 1, res.Proposed)
	assert.Equal(t, 0, res.Simulated)
	assert.Equal(t, 0, res.Sent)

	all, err := f.tasks.ListTasks(context.Background(), task.ListFilter{TenantID: f.tenant.ID})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	events, err := f.risks.ListEvents(context.Background(), f.tenant.ID, asOf.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestAdvisor_InsufficientHistoryIsQuiet(t *testing.T) {
	f := newFixture(t)

	adv := f.newAdvisor(stubForecaster{err: forecast.ErrInsufficientHistory}, nil)

	res, err := adv.RunCycle(context.Background(), f.tenant)
	require.NoError(t, err)

	assert.False(t, res.Detected)
	assert.Equal(t, 0, res.Proposed)
}

func TestAdvisor_ForecastFailureFailsCycle(t *testing.T) {
	f := newFixture(t)

	adv := f.newAdvisor(stubForecaster{err: errors.New("feature store down")}, nil)

	_, err := adv.RunCycle(context.Background(), f.tenant)
	require.Error(t, err)
}

func TestAdvisor_SimulationFailureRetriesNextCycle(t *testing.T) {
	f := newFixture(t)
	f.seedBaseline(t)
	ctx := context.Background()

	broken := f.newAdvisor(stubForecaster{build: weakSeries}, failingSimulator{})

	res, err := broken.RunCycle(ctx, f.tenant)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Proposed)
	assert.Equal(t, 0, res.Simulated)
	assert.Equal(t, 0, res.Sent)

	all, err := f.tasks.ListTasks(ctx, task.ListFilter{TenantID: f.tenant.ID})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, task.StateProposed, all[0].State)

	// A healthy simulator on the next cycle picks the same task up.
	healthy := f.newAdvisor(stubForecaster{build: weakSeries}, nil)

	f.gateway.EXPECT().
		Deliver(gomock.Any(), "task-"+all[0].ID.String(), gomock.Any()).
		Return(&notify.Receipt{ID: "rcpt-2", AcceptedAt: time.Now()}, nil)

	res, err = healthy.RunCycle(ctx, f.tenant)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Proposed)
	assert.Equal(t, 1, res.Simulated)
	assert.Equal(t, 1, res.Sent)

	got, err := f.tasks.GetTask(ctx, all[0].ID)
	require.NoError(t, err)
	assert.Equal(t, task.StateSent, got.State)
}

func TestAdvisor_ExpiresStaleTasksFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	adv := f.newAdvisor(stubForecaster{err: forecast.ErrInsufficientHistory}, nil)

	f.clock.Set(time.Now())

	created, _, err := f.orch.Propose(ctx, task.ProposeParams{
		TenantID:          f.tenant.ID,
		Kind:              task.KindPayment,
		Title:             "Collect 1000 from Sharma Traders",
		Payload:           task.Payload{Counterparty: "Sharma Traders", Amount: decimal.NewFromInt(1000)},
		OriginRiskEventID: uuid.New(),
	})
	require.NoError(t, err)

	f.clock.Add(73 * time.Hour)

	res, err := adv.RunCycle(ctx, f.tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)

	got, err := f.tasks.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StateExpired, got.State)
}
