package proposal_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsentry/flowsentry/internal/proposal"
	"github.com/flowsentry/flowsentry/internal/record"
	"github.com/flowsentry/flowsentry/internal/risk"
	riskmem "github.com/flowsentry/flowsentry/internal/risk/memstore"
	"github.com/flowsentry/flowsentry/internal/task"
	taskmem "github.com/flowsentry/flowsentry/internal/task/memstore"
)

var asOf = time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

type fixture struct {
	engine *proposal.Engine
	tasks  *taskmem.Store
	risks  *riskmem.Store
}

func newFixture(t *testing.T, rules *proposal.Rules) *fixture {
	t.Helper()

	tasks := taskmem.New()
	risks := riskmem.New()

	orch := task.NewOrchestrator(task.OrchestratorParams{
		Repo:                tasks,
		TTL:                 72 * time.Hour,
		MaxDeliveryAttempts: 2,
	})

	return &fixture{
		engine: proposal.NewEngine(proposal.NewStatic(rules), orch, risks),
		tasks:  tasks,
		risks:  risks,
	}
}

func (f *fixture) event(t *testing.T, tenantID uuid.UUID, severity float64) *risk.Event {
	t.Helper()

	ev, created, err := f.risks.InsertEvent(context.Background(), &risk.Event{
		TenantID:   tenantID,
		Kind:       risk.KindCashDip,
		DetectedOn: asOf,
		Severity:   severity,
	})
	require.NoError(t, err)
	require.True(t, created)

	return ev
}

func receivableRec(tenantID uuid.UUID, counterparty string, amount int64, dueOn time.Time) *record.Record {
	return &record.Record{
		ID:           uuid.New(),
		TenantID:     tenantID,
		OccurredOn:   dueOn.AddDate(0, 0, -15),
		Direction:    record.DirectionInflow,
		Amount:       decimal.NewFromInt(amount),
		Counterparty: counterparty,
		Role:         record.RoleCustomer,
		Source:       record.SourceChat,
		DueOn:        &dueOn,
	}
}

func lowStockRec(tenantID uuid.UUID, vendor string, amount int64) *record.Record {
	return &record.Record{
		ID:           uuid.New(),
		TenantID:     tenantID,
		OccurredOn:   asOf.AddDate(0, 0, -3),
		Direction:    record.DirectionOutflow,
		Amount:       decimal.NewFromInt(amount),
		Counterparty: vendor,
		Role:         record.RoleVendor,
		Source:       record.SourceImport,
		Metadata:     map[string]string{"low_stock": "true"},
	}
}

func TestEngine_SevereEventProposesRankedCandidates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tenantID := uuid.New()

	ev := f.event(t, tenantID, 0.8)
	recs := []*record.Record{
		receivableRec(tenantID, "Sharma Traders", 12000, asOf.AddDate(0, 0, 5)),
		receivableRec(tenantID, "Patel Kirana", 8000, asOf.AddDate(0, 0, -10)),
		lowStockRec(tenantID, "Metro Wholesale", 5000),
	}

	tasks, err := f.engine.Propose(ctx, ev, recs)
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	// Ranked by expected mitigation: 10800 > 4000 > 2000.
	assert.Equal(t, task.KindPayment, tasks[0].Kind)
	assert.Equal(t, task.KindReminder, tasks[1].Kind)
	assert.Equal(t, task.KindReorder, tasks[2].Kind)

	assert.True(t, tasks[0].Payload.ExpectedDelta.Equal(decimal.NewFromInt(10800)),
		"got %s", tasks[0].Payload.ExpectedDelta)
	assert.True(t, tasks[1].Payload.ExpectedDelta.Equal(decimal.NewFromInt(4000)))
	assert.True(t, tasks[2].Payload.ExpectedDelta.Equal(decimal.NewFromInt(2000)))

	assert.Contains(t, tasks[0].Title, "Sharma Traders")
	assert.Contains(t, tasks[1].Title, "Patel Kirana")
	assert.Contains(t, tasks[2].Title, "Metro Wholesale")
	require.NotNil(t, tasks[0].Payload.DueOn)

	for _, tk := range tasks {
		assert.Equal(t, task.StateProposed, tk.State)
		assert.Equal(t, ev.ID, tk.OriginRiskEventID)
	}

	got, err := f.risks.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, got.CandidateActionIDs, 3)
	assert.Equal(t, tasks[0].ID, got.CandidateActionIDs[0])
}

func TestEngine_MildEventOnlyProposesReminder(t *testing.T) {
	f := newFixture(t, nil)
	tenantID := uuid.New()

	ev := f.event(t, tenantID, 0.25)
	recs := []*record.Record{
		receivableRec(tenantID, "Sharma Traders", 12000, asOf.AddDate(0, 0, 5)),
		receivableRec(tenantID, "Patel Kirana", 8000, asOf.AddDate(0, 0, -10)),
		lowStockRec(tenantID, "Metro Wholesale", 5000),
	}

	tasks, err := f.engine.Propose(context.Background(), ev, recs)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, task.KindReminder, tasks[0].Kind)
	assert.Contains(t, tasks[0].Title, "Patel Kirana")
}

func TestEngine_SeverityBelowEveryBand(t *testing.T) {
	f := newFixture(t, nil)
	tenantID := uuid.New()

	ev := f.event(t, tenantID, 0.1)
	recs := []*record.Record{
		receivableRec(tenantID, "Sharma Traders", 12000, asOf.AddDate(0, 0, 5)),
	}

	tasks, err := f.engine.Propose(context.Background(), ev, recs)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestEngine_RerunReusesOpenTasks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tenantID := uuid.New()

	ev := f.event(t, tenantID, 0.8)
	recs := []*record.Record{
		receivableRec(tenantID, "Sharma Traders", 12000, asOf.AddDate(0, 0, 5)),
		lowStockRec(tenantID, "Metro Wholesale", 5000),
	}

	first, err := f.engine.Propose(ctx, ev, recs)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := f.engine.Propose(ctx, ev, recs)
	require.NoError(t, err)
	require.Len(t, second, 2)

	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, first[1].ID, second[1].ID)

	all, err := f.tasks.ListTasks(ctx, task.ListFilter{TenantID: tenantID})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestEngine_MaxCandidatesCapsProposals(t *testing.T) {
	f := newFixture(t, &proposal.Rules{MaxCandidates: 1})
	tenantID := uuid.New()

	ev := f.event(t, tenantID, 0.8)
	recs := []*record.Record{
		receivableRec(tenantID, "Sharma Traders", 12000, asOf.AddDate(0, 0, 5)),
		receivableRec(tenantID, "Patel Kirana", 8000, asOf.AddDate(0, 0, -10)),
		lowStockRec(tenantID, "Metro Wholesale", 5000),
	}

	tasks, err := f.engine.Propose(context.Background(), ev, recs)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, task.KindPayment, tasks[0].Kind)
}

func TestEngine_IgnoresSmallReceivables(t *testing.T) {
	f := newFixture(t, nil)
	tenantID := uuid.New()

	ev := f.event(t, tenantID, 0.5)
	recs := []*record.Record{
		receivableRec(tenantID, "Sharma Traders", 300, asOf.AddDate(0, 0, -5)),
	}

	tasks, err := f.engine.Propose(context.Background(), ev, recs)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestEngine_ReminderDoesNotDoubleChasePaymentTarget(t *testing.T) {
	f := newFixture(t, nil)
	tenantID := uuid.New()

	// One receivable, recently overdue: eligible for both paths, claimed by
	// the stronger payment path.
	ev := f.event(t, tenantID, 0.5)
	recs := []*record.Record{
		receivableRec(tenantID, "Sharma Traders", 12000, asOf.AddDate(0, 0, -5)),
	}

	tasks, err := f.engine.Propose(context.Background(), ev, recs)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, task.KindPayment, tasks[0].Kind)
}
