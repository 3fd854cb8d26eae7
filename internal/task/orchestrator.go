package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/flowsentry/flowsentry/internal/metrics"
	"github.com/flowsentry/flowsentry/internal/notify"
	"github.com/flowsentry/flowsentry/internal/tenant"
)

//go:generate mockgen -source=orchestrator.go -destination=repository_mock.go -package=task
type Repository interface {
	// CreateTask persists a new task. It returns ErrDuplicateTask when an
	// open task with the same origin risk event and kind already exists.
	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*Task, error)
	FindOpenTask(ctx context.Context, originRiskEventID uuid.UUID, kind Kind) (*Task, error)
	ListTasks(ctx context.Context, filter ListFilter) ([]*Task, error)

	// UpdateTask commits the task's mutable fields only while the stored
	// state still equals expectState, returning ErrStale otherwise.
	UpdateTask(ctx context.Context, t *Task, expectState State) error
}

type ListFilter struct {
	TenantID          uuid.UUID
	States            []State
	OriginRiskEventID *uuid.UUID
	UpdatedBefore     *time.Time
}

// TenantGetter resolves the tenant a message should be addressed to.
type TenantGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error)
}

// Orchestrator owns every task state transition. All transitions for one
// task are serialized on a per-id lock and committed with conditional
// writes, so concurrent triggers (scheduler cycles, webhooks, API calls)
// observe one consistent lifecycle and an action executes at most once.
type Orchestrator struct {
	repo     Repository
	tenants  TenantGetter
	gateway  notify.Gateway
	registry *Registry
	clock    clock.Clock

	ttl                 time.Duration
	maxDeliveryAttempts int

	locks *keyedMutex
}

type OrchestratorParams struct {
	Repo                Repository
	Tenants             TenantGetter
	Gateway             notify.Gateway
	Registry            *Registry
	Clock               clock.Clock
	TTL                 time.Duration
	MaxDeliveryAttempts int
}

func NewOrchestrator(p OrchestratorParams) *Orchestrator {
	if p.Clock == nil {
		p.Clock = clock.New()
	}

	return &Orchestrator{
		repo:                p.Repo,
		tenants:             p.Tenants,
		gateway:             p.Gateway,
		registry:            p.Registry,
		clock:               p.Clock,
		ttl:                 p.TTL,
		maxDeliveryAttempts: p.MaxDeliveryAttempts,
		locks:               newKeyedMutex(64),
	}
}

type ProposeParams struct {
	TenantID          uuid.UUID
	Kind              Kind
	Title             string
	Payload           Payload
	OriginRiskEventID uuid.UUID
}

// Propose creates a task in state proposed, unless an open task for the
// same risk event and kind already exists, in which case the existing task
// is returned and the bool is false.
func (o *Orchestrator) Propose(ctx context.Context, params ProposeParams) (*Task, bool, error) {
	unlock := o.locks.lock(params.OriginRiskEventID.String() + "/" + string(params.Kind))
	defer unlock()

	existing, err := o.repo.FindOpenTask(ctx, params.OriginRiskEventID, params.Kind)
	if err == nil {
		return existing, false, nil
	}

	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("checking for open task: %w", err)
	}

	t := &Task{
		TenantID:          params.TenantID,
		Kind:              params.Kind,
		State:             StateProposed,
		Title:             params.Title,
		Payload:           params.Payload,
		OriginRiskEventID: params.OriginRiskEventID,
	}

	if err := o.repo.CreateTask(ctx, t); err != nil {
		if errors.Is(err, ErrDuplicateTask) {
			existing, ferr := o.repo.FindOpenTask(ctx, params.OriginRiskEventID, params.Kind)
			if ferr != nil {
				return nil, false, fmt.Errorf("loading duplicate task: %w", ferr)
			}

			return existing, false, nil
		}

		return nil, false, fmt.Errorf("creating task: %w", err)
	}

	metrics.TaskTransitions.WithLabelValues(string(StateProposed)).Inc()

	return t, true, nil
}

// Simulate attaches an impact snapshot produced by run and moves the task
// from proposed to simulated. When run fails the task is left untouched in
// proposed, to be retried on a later cycle.
func (o *Orchestrator) Simulate(ctx context.Context, id uuid.UUID, run func(*Task) (*ImpactSnapshot, error)) (*Task, error) {
	unlock := o.locks.lock(id.String())
	defer unlock()

	t, err := o.repo.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	switch t.State {
	case StateProposed:
	case StateSimulated:
		return t, nil
	default:
		return nil, fmt.Errorf("%w: cannot simulate task in state %s", ErrInvalidTransition, t.State)
	}

	snapshot, err := run(t)
	if err != nil {
		return nil, fmt.Errorf("simulating task %s: %w", id, err)
	}

	t.Impact = snapshot
	t.State = StateSimulated

	if err := o.repo.UpdateTask(ctx, t, StateProposed); err != nil {
		return nil, fmt.Errorf("committing simulation: %w", err)
	}

	metrics.TaskTransitions.WithLabelValues(string(StateSimulated)).Inc()

	return t, nil
}

// Send moves a simulated task to sent and delivers the advisory message on
// the tenant's channel. The sent state is committed before the first
// delivery attempt, so a crash mid-send is recovered by re-delivering under
// the same idempotency key instead of re-proposing. Re-sending a task that
// already holds a receipt returns the task unchanged.
func (o *Orchestrator) Send(ctx context.Context, id uuid.UUID) (*Task, error) {
	unlock := o.locks.lock(id.String())
	defer unlock()

	t, err := o.repo.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	switch t.State {
	case StateSimulated:
		now := o.clock.Now().UTC()
		t.State = StateSent
		t.SentAt = &now

		if err := o.repo.UpdateTask(ctx, t, StateSimulated); err != nil {
			return nil, fmt.Errorf("committing send: %w", err)
		}

		metrics.TaskTransitions.WithLabelValues(string(StateSent)).Inc()
	case StateSent:
		if t.ReceiptID != "" {
			return t, nil
		}
	default:
		return nil, fmt.Errorf("%w: cannot send task in state %s", ErrInvalidTransition, t.State)
	}

	return o.deliverLocked(ctx, t)
}

// deliverLocked attempts one delivery for a task already in state sent,
// caller holds the task lock.
func (o *Orchestrator) deliverLocked(ctx context.Context, t *Task) (*Task, error) {
	tn, err := o.tenants.Get(ctx, t.TenantID)
	if err != nil {
		return nil, fmt.Errorf("resolving tenant for delivery: %w", err)
	}

	t.DeliveryAttempts++

	receipt, derr := o.gateway.Deliver(ctx, deliveryKey(t.ID), notify.Message{
		TenantID: t.TenantID,
		To:       tn.ChannelAddress,
		Subject:  "Cash flow advisory",
		Body:     advisoryBody(t),
	})
	if derr != nil {
		metrics.Deliveries.WithLabelValues("failed").Inc()

		if t.DeliveryAttempts >= o.maxDeliveryAttempts {
			now := o.clock.Now().UTC()
			t.State = StateFailed
			t.Outcome = OutcomeUndeliverable
			t.ResolvedAt = &now

			if err := o.repo.UpdateTask(ctx, t, StateSent); err != nil {
				return nil, fmt.Errorf("committing failed delivery: %w", err)
			}

			metrics.TaskTransitions.WithLabelValues(string(StateFailed)).Inc()

			return nil, fmt.Errorf("task %s undeliverable after %d attempts: %w", t.ID, t.DeliveryAttempts, derr)
		}

		if err := o.repo.UpdateTask(ctx, t, StateSent); err != nil {
			return nil, fmt.Errorf("recording delivery attempt: %w", err)
		}

		return nil, fmt.Errorf("delivering task %s: %w", t.ID, derr)
	}

	metrics.Deliveries.WithLabelValues("delivered").Inc()

	t.ReceiptID = receipt.ID
	if err := o.repo.UpdateTask(ctx, t, StateSent); err != nil {
		return nil, fmt.Errorf("recording delivery receipt: %w", err)
	}

	return t, nil
}

// Confirm applies the owner's decision. Approval moves the task through
// confirmed into done with outcome executed, running the registered
// executor exactly once. Decline settles the task as expired with outcome
// declined. Replaying a decision that already settled the task the same way
// returns the settled task; any other confirm on a settled or unsent task
// is an invalid transition.
func (o *Orchestrator) Confirm(ctx context.Context, id uuid.UUID, approve bool) (*Task, error) {
	unlock := o.locks.lock(id.String())
	defer unlock()

	t, err := o.repo.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	switch t.State {
	case StateSent:
		if !approve {
			now := o.clock.Now().UTC()
			t.State = StateExpired
			t.Outcome = OutcomeDeclined
			t.ResolvedAt = &now

			if err := o.repo.UpdateTask(ctx, t, StateSent); err != nil {
				return nil, fmt.Errorf("committing decline: %w", err)
			}

			metrics.TaskTransitions.WithLabelValues(string(StateExpired)).Inc()

			return t, nil
		}

		t.State = StateConfirmed
		if err := o.repo.UpdateTask(ctx, t, StateSent); err != nil {
			return nil, fmt.Errorf("committing confirmation: %w", err)
		}

		metrics.TaskTransitions.WithLabelValues(string(StateConfirmed)).Inc()

		return o.executeLocked(ctx, t)
	case StateConfirmed:
		// A crash between confirmation and completion leaves the task
		// here; an approving replay drives the execution to completion.
		if !approve {
			return nil, fmt.Errorf("%w: task %s is already confirmed", ErrInvalidTransition, id)
		}

		return o.executeLocked(ctx, t)
	case StateDone, StateExpired:
		// Settled tasks accept only a replay of the decision that
		// settled them.
		if (approve && t.Outcome == OutcomeExecuted) || (!approve && t.Outcome == OutcomeDeclined) {
			return t, nil
		}

		return nil, fmt.Errorf("%w: task %s already settled with outcome %s", ErrInvalidTransition, id, t.Outcome)
	default:
		return nil, fmt.Errorf("%w: cannot confirm task in state %s", ErrInvalidTransition, t.State)
	}
}

// executeLocked runs the executor for a confirmed task and settles it as
// done. On executor failure the task stays confirmed for a later replay.
func (o *Orchestrator) executeLocked(ctx context.Context, t *Task) (*Task, error) {
	exec := o.registry.Get(t.Kind)
	if exec == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoExecutor, t.Kind)
	}

	if err := exec.Execute(ctx, t); err != nil {
		return nil, fmt.Errorf("executing task %s: %w", t.ID, err)
	}

	now := o.clock.Now().UTC()
	t.State = StateDone
	t.Outcome = OutcomeExecuted
	t.ResolvedAt = &now

	if err := o.repo.UpdateTask(ctx, t, StateConfirmed); err != nil {
		return nil, fmt.Errorf("committing execution: %w", err)
	}

	metrics.TaskTransitions.WithLabelValues(string(StateDone)).Inc()

	return t, nil
}

// ExpireStale times out open, unconfirmed tasks that have not moved within
// the TTL, settling them as expired with outcome timed_out. It returns how
// many tasks it expired.
func (o *Orchestrator) ExpireStale(ctx context.Context, tenantID uuid.UUID) (int, error) {
	cutoff := o.clock.Now().UTC().Add(-o.ttl)

	stale, err := o.repo.ListTasks(ctx, ListFilter{
		TenantID:      tenantID,
		States:        ExpirableStates(),
		UpdatedBefore: &cutoff,
	})
	if err != nil {
		return 0, fmt.Errorf("listing stale tasks: %w", err)
	}

	expired := 0

	for _, candidate := range stale {
		if err := o.expireOne(ctx, candidate.ID, cutoff); err != nil {
			if errors.Is(err, ErrStale) || errors.Is(err, ErrInvalidTransition) {
				continue
			}

			return expired, err
		}

		expired++
	}

	return expired, nil
}

func (o *Orchestrator) expireOne(ctx context.Context, id uuid.UUID, cutoff time.Time) error {
	unlock := o.locks.lock(id.String())
	defer unlock()

	t, err := o.repo.GetTask(ctx, id)
	if err != nil {
		return err
	}

	expirable := t.State == StateProposed || t.State == StateSimulated || t.State == StateSent
	if !expirable || t.UpdatedAt.After(cutoff) {
		return fmt.Errorf("%w: task %s no longer stale", ErrInvalidTransition, id)
	}

	from := t.State
	now := o.clock.Now().UTC()
	t.State = StateExpired
	t.Outcome = OutcomeTimedOut
	t.ResolvedAt = &now

	if err := o.repo.UpdateTask(ctx, t, from); err != nil {
		return err
	}

	metrics.TaskTransitions.WithLabelValues(string(StateExpired)).Inc()

	return nil
}

// Resume re-drives tasks that an interrupted run left mid-flight: confirmed
// tasks whose execution never completed, and sent tasks that never obtained
// a delivery receipt. It returns how many tasks it moved.
func (o *Orchestrator) Resume(ctx context.Context, tenantID uuid.UUID) (int, error) {
	resumed := 0

	confirmed, err := o.repo.ListTasks(ctx, ListFilter{TenantID: tenantID, States: []State{StateConfirmed}})
	if err != nil {
		return 0, fmt.Errorf("listing confirmed tasks: %w", err)
	}

	for _, t := range confirmed {
		if _, err := o.Confirm(ctx, t.ID, true); err != nil {
			slog.Warn("failed to resume confirmed task", "task_id", t.ID, "error", err)
			continue
		}

		resumed++
	}

	sent, err := o.repo.ListTasks(ctx, ListFilter{TenantID: tenantID, States: []State{StateSent}})
	if err != nil {
		return resumed, fmt.Errorf("listing sent tasks: %w", err)
	}

	for _, t := range sent {
		if t.ReceiptID != "" {
			continue
		}

		if _, err := o.Send(ctx, t.ID); err != nil {
			slog.Warn("failed to re-deliver sent task", "task_id", t.ID, "error", err)
			continue
		}

		resumed++
	}

	return resumed, nil
}

const (
	DeliveryStatusDelivered = "delivered"
	DeliveryStatusFailed    = "failed"
)

// ApplyDeliveryStatus folds an asynchronous status callback from the
// channel transport into the task. Callbacks for settled tasks are ignored.
func (o *Orchestrator) ApplyDeliveryStatus(ctx context.Context, id uuid.UUID, status, receiptID string) error {
	unlock := o.locks.lock(id.String())
	defer unlock()

	t, err := o.repo.GetTask(ctx, id)
	if err != nil {
		return err
	}

	if t.State != StateSent {
		slog.Debug("ignoring delivery status for task not in sent state",
			"task_id", id, "state", t.State, "status", status)
		return nil
	}

	switch status {
	case DeliveryStatusDelivered:
		if t.ReceiptID == "" && receiptID != "" {
			t.ReceiptID = receiptID
			if err := o.repo.UpdateTask(ctx, t, StateSent); err != nil {
				return fmt.Errorf("recording delivery receipt: %w", err)
			}
		}
	case DeliveryStatusFailed:
		t.ReceiptID = ""
		t.DeliveryAttempts++

		if t.DeliveryAttempts >= o.maxDeliveryAttempts {
			now := o.clock.Now().UTC()
			t.State = StateFailed
			t.Outcome = OutcomeUndeliverable
			t.ResolvedAt = &now
		}

		if err := o.repo.UpdateTask(ctx, t, StateSent); err != nil {
			return fmt.Errorf("recording delivery failure: %w", err)
		}

		if t.State == StateFailed {
			metrics.TaskTransitions.WithLabelValues(string(StateFailed)).Inc()
		}
	default:
		slog.Debug("ignoring unknown delivery status", "task_id", id, "status", status)
	}

	return nil
}

func (o *Orchestrator) Get(ctx context.Context, id uuid.UUID) (*Task, error) {
	return o.repo.GetTask(ctx, id)
}

func (o *Orchestrator) List(ctx context.Context, filter ListFilter) ([]*Task, error) {
	return o.repo.ListTasks(ctx, filter)
}

func deliveryKey(id uuid.UUID) string {
	return "task-" + id.String()
}

// advisoryBody renders the owner-facing advisory message for a task.
func advisoryBody(t *Task) string {
	var b strings.Builder

	b.WriteString(t.Title)
	b.WriteString("\n")

	if t.Impact != nil {
		fmt.Fprintf(&b, "Projected net over the next %d days: %s now, %s if you act.\n",
			t.Impact.Horizon, t.Impact.BaselineNet.StringFixed(2), t.Impact.ProjectedNet.StringFixed(2))

		if t.Impact.ResolvesDip {
			b.WriteString("This should clear the projected shortfall.\n")
		}
	}

	fmt.Fprintf(&b, "Reply YES %s to go ahead or NO %s to dismiss.", shortID(t.ID), shortID(t.ID))

	return b.String()
}

func shortID(id uuid.UUID) string {
	return strings.Split(id.String(), "-")[0]
}
