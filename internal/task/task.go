package task

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("action task not found")

	// ErrInvalidTransition rejects an operation the task's current state
	// does not allow.
	ErrInvalidTransition = errors.New("invalid task transition")

	// ErrDuplicateTask means an open task for the same risk event and kind
	// already exists.
	ErrDuplicateTask = errors.New("open task already exists for this risk event and kind")

	// ErrStale means a conditional write lost against a concurrent update.
	ErrStale = errors.New("task was modified concurrently")

	// ErrNoExecutor means no executor is registered for the task's kind.
	ErrNoExecutor = errors.New("no executor registered for task kind")
)

// Kind names the remediation a task carries out.
type Kind string

const (
	// KindPayment sends the owner a ready payment link to collect an
	// outstanding receivable.
	KindPayment Kind = "payment"
	// KindReminder nudges an overdue counterparty on the owner's behalf.
	KindReminder Kind = "reminder"
	// KindReorder restocks inventory that is running low.
	KindReorder Kind = "reorder"
)

// State is a task's position in its lifecycle.
//
// proposed -> simulated -> sent -> confirmed -> done
//
// Unconfirmed tasks expire after the TTL, a decline settles the task as
// expired with outcome declined, and sent can fail when delivery attempts
// are exhausted.
type State string

const (
	StateProposed  State = "proposed"
	StateSimulated State = "simulated"
	StateSent      State = "sent"
	StateConfirmed State = "confirmed"
	StateDone      State = "done"
	StateExpired   State = "expired"
	StateFailed    State = "failed"
)

// Outcome records how a settled task ended.
type Outcome string

const (
	OutcomeExecuted      Outcome = "executed"
	OutcomeDeclined      Outcome = "declined"
	OutcomeTimedOut      Outcome = "timed_out"
	OutcomeUndeliverable Outcome = "undeliverable"
)

// OpenStates are the states in which a task still awaits a decision or
// completion.
func OpenStates() []State {
	return []State{StateProposed, StateSimulated, StateSent, StateConfirmed}
}

// ExpirableStates are the open states the TTL sweep may time out. A
// confirmed task is already a decision and never expires.
func ExpirableStates() []State {
	return []State{StateProposed, StateSimulated, StateSent}
}

// Payload carries the business facts of the proposed action.
type Payload struct {
	Counterparty string          `json:"counterparty,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	// ExpectedDelta is the estimated net improvement over the horizon if
	// the action is executed, as ranked by the proposal rules.
	ExpectedDelta decimal.Decimal `json:"expected_delta"`
	DueOn         *time.Time      `json:"due_on,omitempty"`
	Note          string          `json:"note,omitempty"`
}

// ImpactDelta is one day's simulated adjustment to the projected net.
type ImpactDelta struct {
	Date  time.Time       `json:"date"`
	Delta decimal.Decimal `json:"delta"`
}

// ImpactSnapshot freezes a counterfactual simulation on the task, so the
// advice shown to the owner keeps its justification even after forecasts
// move on.
type ImpactSnapshot struct {
	Horizon      int             `json:"horizon"`
	BaselineNet  decimal.Decimal `json:"baseline_net"`
	ProjectedNet decimal.Decimal `json:"projected_net"`
	ResolvesDip  bool            `json:"resolves_dip"`
	Deltas       []ImpactDelta   `json:"deltas,omitempty"`
	GeneratedAt  time.Time       `json:"generated_at"`
}

// Task is one concrete proposed action for a tenant. Tasks are created by
// the proposal engine and from then on owned by the Orchestrator, which is
// the only writer of state.
type Task struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	Kind              Kind
	State             State
	Outcome           Outcome
	Title             string
	Payload           Payload
	Impact            *ImpactSnapshot
	OriginRiskEventID uuid.UUID
	DeliveryAttempts  int
	ReceiptID         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	SentAt            *time.Time
	ResolvedAt        *time.Time
}

// Open reports whether the task still awaits a decision or completion.
func (t *Task) Open() bool {
	switch t.State {
	case StateProposed, StateSimulated, StateSent, StateConfirmed:
		return true
	default:
		return false
	}
}
