package proposal

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flowsentry/flowsentry/internal/metrics"
	"github.com/flowsentry/flowsentry/internal/record"
	"github.com/flowsentry/flowsentry/internal/risk"
	"github.com/flowsentry/flowsentry/internal/task"
)

// staleReceivableDays bounds how far back a due date may lie before the
// payment path hands the record over to the reminder path.
const staleReceivableDays = 30

// Proposer registers a candidate as a task, reusing any open task for the
// same risk event and kind.
type Proposer interface {
	Propose(ctx context.Context, params task.ProposeParams) (*task.Task, bool, error)
}

// CandidateAttacher records the proposed task ids on the originating risk
// event.
type CandidateAttacher interface {
	AttachCandidates(ctx context.Context, id uuid.UUID, actionIDs []uuid.UUID) error
}

type Engine struct {
	source   Source
	proposer Proposer
	risks    CandidateAttacher
}

func NewEngine(source Source, proposer Proposer, risks CandidateAttacher) *Engine {
	return &Engine{source: source, proposer: proposer, risks: risks}
}

type candidate struct {
	kind       task.Kind
	title      string
	payload    task.Payload
	mitigation decimal.Decimal
}

var kindPriority = map[task.Kind]int{
	task.KindPayment:  0,
	task.KindReminder: 1,
	task.KindReorder:  2,
}

// Propose composes ranked action candidates for a risk event from the
// tenant's recent records and registers them with the orchestrator. An event
// below every band floor, or records offering nothing actionable, yields no
// candidates and no error.
func (e *Engine) Propose(ctx context.Context, ev *risk.Event, recs []*record.Record) ([]*task.Task, error) {
	rules := e.source.Rules()

	allowed := make(map[task.Kind]bool)
	for _, k := range rules.bandFor(ev.Severity) {
		allowed[task.Kind(k)] = true
	}

	candidates := compose(rules, ev, recs, allowed)
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].mitigation.Equal(candidates[j].mitigation) {
			return candidates[i].mitigation.GreaterThan(candidates[j].mitigation)
		}

		return kindPriority[candidates[i].kind] < kindPriority[candidates[j].kind]
	})

	if len(candidates) > rules.MaxCandidates {
		candidates = candidates[:rules.MaxCandidates]
	}

	tasks := make([]*task.Task, 0, len(candidates))
	ids := make([]uuid.UUID, 0, len(candidates))

	for _, c := range candidates {
		t, created, err := e.proposer.Propose(ctx, task.ProposeParams{
			TenantID:          ev.TenantID,
			Kind:              c.kind,
			Title:             c.title,
			Payload:           c.payload,
			OriginRiskEventID: ev.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("proposing %s action: %w", c.kind, err)
		}

		if !created {
			metrics.ProposalsDeduplicated.Inc()
		}

		tasks = append(tasks, t)
		ids = append(ids, t.ID)
	}

	if err := e.risks.AttachCandidates(ctx, ev.ID, ids); err != nil {
		return nil, fmt.Errorf("attaching candidates to risk event: %w", err)
	}

	return tasks, nil
}

func compose(rules *Rules, ev *risk.Event, recs []*record.Record, allowed map[task.Kind]bool) []candidate {
	var out []candidate

	asOf := ev.DetectedOn
	floor := decimal.NewFromFloat(rules.MinConsiderAmount)

	var paymentTarget *record.Record

	if allowed[task.KindPayment] {
		paymentTarget = pickPaymentTarget(recs, floor, asOf.AddDate(0, 0, -staleReceivableDays))
		if paymentTarget != nil {
			rate := decimal.NewFromFloat(rules.RecoveryRates["payment"])

			out = appendCandidate(out, candidate{
				kind:  task.KindPayment,
				title: fmt.Sprintf("Request payment of %s from %s", paymentTarget.Amount.StringFixed(2), paymentTarget.Counterparty),
				payload: task.Payload{
					Counterparty:  paymentTarget.Counterparty,
					Amount:        paymentTarget.Amount,
					ExpectedDelta: paymentTarget.Amount.Mul(rate).Round(2),
					DueOn:         paymentTarget.DueOn,
					Note:          paymentTarget.Detail,
				},
				mitigation: paymentTarget.Amount.Mul(rate).Round(2),
			})
		}
	}

	if allowed[task.KindReminder] {
		if target := pickReminderTarget(recs, floor, asOf, paymentTarget); target != nil {
			rate := decimal.NewFromFloat(rules.RecoveryRates["reminder"])

			out = appendCandidate(out, candidate{
				kind: task.KindReminder,
				title: fmt.Sprintf("Remind %s about %s due since %s",
					target.Counterparty, target.Amount.StringFixed(2), target.DueOn.Format("02 Jan")),
				payload: task.Payload{
					Counterparty:  target.Counterparty,
					Amount:        target.Amount,
					ExpectedDelta: target.Amount.Mul(rate).Round(2),
					DueOn:         target.DueOn,
					Note:          target.Detail,
				},
				mitigation: target.Amount.Mul(rate).Round(2),
			})
		}
	}

	if allowed[task.KindReorder] {
		if target := pickReorderTarget(recs, rules.LowStockKey); target != nil {
			uplift := decimal.NewFromFloat(rules.ReorderUplift)

			name := target.Counterparty
			if name == "" {
				name = "your vendor"
			}

			out = appendCandidate(out, candidate{
				kind:  task.KindReorder,
				title: fmt.Sprintf("Reorder stock from %s (approx %s)", name, target.Amount.StringFixed(2)),
				payload: task.Payload{
					Counterparty:  target.Counterparty,
					Amount:        target.Amount,
					ExpectedDelta: target.Amount.Mul(uplift).Round(2),
					Note:          target.Detail,
				},
				mitigation: target.Amount.Mul(uplift).Round(2),
			})
		}
	}

	return out
}

// appendCandidate drops candidates whose mitigation estimate is not positive.
func appendCandidate(out []candidate, c candidate) []candidate {
	if !c.mitigation.IsPositive() {
		return out
	}

	return append(out, c)
}

// receivable reports whether a record is an expected customer inflow large
// enough to chase.
func receivable(r *record.Record, floor decimal.Decimal) bool {
	return r.Direction == record.DirectionInflow &&
		r.DueOn != nil &&
		r.Counterparty != "" &&
		!r.Amount.LessThan(floor)
}

// pickPaymentTarget selects the largest receivable that is not stale, where
// stale means due before the cutoff. Future due dates qualify: asking early
// is the whole point of a payment link.
func pickPaymentTarget(recs []*record.Record, floor decimal.Decimal, staleBefore time.Time) *record.Record {
	var best *record.Record

	for _, r := range recs {
		if !receivable(r, floor) || r.DueOn.Before(staleBefore) {
			continue
		}

		if best == nil || r.Amount.GreaterThan(best.Amount) {
			best = r
		}
	}

	return best
}

// pickReminderTarget selects the most overdue receivable, skipping the record
// already claimed by the payment candidate so the owner is not told to chase
// the same invoice twice. Ties on due date go to the larger amount.
func pickReminderTarget(recs []*record.Record, floor decimal.Decimal, asOf time.Time, claimed *record.Record) *record.Record {
	var best *record.Record

	for _, r := range recs {
		if !receivable(r, floor) || !r.DueOn.Before(asOf) {
			continue
		}

		if claimed != nil && r.ID == claimed.ID {
			continue
		}

		if best == nil || r.DueOn.Before(*best.DueOn) ||
			(r.DueOn.Equal(*best.DueOn) && r.Amount.GreaterThan(best.Amount)) {
			best = r
		}
	}

	return best
}

// pickReorderTarget selects the largest record flagged low-stock in its
// metadata.
func pickReorderTarget(recs []*record.Record, lowStockKey string) *record.Record {
	var best *record.Record

	for _, r := range recs {
		if r.Metadata[lowStockKey] != "true" {
			continue
		}

		if best == nil || r.Amount.GreaterThan(best.Amount) {
			best = r
		}
	}

	return best
}
