// Package report builds the weekly owner summary: how the week went, the
// strongest and weakest days, and what is still waiting for a reply.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flowsentry/flowsentry/internal/forecast"
	"github.com/flowsentry/flowsentry/internal/notify"
	"github.com/flowsentry/flowsentry/internal/record"
	"github.com/flowsentry/flowsentry/internal/task"
	"github.com/flowsentry/flowsentry/internal/tenant"
)

type RecordLister interface {
	List(ctx context.Context, filter record.ListFilter) ([]*record.Record, error)
}

type TaskLister interface {
	List(ctx context.Context, filter task.ListFilter) ([]*task.Task, error)
}

// Weekly is one tenant's summary for a single ISO week.
type Weekly struct {
	ISOYear int
	ISOWeek int
	From    time.Time
	To      time.Time

	Inflows  decimal.Decimal
	Outflows decimal.Decimal
	Net      decimal.Decimal

	HasActivity bool
	BestDay     time.Time
	BestNet     decimal.Decimal
	WorstDay    time.Time
	WorstNet    decimal.Decimal

	PriorNet  decimal.Decimal
	OpenTasks int
}

// Service generates and delivers weekly summaries.
type Service struct {
	records RecordLister
	tasks   TaskLister
	gateway notify.Gateway
}

func NewService(records RecordLister, tasks TaskLister, gateway notify.Gateway) *Service {
	return &Service{records: records, tasks: tasks, gateway: gateway}
}

// Generate computes the summary for the ISO week containing asOf, read as a
// date on the tenant's calendar.
func (s *Service) Generate(ctx context.Context, tn *tenant.Tenant, asOf time.Time) (*Weekly, error) {
	loc, err := tn.Location()
	if err != nil {
		return nil, fmt.Errorf("resolving tenant timezone: %w", err)
	}

	from, to := weekBounds(asOf.In(loc))
	isoYear, isoWeek := from.ISOWeek()

	w := &Weekly{
		ISOYear:  isoYear,
		ISOWeek:  isoWeek,
		From:     from,
		To:       to,
		Inflows:  decimal.Zero,
		Outflows: decimal.Zero,
		Net:      decimal.Zero,
		PriorNet: decimal.Zero,
	}

	recs, err := s.records.List(ctx, record.ListFilter{TenantID: tn.ID, From: &from, To: &to})
	if err != nil {
		return nil, fmt.Errorf("listing records for week: %w", err)
	}

	daily := make(map[time.Time]decimal.Decimal)

	for _, r := range recs {
		signed := r.Signed()
		w.Net = w.Net.Add(signed)

		if r.Direction == record.DirectionInflow {
			w.Inflows = w.Inflows.Add(r.Amount)
		} else {
			w.Outflows = w.Outflows.Add(r.Amount)
		}

		day := forecast.Day(r.OccurredOn)
		daily[day] = daily[day].Add(signed)
	}

	for day, net := range daily {
		if !w.HasActivity {
			w.HasActivity = true
			w.BestDay, w.BestNet = day, net
			w.WorstDay, w.WorstNet = day, net

			continue
		}

		if net.GreaterThan(w.BestNet) || (net.Equal(w.BestNet) && day.Before(w.BestDay)) {
			w.BestDay, w.BestNet = day, net
		}

		if net.LessThan(w.WorstNet) || (net.Equal(w.WorstNet) && day.Before(w.WorstDay)) {
			w.WorstDay, w.WorstNet = day, net
		}
	}

	priorFrom := from.AddDate(0, 0, -7)
	priorTo := from.AddDate(0, 0, -1)

	prior, err := s.records.List(ctx, record.ListFilter{TenantID: tn.ID, From: &priorFrom, To: &priorTo})
	if err != nil {
		return nil, fmt.Errorf("listing records for prior week: %w", err)
	}

	for _, r := range prior {
		w.PriorNet = w.PriorNet.Add(r.Signed())
	}

	open, err := s.tasks.List(ctx, task.ListFilter{TenantID: tn.ID, States: task.OpenStates()})
	if err != nil {
		return nil, fmt.Errorf("listing open tasks: %w", err)
	}

	w.OpenTasks = len(open)

	return w, nil
}

// Send generates the summary and delivers it on the tenant's channel. The
// idempotency key pins one report per tenant per ISO week, so a catch-up
// rerun cannot double-send.
func (s *Service) Send(ctx context.Context, tn *tenant.Tenant, asOf time.Time) error {
	w, err := s.Generate(ctx, tn, asOf)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("report-%s-%d-W%02d", tn.ID, w.ISOYear, w.ISOWeek)

	_, err = s.gateway.Deliver(ctx, key, notify.Message{
		TenantID: tn.ID,
		To:       tn.ChannelAddress,
		Subject:  fmt.Sprintf("Your week in numbers (W%02d)", w.ISOWeek),
		Body:     w.Body(),
	})
	if err != nil {
		return fmt.Errorf("delivering weekly report: %w", err)
	}

	return nil
}

// Body renders the summary as a chat message.
func (w *Weekly) Body() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Weekly summary %s to %s\n", w.From.Format("02 Jan"), w.To.Format("02 Jan"))

	if !w.HasActivity {
		sb.WriteString("No recorded activity this week.\n")
	} else {
		fmt.Fprintf(&sb, "Money in: %s\n", w.Inflows.StringFixed(2))
		fmt.Fprintf(&sb, "Money out: %s\n", w.Outflows.StringFixed(2))
		fmt.Fprintf(&sb, "Net: %s\n", signed(w.Net))
		fmt.Fprintf(&sb, "Best day: %s (%s)\n", w.BestDay.Format("Monday 02 Jan"), signed(w.BestNet))
		fmt.Fprintf(&sb, "Slowest day: %s (%s)\n", w.WorstDay.Format("Monday 02 Jan"), signed(w.WorstNet))
	}

	diff := w.Net.Sub(w.PriorNet)

	switch {
	case diff.IsPositive():
		fmt.Fprintf(&sb, "vs last week: up %s\n", diff.StringFixed(2))
	case diff.IsNegative():
		fmt.Fprintf(&sb, "vs last week: down %s\n", diff.Abs().StringFixed(2))
	default:
		sb.WriteString("vs last week: flat\n")
	}

	switch w.OpenTasks {
	case 0:
	case 1:
		sb.WriteString("1 advisory is waiting for your reply.")
	default:
		fmt.Fprintf(&sb, "%d advisories are waiting for your reply.", w.OpenTasks)
	}

	return strings.TrimRight(sb.String(), "\n")
}

func signed(d decimal.Decimal) string {
	if d.IsPositive() {
		return "+" + d.StringFixed(2)
	}

	return d.StringFixed(2)
}

// weekBounds returns the Monday and Sunday of the ISO week containing the
// local timestamp, as calendar dates at UTC midnight.
func weekBounds(local time.Time) (from, to time.Time) {
	day := forecast.Day(local)

	wd := int(day.Weekday())
	if wd == 0 {
		wd = 7
	}

	from = day.AddDate(0, 0, -(wd - 1))

	return from, from.AddDate(0, 0, 6)
}
