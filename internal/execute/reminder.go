package execute

import (
	"context"
	"fmt"

	"github.com/flowsentry/flowsentry/internal/notify"
	"github.com/flowsentry/flowsentry/internal/task"
)

// Reminder drafts a polite dues nudge for the counterparty and hands it to
// the owner to forward.
type Reminder struct {
	tenants task.TenantGetter
	gateway notify.Gateway
}

func NewReminder(tenants task.TenantGetter, gateway notify.Gateway) *Reminder {
	return &Reminder{tenants: tenants, gateway: gateway}
}

func (e *Reminder) Kind() task.Kind { return task.KindReminder }

func (e *Reminder) Execute(ctx context.Context, t *task.Task) error {
	tn, err := e.tenants.Get(ctx, t.TenantID)
	if err != nil {
		return fmt.Errorf("resolving tenant: %w", err)
	}

	due := ""
	if t.Payload.DueOn != nil {
		due = " since " + t.Payload.DueOn.Format("02 Jan")
	}

	body := fmt.Sprintf("Reminder for %s: %s outstanding%s.\n"+
		"Suggested message: \"Namaste! A gentle reminder that %s is pending%s. Please clear it when convenient.\"",
		t.Payload.Counterparty, t.Payload.Amount.StringFixed(2), due,
		t.Payload.Amount.StringFixed(2), due)

	return deliver(ctx, e.gateway, tn, t, "Reminder ready to send", body)
}
