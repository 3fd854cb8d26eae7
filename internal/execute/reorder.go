package execute

import (
	"context"
	"fmt"

	"github.com/flowsentry/flowsentry/internal/notify"
	"github.com/flowsentry/flowsentry/internal/task"
)

// Reorder drafts a restock note for the vendor and hands it to the owner to
// forward.
type Reorder struct {
	tenants task.TenantGetter
	gateway notify.Gateway
}

func NewReorder(tenants task.TenantGetter, gateway notify.Gateway) *Reorder {
	return &Reorder{tenants: tenants, gateway: gateway}
}

func (e *Reorder) Kind() task.Kind { return task.KindReorder }

func (e *Reorder) Execute(ctx context.Context, t *task.Task) error {
	tn, err := e.tenants.Get(ctx, t.TenantID)
	if err != nil {
		return fmt.Errorf("resolving tenant: %w", err)
	}

	vendor := t.Payload.Counterparty
	if vendor == "" {
		vendor = "your vendor"
	}

	body := fmt.Sprintf("Reorder note for %s (approx %s):\n"+
		"\"Please send our usual restock order. Budget around %s, same terms as last time.\"",
		vendor, t.Payload.Amount.StringFixed(2), t.Payload.Amount.StringFixed(2))

	if t.Payload.Note != "" {
		body += "\nContext: " + t.Payload.Note
	}

	return deliver(ctx, e.gateway, tn, t, "Restock order ready", body)
}
