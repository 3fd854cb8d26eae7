package execute

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/flowsentry/flowsentry/internal/notify"
	"github.com/flowsentry/flowsentry/internal/task"
	"github.com/flowsentry/flowsentry/internal/tenant"
)

// Payment issues a UPI collect link for the receivable and hands it to the
// owner to forward.
type Payment struct {
	tenants task.TenantGetter
	gateway notify.Gateway
}

func NewPayment(tenants task.TenantGetter, gateway notify.Gateway) *Payment {
	return &Payment{tenants: tenants, gateway: gateway}
}

func (e *Payment) Kind() task.Kind { return task.KindPayment }

func (e *Payment) Execute(ctx context.Context, t *task.Task) error {
	tn, err := e.tenants.Get(ctx, t.TenantID)
	if err != nil {
		return fmt.Errorf("resolving tenant: %w", err)
	}

	body := fmt.Sprintf("Payment link for %s (%s):\n%s\nForward it to collect.",
		t.Payload.Counterparty, t.Payload.Amount.StringFixed(2), upiLink(tn, t))

	return deliver(ctx, e.gateway, tn, t, "Payment link ready", body)
}

// upiLink builds a upi://pay collect link. Without a registered VPA on file
// the tenant's phone-based handle is used.
func upiLink(tn *tenant.Tenant, t *task.Task) string {
	v := url.Values{}
	v.Set("pa", strings.TrimPrefix(tn.ChannelAddress, "+")+"@upi")
	v.Set("pn", tn.Name)
	v.Set("am", t.Payload.Amount.StringFixed(2))
	v.Set("cu", "INR")
	v.Set("tn", "Payment to "+tn.Name)

	return "upi://pay?" + v.Encode()
}
