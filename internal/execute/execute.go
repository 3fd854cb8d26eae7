// Package execute contains the real-world side effects behind confirmed
// tasks. Records carry counterparty names, not contact details, so every
// executor delivers its artifact (payment link, reminder text, reorder note)
// to the owner's channel ready to forward.
package execute

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/flowsentry/flowsentry/internal/notify"
	"github.com/flowsentry/flowsentry/internal/task"
	"github.com/flowsentry/flowsentry/internal/tenant"
)

// deliver sends the execution artifact to the owner under the task's
// execution key, so a replayed confirmation cannot repeat the side effect.
func deliver(ctx context.Context, gateway notify.Gateway, tn *tenant.Tenant, t *task.Task, subject, body string) error {
	_, err := gateway.Deliver(ctx, executionKey(t.ID), notify.Message{
		TenantID: t.TenantID,
		To:       tn.ChannelAddress,
		Subject:  subject,
		Body:     body,
	})
	if err != nil {
		return fmt.Errorf("delivering %s instruction: %w", t.Kind, err)
	}

	return nil
}

func executionKey(id uuid.UUID) string {
	return "exec-" + id.String()
}
