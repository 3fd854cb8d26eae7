// Package notify is the outbound messaging boundary. Everything the engine
// tells an owner, a customer or a vendor goes through a Gateway, keyed so
// that retries never deliver the same message twice.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is one outbound message on a tenant's channel.
type Message struct {
	TenantID uuid.UUID
	To       string
	Subject  string
	Body     string
}

// Receipt is the provider's acknowledgement of an accepted message.
type Receipt struct {
	ID         string
	AcceptedAt time.Time
}

// Gateway delivers messages. Implementations must treat the idempotency key
// as the identity of the send: a repeated key returns the original receipt
// instead of delivering again.
//
//go:generate mockgen -source=notify.go -destination=gateway_mock.go -package=notify
type Gateway interface {
	Deliver(ctx context.Context, idempotencyKey string, msg Message) (*Receipt, error)
}

// DeliveryError wraps a failed delivery attempt with enough context to
// decide whether to retry.
type DeliveryError struct {
	Key       string
	Permanent bool
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivering message %s: %v", e.Key, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
