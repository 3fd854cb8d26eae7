package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LogGateway logs messages instead of delivering them. It remembers
// receipts per idempotency key, so it behaves like a real transport during
// local development.
type LogGateway struct {
	mu       sync.Mutex
	receipts map[string]*Receipt
}

func NewLogGateway() *LogGateway {
	return &LogGateway{receipts: make(map[string]*Receipt)}
}

func (g *LogGateway) Deliver(_ context.Context, idempotencyKey string, msg Message) (*Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.receipts[idempotencyKey]; ok {
		return r, nil
	}

	slog.Info("outbound message",
		"key", idempotencyKey,
		"tenant_id", msg.TenantID,
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Body,
	)

	r := &Receipt{ID: uuid.NewString(), AcceptedAt: time.Now().UTC()}
	g.receipts[idempotencyKey] = r

	return r, nil
}
