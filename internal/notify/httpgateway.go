package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// HTTPGateway posts messages to an external channel transport (the service
// that actually talks to WhatsApp, SMS or email providers). Transient
// failures are retried with exponential backoff inside a single Deliver
// call; the transport deduplicates on the idempotency key.
type HTTPGateway struct {
	url    string
	token  string
	client *http.Client
}

func NewHTTPGateway(url, token string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

type deliverRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	TenantID       string `json:"tenant_id"`
	To             string `json:"to"`
	Subject        string `json:"subject,omitempty"`
	Body           string `json:"body"`
}

type deliverResponse struct {
	ReceiptID  string    `json:"receipt_id"`
	AcceptedAt time.Time `json:"accepted_at"`
}

const maxAttemptsPerCall = 3

func (g *HTTPGateway) Deliver(ctx context.Context, idempotencyKey string, msg Message) (*Receipt, error) {
	payload, err := json.Marshal(deliverRequest{
		IdempotencyKey: idempotencyKey,
		TenantID:       msg.TenantID.String(),
		To:             msg.To,
		Subject:        msg.Subject,
		Body:           msg.Body,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}

	var receipt *Receipt

	operation := func() error {
		var opErr error

		receipt, opErr = g.post(ctx, payload)

		return opErr
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxAttemptsPerCall-1), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		var derr *DeliveryError
		if errors.As(err, &derr) {
			derr.Key = idempotencyKey
			return nil, derr
		}

		return nil, &DeliveryError{Key: idempotencyKey, Err: err}
	}

	return receipt, nil
}

func (g *HTTPGateway) post(ctx context.Context, payload []byte) (*Receipt, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	req.Header.Set("Content-Type", "application/json")

	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("transport returned %d", resp.StatusCode)
	default:
		return nil, backoff.Permanent(&DeliveryError{
			Permanent: true,
			Err:       fmt.Errorf("transport rejected message: %d %s", resp.StatusCode, body),
		})
	}

	var out deliverResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decoding transport response: %w", err)
	}

	if out.AcceptedAt.IsZero() {
		out.AcceptedAt = time.Now().UTC()
	}

	return &Receipt{ID: out.ReceiptID, AcceptedAt: out.AcceptedAt}, nil
}
