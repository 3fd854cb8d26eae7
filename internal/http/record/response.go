package record

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flowsentry/flowsentry/internal/record"
)

type recordResponse struct {
	ID           uuid.UUID               `json:"id"`
	TenantID     uuid.UUID               `json:"tenant_id"`
	OccurredOn   time.Time               `json:"occurred_on"`
	Direction    record.Direction        `json:"direction"`
	Amount       decimal.Decimal         `json:"amount"`
	Counterparty string                  `json:"counterparty,omitempty"`
	Role         record.CounterpartyRole `json:"role,omitempty"`
	Category     string                  `json:"category,omitempty"`
	Detail       string                  `json:"detail,omitempty"`
	Source       record.Source           `json:"source"`
	DueOn        *time.Time              `json:"due_on,omitempty"`
	Metadata     map[string]string       `json:"metadata,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
}

func toResponse(rec *record.Record) recordResponse {
	return recordResponse{
		ID:           rec.ID,
		TenantID:     rec.TenantID,
		OccurredOn:   rec.OccurredOn,
		Direction:    rec.Direction,
		Amount:       rec.Amount,
		Counterparty: rec.Counterparty,
		Role:         rec.Role,
		Category:     rec.Category,
		Detail:       rec.Detail,
		Source:       rec.Source,
		DueOn:        rec.DueOn,
		Metadata:     rec.Metadata,
		CreatedAt:    rec.CreatedAt,
	}
}

func toResponseList(recs []*record.Record) []recordResponse {
	resp := make([]recordResponse, len(recs))
	for i, rec := range recs {
		resp[i] = toResponse(rec)
	}

	return resp
}
