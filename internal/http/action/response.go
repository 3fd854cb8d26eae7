package action

import (
	"time"

	"github.com/google/uuid"

	"github.com/flowsentry/flowsentry/internal/task"
)

type actionResponse struct {
	ID                uuid.UUID            `json:"id"`
	TenantID          uuid.UUID            `json:"tenant_id"`
	Kind              task.Kind            `json:"kind"`
	State             task.State           `json:"state"`
	Outcome           task.Outcome         `json:"outcome,omitempty"`
	Title             string               `json:"title"`
	Payload           task.Payload         `json:"payload"`
	Impact            *task.ImpactSnapshot `json:"impact,omitempty"`
	OriginRiskEventID uuid.UUID            `json:"origin_risk_event_id"`
	DeliveryAttempts  int                  `json:"delivery_attempts"`
	ReceiptID         string               `json:"receipt_id,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
	SentAt            *time.Time           `json:"sent_at,omitempty"`
	ResolvedAt        *time.Time           `json:"resolved_at,omitempty"`
}

func toResponse(t *task.Task) actionResponse {
	return actionResponse{
		ID:                t.ID,
		TenantID:          t.TenantID,
		Kind:              t.Kind,
		State:             t.State,
		Outcome:           t.Outcome,
		Title:             t.Title,
		Payload:           t.Payload,
		Impact:            t.Impact,
		OriginRiskEventID: t.OriginRiskEventID,
		DeliveryAttempts:  t.DeliveryAttempts,
		ReceiptID:         t.ReceiptID,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
		SentAt:            t.SentAt,
		ResolvedAt:        t.ResolvedAt,
	}
}

func toResponseList(tasks []*task.Task) []actionResponse {
	resp := make([]actionResponse, len(tasks))
	for i, t := range tasks {
		resp[i] = toResponse(t)
	}

	return resp
}
