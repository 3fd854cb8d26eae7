// Package webhook receives callbacks from the external chat transport:
// inbound owner messages already parsed by the channel NLU, and
// asynchronous delivery receipts for messages we sent.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flowsentry/flowsentry/internal/classify"
	"github.com/flowsentry/flowsentry/internal/record"
	"github.com/flowsentry/flowsentry/internal/task"
)

type Handler struct {
	orch        *task.Orchestrator
	recordSvc   *record.Service
	classifySvc *classify.Service
}

func NewHandler(orch *task.Orchestrator, recordSvc *record.Service, classifySvc *classify.Service) *Handler {
	return &Handler{
		orch:        orch,
		recordSvc:   recordSvc,
		classifySvc: classifySvc,
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/chat", h.chat)
	r.Post("/delivery-status", h.deliveryStatus)
}

type chatRecord struct {
	OccurredOn   time.Time               `json:"occurred_on"`
	Direction    record.Direction        `json:"direction"`
	Amount       decimal.Decimal         `json:"amount"`
	Counterparty string                  `json:"counterparty"`
	Role         record.CounterpartyRole `json:"role"`
	Category     string                  `json:"category"`
	Detail       string                  `json:"detail"`
	DueOn        *time.Time              `json:"due_on"`
}

type chatEvent struct {
	TenantID uuid.UUID   `json:"tenant_id"`
	From     string      `json:"from"`
	Text     string      `json:"text"`
	MediaRef string      `json:"media_ref"`
	Record   *chatRecord `json:"record"`
}

type chatResponse struct {
	Status   string     `json:"status"`
	RecordID *uuid.UUID `json:"record_id,omitempty"`
	ActionID *uuid.UUID `json:"action_id,omitempty"`
	State    task.State `json:"state,omitempty"`
}

// chat handles one inbound owner message. Structured record payloads are
// appended, confirm/decline replies are routed to the orchestrator and
// anything else is acknowledged so the external NLU can take over.
func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	var event chatEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if event.TenantID == uuid.Nil {
		http.Error(w, "tenant_id is required", http.StatusBadRequest)
		return
	}

	if event.Record != nil {
		h.appendRecord(w, r, event)
		return
	}

	if verb, arg, ok := parseReply(event.Text); ok {
		h.confirmReply(w, r, event, verb, arg)
		return
	}

	slog.Debug("acknowledging unhandled chat event",
		"tenant_id", event.TenantID, "has_media", event.MediaRef != "")
	writeJSON(w, http.StatusOK, chatResponse{Status: "ignored"})
}

func (h *Handler) appendRecord(w http.ResponseWriter, r *http.Request, event chatEvent) {
	payload := event.Record

	category := payload.Category
	if category == "" {
		if suggested, err := h.classifySvc.Suggest(r.Context(), event.TenantID, payload.Detail); err == nil {
			category = suggested
		}
	}

	rec, err := h.recordSvc.Create(r.Context(), record.CreateParams{
		TenantID:     event.TenantID,
		OccurredOn:   payload.OccurredOn,
		Direction:    payload.Direction,
		Amount:       payload.Amount,
		Counterparty: payload.Counterparty,
		Role:         payload.Role,
		Category:     category,
		Detail:       payload.Detail,
		Source:       record.SourceChat,
		DueOn:        payload.DueOn,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, chatResponse{Status: "recorded", RecordID: &rec.ID})
}

func (h *Handler) confirmReply(w http.ResponseWriter, r *http.Request, event chatEvent, verb, arg string) {
	target, err := h.findSentTask(r.Context(), event.TenantID, arg)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if target == nil {
		slog.Info("no sent task matches chat reply",
			"tenant_id", event.TenantID, "verb", verb, "arg", arg)
		writeJSON(w, http.StatusOK, chatResponse{Status: "ignored"})

		return
	}

	approve := verb == "yes"

	t, err := h.orch.Confirm(r.Context(), target.ID, approve)
	if err != nil {
		// The task settled between lookup and confirm. The reply has
		// nothing left to act on; acknowledge it.
		if errors.Is(err, task.ErrInvalidTransition) {
			writeJSON(w, http.StatusOK, chatResponse{Status: "ignored"})
			return
		}

		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	status := "confirmed"
	if !approve {
		status = "declined"
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Status:   status,
		ActionID: &t.ID,
		State:    t.State,
	})
}

// findSentTask resolves which sent task a reply refers to. A short id
// argument selects by id prefix; without one the reply is unambiguous only
// when a single sent task is waiting.
func (h *Handler) findSentTask(ctx context.Context, tenantID uuid.UUID, arg string) (*task.Task, error) {
	tasks, err := h.orch.List(ctx, task.ListFilter{
		TenantID: tenantID,
		States:   []task.State{task.StateSent},
	})
	if err != nil {
		return nil, err
	}

	if arg != "" {
		for _, t := range tasks {
			if strings.HasPrefix(t.ID.String(), strings.ToLower(arg)) {
				return t, nil
			}
		}

		return nil, nil
	}

	if len(tasks) == 1 {
		return tasks[0], nil
	}

	return nil, nil
}

// parseReply extracts a confirm or decline verb and an optional short task
// id from free text like "YES 1f6c2a8e" or "no".
func parseReply(text string) (verb, arg string, ok bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || len(fields) > 2 {
		return "", "", false
	}

	switch strings.ToLower(strings.Trim(fields[0], ".,!")) {
	case "yes", "y", "ok":
		verb = "yes"
	case "no", "n":
		verb = "no"
	default:
		return "", "", false
	}

	if len(fields) == 2 {
		arg = fields[1]
	}

	return verb, arg, true
}

type deliveryStatusEvent struct {
	IdempotencyKey string `json:"idempotency_key"`
	Status         string `json:"status"`
	ReceiptID      string `json:"receipt_id"`
}

// deliveryStatus folds an asynchronous transport receipt into the task the
// message belonged to. Keys for non-task messages (execution notices,
// weekly reports) carry no state here and are acknowledged as-is.
func (h *Handler) deliveryStatus(w http.ResponseWriter, r *http.Request) {
	var event deliveryStatusEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	idStr, isTask := strings.CutPrefix(event.IdempotencyKey, "task-")
	if !isTask {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		slog.Warn("malformed task idempotency key in delivery status",
			"key", event.IdempotencyKey)
		w.WriteHeader(http.StatusNoContent)

		return
	}

	if err := h.orch.ApplyDeliveryStatus(r.Context(), id, event.Status, event.ReceiptID); err != nil {
		if errors.Is(err, task.ErrNotFound) {
			slog.Warn("delivery status for unknown task", "task_id", id)
			w.WriteHeader(http.StatusNoContent)

			return
		}

		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
