package action

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/flowsentry/flowsentry/internal/http/auth"
	"github.com/flowsentry/flowsentry/internal/task"
)

type Handler struct {
	orch *task.Orchestrator
}

func NewHandler(orch *task.Orchestrator) *Handler {
	return &Handler{orch: orch}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Post("/confirm", h.confirm)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(r.URL.Query().Get("tenant_id"))
	if err != nil {
		http.Error(w, "tenant_id query parameter is required", http.StatusBadRequest)
		return
	}

	if !auth.TenantAllowed(r, tenantID) {
		http.Error(w, "token not valid for tenant", http.StatusForbidden)
		return
	}

	filter := task.ListFilter{TenantID: tenantID}
	if r.URL.Query().Get("open") == "true" {
		filter.States = task.OpenStates()
	}

	tasks, err := h.orch.List(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(toResponseList(tasks)); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	t, err := h.orch.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			http.Error(w, "action not found", http.StatusNotFound)
			return
		}

		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	if !auth.TenantAllowed(r, t.TenantID) {
		http.Error(w, "token not valid for tenant", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(toResponse(t)); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

type confirmRequest struct {
	TenantID uuid.UUID `json:"tenant_id"`
	ActionID uuid.UUID `json:"action_id"`
	Confirm  bool      `json:"confirm"`
	Channel  string    `json:"channel"`
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.ActionID == uuid.Nil {
		http.Error(w, "action_id is required", http.StatusBadRequest)
		return
	}

	t, err := h.orch.Get(r.Context(), req.ActionID)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			http.Error(w, "action not found", http.StatusNotFound)
			return
		}

		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	if req.TenantID != uuid.Nil && req.TenantID != t.TenantID {
		http.Error(w, "action does not belong to tenant", http.StatusNotFound)
		return
	}

	if !auth.TenantAllowed(r, t.TenantID) {
		http.Error(w, "token not valid for tenant", http.StatusForbidden)
		return
	}

	t, err = h.orch.Confirm(r.Context(), req.ActionID, req.Confirm)
	if err != nil {
		if errors.Is(err, task.ErrInvalidTransition) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}

		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	slog.Info("action confirmation received",
		"task_id", t.ID, "approve", req.Confirm, "channel", req.Channel, "state", t.State)

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(toResponse(t)); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
