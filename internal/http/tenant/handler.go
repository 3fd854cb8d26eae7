package tenant

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/flowsentry/flowsentry/internal/http/auth"
	"github.com/flowsentry/flowsentry/internal/tenant"
)

type Handler struct {
	svc *tenant.Service
}

func NewHandler(svc *tenant.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Patch("/{id}/active", h.setActive)
}

type tenantResponse struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	ChannelAddress string     `json:"channel_address,omitempty"`
	Timezone       string     `json:"timezone,omitempty"`
	Active         bool       `json:"active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

func toResponse(t *tenant.Tenant) tenantResponse {
	return tenantResponse{
		ID:             t.ID,
		Name:           t.Name,
		ChannelAddress: t.ChannelAddress,
		Timezone:       t.Timezone,
		Active:         t.Active,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

type createTenantRequest struct {
	Name           string `json:"name"`
	ChannelAddress string `json:"channel_address"`
	Timezone       string `json:"timezone"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	if !auth.Operator(r) {
		http.Error(w, "operator token required", http.StatusForbidden)
		return
	}

	var req createTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	t, err := h.svc.Create(r.Context(), tenant.CreateParams{
		Name:           req.Name,
		ChannelAddress: req.ChannelAddress,
		Timezone:       req.Timezone,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)

	if err := json.NewEncoder(w).Encode(toResponse(t)); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	if !auth.Operator(r) {
		http.Error(w, "operator token required", http.StatusForbidden)
		return
	}

	filter := tenant.ListFilter{
		OnlyActive: r.URL.Query().Get("active") == "true",
	}

	tenants, err := h.svc.List(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := make([]tenantResponse, len(tenants))
	for i, t := range tenants {
		resp[i] = toResponse(t)
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	if !auth.TenantAllowed(r, id) {
		http.Error(w, "token not valid for tenant", http.StatusForbidden)
		return
	}

	t, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			http.Error(w, "tenant not found", http.StatusNotFound)
			return
		}

		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(toResponse(t)); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request) {
	if !auth.Operator(r) {
		http.Error(w, "operator token required", http.StatusForbidden)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.svc.SetActive(r.Context(), id, req.Active); err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			http.Error(w, "tenant not found", http.StatusNotFound)
			return
		}

		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}
