package record

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flowsentry/flowsentry/internal/http/auth"
	"github.com/flowsentry/flowsentry/internal/record"
)

type Handler struct {
	svc *record.Service
}

func NewHandler(svc *record.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
}

type createRecordRequest struct {
	TenantID     uuid.UUID               `json:"tenant_id"`
	OccurredOn   time.Time               `json:"occurred_on"`
	Direction    record.Direction        `json:"direction"`
	Amount       decimal.Decimal         `json:"amount"`
	Counterparty string                  `json:"counterparty"`
	Role         record.CounterpartyRole `json:"role"`
	Category     string                  `json:"category"`
	Detail       string                  `json:"detail"`
	DueOn        *time.Time              `json:"due_on"`
	Metadata     map[string]string       `json:"metadata"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.TenantID == uuid.Nil {
		http.Error(w, "tenant_id is required", http.StatusBadRequest)
		return
	}

	if !auth.TenantAllowed(r, req.TenantID) {
		http.Error(w, "token not valid for tenant", http.StatusForbidden)
		return
	}

	rec, err := h.svc.Create(r.Context(), record.CreateParams{
		TenantID:     req.TenantID,
		OccurredOn:   req.OccurredOn,
		Direction:    req.Direction,
		Amount:       req.Amount,
		Counterparty: req.Counterparty,
		Role:         req.Role,
		Category:     req.Category,
		Detail:       req.Detail,
		Source:       record.SourceAPI,
		DueOn:        req.DueOn,
		Metadata:     req.Metadata,
	})
	if err != nil {
		if errors.Is(err, record.ErrNegativeAmount) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)

	if err := json.NewEncoder(w).Encode(toResponse(rec)); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
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

	filter := record.ListFilter{TenantID: tenantID}

	if s := r.URL.Query().Get("from"); s != "" {
		if t, err := time.Parse(time.DateOnly, s); err == nil {
			filter.From = &t
		}
	}

	if s := r.URL.Query().Get("to"); s != "" {
		if t, err := time.Parse(time.DateOnly, s); err == nil {
			filter.To = &t
		}
	}

	if s := r.URL.Query().Get("direction"); s != "" {
		direction := record.Direction(s)
		filter.Direction = &direction
	}

	if s := r.URL.Query().Get("role"); s != "" {
		role := record.CounterpartyRole(s)
		filter.Role = &role
	}

	if s := r.URL.Query().Get("category"); s != "" {
		filter.Category = &s
	}

	if s := r.URL.Query().Get("source"); s != "" {
		source := record.Source(s)
		filter.Source = &source
	}

	recs, err := h.svc.List(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(toResponseList(recs)); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	rec, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			http.Error(w, "record not found", http.StatusNotFound)
			return
		}

		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	if !auth.TenantAllowed(r, rec.TenantID) {
		http.Error(w, "token not valid for tenant", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(toResponse(rec)); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
