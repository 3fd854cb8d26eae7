package classify

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/flowsentry/flowsentry/internal/classify"
	"github.com/flowsentry/flowsentry/internal/http/auth"
)

type Handler struct {
	svc *classify.Service
}

func NewHandler(svc *classify.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/suggest", h.suggest)
	r.Post("/", h.learn)
}

type suggestResponse struct {
	Detail   string `json:"detail"`
	Category string `json:"category"`
}

func (h *Handler) suggest(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(r.URL.Query().Get("tenant_id"))
	if err != nil {
		http.Error(w, "tenant_id query parameter is required", http.StatusBadRequest)
		return
	}

	detail := r.URL.Query().Get("detail")
	if detail == "" {
		http.Error(w, "detail query parameter is required", http.StatusBadRequest)
		return
	}

	if !auth.TenantAllowed(r, tenantID) {
		http.Error(w, "token not valid for tenant", http.StatusForbidden)
		return
	}

	category, err := h.svc.Suggest(r.Context(), tenantID, detail)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(suggestResponse{
		Detail:   detail,
		Category: category,
	}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

type learnRequest struct {
	TenantID uuid.UUID `json:"tenant_id"`
	Pattern  string    `json:"pattern"`
	Category string    `json:"category"`
}

func (h *Handler) learn(w http.ResponseWriter, r *http.Request) {
	var req learnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.TenantID == uuid.Nil {
		http.Error(w, "tenant_id is required", http.StatusBadRequest)
		return
	}

	if req.Pattern == "" || req.Category == "" {
		http.Error(w, "pattern and category are required", http.StatusBadRequest)
		return
	}

	if !auth.TenantAllowed(r, req.TenantID) {
		http.Error(w, "token not valid for tenant", http.StatusForbidden)
		return
	}

	if err := h.svc.Learn(r.Context(), req.TenantID, req.Pattern, req.Category); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
}
