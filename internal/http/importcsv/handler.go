package importcsv

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flowsentry/flowsentry/internal/classify"
	"github.com/flowsentry/flowsentry/internal/http/auth"
	"github.com/flowsentry/flowsentry/internal/importer"
	"github.com/flowsentry/flowsentry/internal/record"
)

type Handler struct {
	importSvc   *importer.Service
	recordSvc   *record.Service
	classifySvc *classify.Service
}

func NewHandler(importSvc *importer.Service, recordSvc *record.Service, classifySvc *classify.Service) *Handler {
	return &Handler{
		importSvc:   importSvc,
		recordSvc:   recordSvc,
		classifySvc: classifySvc,
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.importCSV)
}

type recordResponse struct {
	ID         uuid.UUID        `json:"id"`
	OccurredOn time.Time        `json:"occurred_on"`
	Direction  record.Direction `json:"direction"`
	Amount     decimal.Decimal  `json:"amount"`
	Category   string           `json:"category,omitempty"`
	Detail     string           `json:"detail"`
	CreatedAt  time.Time        `json:"created_at"`
}

type importResponse struct {
	Imported int              `json:"imported"`
	Skipped  int              `json:"skipped"`
	Records  []recordResponse `json:"records"`
}

func (h *Handler) importCSV(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "failed to parse form: "+err.Error(), http.StatusBadRequest)
		return
	}

	tenantID, err := uuid.Parse(r.FormValue("tenant_id"))
	if err != nil {
		http.Error(w, "tenant_id field is required", http.StatusBadRequest)
		return
	}

	if !auth.TenantAllowed(r, tenantID) {
		http.Error(w, "token not valid for tenant", http.StatusForbidden)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	params, err := h.importSvc.Parse(file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	for i, p := range params {
		if p.Category != "" {
			continue
		}

		category, err := h.classifySvc.Suggest(r.Context(), tenantID, p.Detail)
		if err != nil || category == "" {
			continue
		}

		params[i].Category = category
	}

	result, err := h.recordSvc.ImportBatch(r.Context(), tenantID, params)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := importResponse{
		Imported: len(result.Imported),
		Skipped:  len(result.Skipped),
		Records:  make([]recordResponse, 0, len(result.Imported)),
	}
	for _, rec := range result.Imported {
		resp.Records = append(resp.Records, recordResponse{
			ID:         rec.ID,
			OccurredOn: rec.OccurredOn,
			Direction:  rec.Direction,
			Amount:     rec.Amount,
			Category:   rec.Category,
			Detail:     rec.Detail,
			CreatedAt:  rec.CreatedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
