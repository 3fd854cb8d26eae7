package advisory

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/flowsentry/flowsentry/internal/http/auth"
	"github.com/flowsentry/flowsentry/internal/schedule"
	"github.com/flowsentry/flowsentry/internal/tenant"
)

// Handler triggers scheduled jobs on demand, outside their regular slots.
type Handler struct {
	sched *schedule.Scheduler
}

func NewHandler(sched *schedule.Scheduler) *Handler {
	return &Handler{sched: sched}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/advisory/run", h.runJob(schedule.JobAdvisory))
	r.Post("/reports/run", h.runJob(schedule.JobReport))
}

type runRequest struct {
	TenantID uuid.UUID `json:"tenant_id"`
}

func (h *Handler) runJob(job schedule.Job) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req runRequest
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

		if err := h.sched.Force(r.Context(), req.TenantID, job); err != nil {
			switch {
			case errors.Is(err, tenant.ErrNotFound):
				http.Error(w, "tenant not found", http.StatusNotFound)
			case errors.Is(err, schedule.ErrRunInFlight):
				http.Error(w, err.Error(), http.StatusConflict)
			default:
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}

			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
