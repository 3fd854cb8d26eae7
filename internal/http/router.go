package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowsentry/flowsentry/internal/http/action"
	"github.com/flowsentry/flowsentry/internal/http/advisory"
	"github.com/flowsentry/flowsentry/internal/http/auth"
	"github.com/flowsentry/flowsentry/internal/http/classify"
	"github.com/flowsentry/flowsentry/internal/http/importcsv"
	"github.com/flowsentry/flowsentry/internal/http/record"
	"github.com/flowsentry/flowsentry/internal/http/tenant"
	"github.com/flowsentry/flowsentry/internal/http/webhook"
)

func New(
	jwtSecret string,
	recordsV1 *record.Handler,
	importV1 *importcsv.Handler,
	actionsV1 *action.Handler,
	advisoryV1 *advisory.Handler,
	tenantsV1 *tenant.Handler,
	classifyV1 *classify.Handler,
	webhooks *webhook.Handler,
) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/health", health)
	router.Handle("/metrics", promhttp.Handler())

	// The transport verifies webhook signatures before forwarding, so these
	// routes skip bearer auth.
	router.Route("/webhooks", webhooks.Routes)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		}))
		r.Use(auth.Middleware(jwtSecret))

		r.Group(func(r chi.Router) {
			r.Use(middleware.AllowContentType("application/json"))

			advisoryV1.Routes(r)

			r.Route("/actions", actionsV1.Routes)
			r.Route("/tenants", tenantsV1.Routes)
			r.Route("/classify", classifyV1.Routes)
		})

		r.Route("/records", func(r chi.Router) {
			r.Route("/import", importV1.Routes)

			r.Group(func(r chi.Router) {
				r.Use(middleware.AllowContentType("application/json"))
				recordsV1.Routes(r)
			})
		})
	})

	return router
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
		slog.Error("failed to write health response", "error", err)
	}
}
