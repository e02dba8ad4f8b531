// Package app wires the HTTP router, readiness probes, and background
// maintenance loops shared by the server and worker binaries.
package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/videogen/internal/adapter/httpserver"
	"github.com/fairyhunter13/videogen/internal/adapter/observability"
	"github.com/fairyhunter13/videogen/internal/config"
)

// mutatingRateLimit caps write traffic per client IP, a coarse outer guard in
// front of the per-user sliding window.
const (
	mutatingRateLimit  = 30
	mutatingRateWindow = time.Minute
)

// BuildRouter constructs the HTTP handler with all middleware and routes.
// The stream route is mounted outside the timeout middleware:
// http.TimeoutHandler buffers the response, which would stall SSE.
func BuildRouter(cfg config.Config, srv *httpserver.Server, auth func(http.Handler) http.Handler, ready http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.FrontendURL},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/health", srv.HealthHandler())

		api.Group(func(priv chi.Router) {
			priv.Use(auth)
			priv.Use(httpserver.TimeoutMiddleware(30 * time.Second))

			priv.Group(func(wr chi.Router) {
				wr.Use(httprate.LimitByIP(mutatingRateLimit, mutatingRateWindow))
				wr.Post("/upload-audio", srv.UploadAudioHandler())
				wr.Post("/jobs/{id}/cancel", srv.CancelHandler())
			})
			priv.Get("/jobs", srv.ListJobsHandler())
			priv.Get("/jobs/{id}", srv.JobStatusHandler())
			priv.Get("/jobs/{id}/download", srv.DownloadHandler())
		})

		// Long-lived, so no timeout; auth still applies.
		api.Group(func(stream chi.Router) {
			stream.Use(auth)
			stream.Get("/jobs/{id}/stream", srv.Stream.ServeHTTP)
		})
	})

	// Operational endpoints sit outside the public API prefix.
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", ready)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	return httpserver.SecurityHeaders(r)
}
