// Package app wires the HTTP surface together: middleware stack, CORS,
// rate limiting, and route registration.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forgelabs/genflow/internal/adapter/httpserver"
	"github.com/forgelabs/genflow/internal/config"
	"github.com/forgelabs/genflow/internal/observability"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming
// spaces. An empty or "*" input allows every origin.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with the full middleware stack and
// every route the generation API exposes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()

	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Mutating generation endpoints are rate-limited per caller IP; reads and
	// health probes are not (C2 applies its own per-owner limiting downstream).
	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
		wr.Post("/api/generate/image", srv.GenerateImageHandler())
		wr.Post("/api/generate/video", srv.GenerateVideoHandler())
		wr.Post("/api/generate/training", srv.GenerateTrainingHandler())
		wr.Post("/api/generate/{jobId}/cancel", srv.CancelHandler())
	})

	r.Get("/api/generate/{jobId}", srv.JobStatusHandler())
	r.Get("/api/generate/history", srv.HistoryHandler())

	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	srv.MountAdmin(r)

	return httpserver.SecurityHeaders(r)
}
