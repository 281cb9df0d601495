package httpserver

import (
	"encoding/json"
	"net/http"
	"time"
)

// AdminLoginHandler exchanges the configured operator credentials for a bearer JWT.
func (s *Server) AdminLoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<10)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if !CheckAdminPassword(s.Cfg, req.Username, req.Password) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		token, err := s.Sessions.GenerateJWT(req.Username, time.Hour)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"token": token})
	}
}

// AdminStatusHandler reports provider health and circuit-breaker state (C6, C10).
func (s *Server) AdminStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Health == nil {
			writeJSON(w, http.StatusOK, map[string]any{"providers": map[string]any{}, "circuits": map[string]any{}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"providers": s.Health.HealthAll(r.Context()),
			"circuits":  s.Health.CircuitStates(),
		})
	}
}

// MountAdmin wires the admin login and status routes when admin credentials
// are configured; it is a no-op otherwise (§5, admin surface is operator-only
// tooling, not part of the generation API contract).
func (s *Server) MountAdmin(mux Router) {
	if !s.Cfg.AdminEnabled() {
		return
	}
	mux.Post("/admin/login", s.AdminLoginHandler())
	mux.Get("/admin/api/status", s.AdminBearerRequired(s.AdminStatusHandler()))
}

// Router is the minimal chi.Router surface MountAdmin needs, kept narrow so
// this package doesn't leak a chi dependency into callers that just want to
// wire routes.
type Router interface {
	Post(pattern string, h http.HandlerFunc)
	Get(pattern string, h http.HandlerFunc)
}
