package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/forgelabs/genflow/internal/adapter/gpu"
	"github.com/forgelabs/genflow/internal/config"
	"github.com/forgelabs/genflow/internal/domain"
	"github.com/forgelabs/genflow/internal/observability"
	"github.com/forgelabs/genflow/internal/usecase/admission"
	"github.com/forgelabs/genflow/internal/usecase/cancellation"
)

// HealthReporter is the subset of the GPU orchestrator (C6) the admin surface
// probes for per-provider health and circuit-breaker state.
type HealthReporter interface {
	HealthAll(ctx domain.Context) gpu.HealthReport
	CircuitStates() map[string]observability.CircuitBreakerState
}

// Server aggregates every collaborator a handler needs. Admission and
// Cancellation are the only two components that ever touch credits (§5); the
// server itself holds no business logic beyond request parsing and response
// shaping.
type Server struct {
	Cfg          config.Config
	Admission    *admission.Controller
	Cancellation *cancellation.Controller
	Jobs         domain.JobRepository
	Health       HealthReporter
	DBCheck      func(ctx context.Context) error
	QueueCheck   func(ctx context.Context) error
	LimiterCheck func(ctx context.Context) error
	Sessions     *SessionManager
}

// NewServer builds a Server from its wired collaborators.
func NewServer(cfg config.Config, adm *admission.Controller, cancel *cancellation.Controller, jobs domain.JobRepository, health HealthReporter,
	dbCheck, queueCheck, limiterCheck func(context.Context) error, sessions *SessionManager) *Server {
	return &Server{
		Cfg: cfg, Admission: adm, Cancellation: cancel, Jobs: jobs, Health: health,
		DBCheck: dbCheck, QueueCheck: queueCheck, LimiterCheck: limiterCheck, Sessions: sessions,
	}
}

func requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := ownerFromRequest(r)
	if owner == "" {
		writeError(w, errors.New("missing caller identity"), "VALIDATION_ERROR", nil)
		return "", false
	}
	return owner, true
}

// GenerateImageHandler handles POST /api/generate/image.
func (s *Server) GenerateImageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := requireOwner(w, r)
		if !ok {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req imageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errors.New("invalid json body"), "VALIDATION_ERROR", nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, errors.New("request validation failed"), "VALIDATION_ERROR", fieldErrors(err))
			return
		}
		params := domain.Params{
			Prompt: req.Prompt, NegativePrompt: req.NegativePrompt, Model: req.Model,
			Quality: domain.Quality(req.Quality), Width: req.Width, Height: req.Height, Seed: req.Seed,
			InitImageURL: req.InitImageURL, Strength: req.Strength, CaptionInit: req.CaptionInit,
			EditType: domain.EditType(req.EditType), Metadata: req.Metadata,
		}
		s.admit(w, r, owner, domain.KindImage, params, "IMAGE_QUEUE_ERROR")
	}
}

// GenerateVideoHandler handles POST /api/generate/video.
func (s *Server) GenerateVideoHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := requireOwner(w, r)
		if !ok {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req videoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errors.New("invalid json body"), "VALIDATION_ERROR", nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, errors.New("request validation failed"), "VALIDATION_ERROR", fieldErrors(err))
			return
		}
		params := domain.Params{
			Prompt: req.Prompt, NegativePrompt: req.NegativePrompt, Model: req.Model,
			Quality: domain.Quality(req.Quality), GenerationType: domain.VideoMode(req.GenerationType),
			DurationSeconds: req.DurationSeconds, FPS: req.FPS, InitImageURL: req.InitImageURL, Metadata: req.Metadata,
		}
		s.admit(w, r, owner, domain.KindVideo, params, "VIDEO_QUEUE_ERROR")
	}
}

// GenerateTrainingHandler handles POST /api/generate/training.
func (s *Server) GenerateTrainingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := requireOwner(w, r)
		if !ok {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req trainingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errors.New("invalid json body"), "VALIDATION_ERROR", nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, errors.New("request validation failed"), "VALIDATION_ERROR", fieldErrors(err))
			return
		}
		params := domain.Params{Name: req.Name, Steps: req.Steps, BaseModel: req.BaseModel, DatasetURL: req.DatasetURL}
		s.admit(w, r, owner, domain.KindTraining, params, "TRAINING_QUEUE_ERROR")
	}
}

func (s *Server) admit(w http.ResponseWriter, r *http.Request, owner string, kind domain.Kind, params domain.Params, queueErrorCode string) {
	jobID, err := s.Admission.Admit(r.Context(), admission.Request{Owner: owner, Kind: kind, Params: params})
	if err != nil {
		code := ""
		if !errors.Is(err, domain.ErrInsufficientCredits) && !errors.Is(err, domain.ErrRateLimited) && !errors.Is(err, domain.ErrConflict) && !errors.Is(err, domain.ErrInvalidArgument) {
			code = queueErrorCode
		}
		writeError(w, err, code, nil)
		return
	}
	cost, _ := domain.Price(params)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":    "queued",
		"jobId":     jobID,
		"queue":     string(kind),
		"cost":      cost,
		"timestamp": time.Now().UTC(),
	})
}

// externalState translates the internal job state machine into the polling
// API's dialect. waiting/active/delayed mirror a generic job-queue's vocabulary;
// cancelled is kept as its own value rather than folded into failed, since a
// caller needs to distinguish "I cancelled this" from "this broke" (an Open
// Question the source left unresolved for this corner).
func externalState(s domain.State) string {
	switch s {
	case domain.StatePending:
		return "waiting"
	case domain.StateProcessing:
		return "active"
	case domain.StateCompleted:
		return "completed"
	case domain.StateFailed:
		return "failed"
	case domain.StateCancelled:
		return "cancelled"
	default:
		return string(s)
	}
}

func jobEnvelope(j domain.Job) map[string]any {
	m := map[string]any{
		"jobId":    j.ID,
		"kind":     string(j.Kind),
		"state":    externalState(j.State),
		"progress": j.Progress,
	}
	if j.Result != nil {
		m["result"] = j.Result
	}
	if j.Err != nil {
		m["error"] = j.Err
	}
	return m
}

// JobStatusHandler handles GET /api/generate/:jobId.
func (s *Server) JobStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := requireOwner(w, r)
		if !ok {
			return
		}
		jobID := chi.URLParam(r, "jobId")
		job, err := s.Jobs.Get(r.Context(), jobID)
		if err != nil {
			writeError(w, err, "", nil)
			return
		}
		if job.Owner != owner {
			writeError(w, domain.ErrNotOwner, "NOT_OWNER", nil)
			return
		}
		writeJSON(w, http.StatusOK, jobEnvelope(job))
	}
}

// CancelHandler handles POST /api/generate/:jobId/cancel.
func (s *Server) CancelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := requireOwner(w, r)
		if !ok {
			return
		}
		jobID := chi.URLParam(r, "jobId")
		if err := s.Cancellation.Cancel(r.Context(), owner, jobID); err != nil {
			code := ""
			if !errors.Is(err, domain.ErrNotOwner) && !errors.Is(err, domain.ErrNotCancellable) && !errors.Is(err, domain.ErrNotFound) {
				code = "JOB_CANCEL_ERROR"
			}
			writeError(w, err, code, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled", "jobId": jobID})
	}
}

// HistoryHandler handles GET /api/generate/history.
func (s *Server) HistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := requireOwner(w, r)
		if !ok {
			return
		}
		q := r.URL.Query()
		var filters domain.JobFilters
		if k := q.Get("content_type"); k != "" {
			kind := domain.Kind(k)
			filters.Kind = &kind
		}
		if st := q.Get("status"); st != "" {
			state := domain.State(st)
			filters.State = &state
		}
		page := domain.Page{Limit: 20}
		if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 100 {
			page.Limit = l
		}
		if o, err := strconv.Atoi(q.Get("offset")); err == nil && o >= 0 {
			page.Offset = o
		}
		jobs, err := s.Jobs.ListByOwner(r.Context(), owner, filters, page)
		if err != nil {
			writeError(w, err, "", nil)
			return
		}
		items := make([]map[string]any, 0, len(jobs))
		for _, j := range jobs {
			items = append(items, jobEnvelope(j))
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": items, "limit": page.Limit, "offset": page.Offset})
	}
}

// HealthzHandler is a pure liveness probe: no dependency checks.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}
}

// ReadyzHandler fans out DB/queue/rate-limiter-store checks (§6).
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name string `json:"name"`
		OK   bool   `json:"ok"`
		Err  string `json:"error,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		var checks []check
		run := func(name string, fn func(context.Context) error) {
			if fn == nil {
				return
			}
			c := check{Name: name, OK: true}
			if err := fn(ctx); err != nil {
				c.OK = false
				c.Err = err.Error()
			}
			checks = append(checks, c)
		}
		run("db", s.DBCheck)
		run("queue", s.QueueCheck)
		run("rate_limiter_store", s.LimiterCheck)

		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"checks": checks})
	}
}
