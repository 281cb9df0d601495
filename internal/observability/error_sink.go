package observability

import (
	"log/slog"

	"github.com/forgelabs/genflow/internal/domain"
)

// SlogErrorSink implements domain.ErrorSink by logging structured failure
// records. It replaces the ad-hoc "log and move on" scattered through
// workers and the orchestrator with a single injected collection point
// (Design Note §9a).
type SlogErrorSink struct {
	Logger *slog.Logger
}

var _ domain.ErrorSink = (*SlogErrorSink)(nil)

// NewSlogErrorSink builds a sink around the given logger, defaulting to
// slog.Default() when nil.
func NewSlogErrorSink(logger *slog.Logger) *SlogErrorSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogErrorSink{Logger: logger}
}

// Report logs the failure record at error level with structured fields.
func (s *SlogErrorSink) Report(ctx domain.Context, rec domain.FailureRecord) {
	s.Logger.ErrorContext(ctx, "component failure",
		slog.String("component", rec.Component),
		slog.String("op", rec.Op),
		slog.String("job_id", rec.JobID),
		slog.String("user", rec.User),
		slog.Time("at", rec.At),
		slog.Any("error", rec.Err),
	)
}
