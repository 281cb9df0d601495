package postgres

import (
	"log/slog"
	"time"

	"github.com/forgelabs/genflow/internal/domain"
)

// ErrorSink persists failure records for the health/reconciliation surface,
// in addition to logging them. It satisfies domain.ErrorSink.
type ErrorSink struct {
	Pool   PgxPool
	Logger *slog.Logger
}

var _ domain.ErrorSink = (*ErrorSink)(nil)

// NewErrorSink builds a persisting sink around the given pool and logger.
func NewErrorSink(pool PgxPool, logger *slog.Logger) *ErrorSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorSink{Pool: pool, Logger: logger}
}

// Report logs the failure and best-effort persists it for later review via
// the health surface; a persistence failure is logged but never propagated,
// since a sink must never itself become a source of cascading failure.
func (s *ErrorSink) Report(ctx domain.Context, rec domain.FailureRecord) {
	errMsg := ""
	if rec.Err != nil {
		errMsg = rec.Err.Error()
	}
	s.Logger.ErrorContext(ctx, "component failure",
		slog.String("component", rec.Component),
		slog.String("op", rec.Op),
		slog.String("job_id", rec.JobID),
		slog.String("user", rec.User),
		slog.String("error", errMsg),
	)

	at := rec.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if s.Pool == nil {
		return
	}
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO failure_records (component, op, job_id, user_id, error, occurred_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		rec.Component, rec.Op, rec.JobID, rec.User, errMsg, at,
	)
	if err != nil {
		s.Logger.Error("failed to persist failure record", slog.Any("error", err))
	}
}
