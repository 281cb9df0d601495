package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/forgelabs/genflow/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// StuckJobSweeper finds processing jobs abandoned by a crashed or killed
// worker (no redelivery will ever come, since the consumer already acked the
// record) and reclaims them: back to pending for requeue, or to a poisoned
// failure if the job is already near its kind's attempt budget, so a job
// that keeps crashing its worker can't thrash a GPU provider forever (§4.6).
type StuckJobSweeper struct {
	Jobs   domain.JobRepository
	Queue  domain.Queue
	Ledger domain.CreditLedger // optional; refunds poisoned jobs if set

	MaxAge   time.Duration
	Interval time.Duration
}

// NewStuckJobSweeper builds a sweeper with the same nil-safe defaults as the
// rest of this codebase's periodic background tasks.
func NewStuckJobSweeper(jobs domain.JobRepository, queue domain.Queue, ledger domain.CreditLedger, maxAge, interval time.Duration) *StuckJobSweeper {
	if jobs == nil {
		return nil
	}
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &StuckJobSweeper{Jobs: jobs, Queue: queue, Ledger: ledger, MaxAge: maxAge, Interval: interval}
}

// Run sweeps immediately, then on every tick, until ctx is cancelled.
func (s *StuckJobSweeper) Run(ctx context.Context) {
	if s == nil || s.Jobs == nil {
		return
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stuck job sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *StuckJobSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("worker.sweeper")
	ctx, span := tracer.Start(ctx, "StuckJobSweeper.sweepOnce")
	defer span.End()

	cutoff := time.Now().Add(-s.MaxAge)
	const pageSize = 100
	span.SetAttributes(
		attribute.Int("jobs.page_size", pageSize),
		attribute.Float64("jobs.max_age_seconds", s.MaxAge.Seconds()),
	)

	totalChecked, totalRequeued, totalPoisoned := 0, 0, 0

	// Reclaiming a page moves every row in it out of the processing state,
	// so the next page is always requested at offset 0 rather than
	// incrementing: the candidate set shrinks under us as we work through it.
	for {
		pageCtx, pageSpan := tracer.Start(ctx, "StuckJobSweeper.sweepPage")

		jobs, err := s.Jobs.ListStuck(pageCtx, domain.StateProcessing, cutoff, 0, pageSize)
		if err != nil {
			pageSpan.RecordError(err)
			pageSpan.End()
			slog.Error("stuck job sweep failed to list jobs", slog.Any("error", err))
			return
		}
		totalChecked += len(jobs)
		if len(jobs) == 0 {
			pageSpan.End()
			break
		}

		for _, j := range jobs {
			jobCtx, jobSpan := tracer.Start(pageCtx, "StuckJobSweeper.reclaim")
			jobSpan.SetAttributes(attribute.String("job.id", j.ID), attribute.Int("job.attempts", j.Attempts))

			cfg := domain.RetryConfigForKind(j.Kind)
			if j.Attempts >= cfg.MaxRetries {
				s.poison(jobCtx, j)
				totalPoisoned++
			} else {
				s.requeue(jobCtx, j)
				totalRequeued++
			}
			jobSpan.End()
		}

		pageSpan.End()
		if len(jobs) < pageSize {
			break
		}
	}

	span.SetAttributes(
		attribute.Int("jobs.total_checked", totalChecked),
		attribute.Int("jobs.total_requeued", totalRequeued),
		attribute.Int("jobs.total_poisoned", totalPoisoned),
	)
}

// requeue resets a stuck job to pending and republishes it to its kind's
// topic so the ordinary consumer loop picks it back up.
func (s *StuckJobSweeper) requeue(ctx context.Context, j domain.Job) {
	pending := domain.StatePending
	zero := 0
	if err := s.Jobs.UpdateStatus(ctx, j.ID, domain.StatusUpdate{State: &pending, Progress: &zero}); err != nil {
		slog.Error("failed to reset stuck job to pending", slog.String("job_id", j.ID), slog.Any("error", err))
		return
	}
	if s.Queue == nil {
		return
	}
	payload := domain.EnqueuePayload{JobID: j.ID, Owner: j.Owner, Kind: j.Kind, Attempts: j.Attempts}
	if err := s.Queue.Enqueue(ctx, j.Kind, payload); err != nil {
		slog.Error("failed to requeue stuck job", slog.String("job_id", j.ID), slog.Any("error", err))
		return
	}
	slog.Info("stuck job requeued", slog.String("job_id", j.ID), slog.Int("attempts", j.Attempts))
}

// poison marks a stuck job whose attempt budget is already exhausted as
// terminally failed instead of requeuing it again, and refunds its reserved
// credits the same way a RetryManager-driven terminal failure would.
func (s *StuckJobSweeper) poison(ctx context.Context, j domain.Job) {
	failed := domain.StateFailed
	reason := fmt.Sprintf("stuck in processing past %v with attempt budget exhausted", s.MaxAge)
	if err := s.Jobs.UpdateStatus(ctx, j.ID, domain.StatusUpdate{State: &failed, Err: &domain.JobError{Code: "POISON", Message: reason}}); err != nil {
		slog.Error("failed to poison stuck job", slog.String("job_id", j.ID), slog.Any("error", err))
		return
	}
	slog.Warn("stuck job poisoned past attempt budget", slog.String("job_id", j.ID), slog.Int("attempts", j.Attempts))

	if s.Ledger == nil || j.Cost <= 0 {
		return
	}
	if err := s.Ledger.Refund(ctx, j.Owner, j.Cost, j.ID, "stuck_job_poisoned"); err != nil {
		slog.Error("failed to refund poisoned stuck job", slog.String("job_id", j.ID), slog.Any("error", err))
	}
}
