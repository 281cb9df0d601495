package redpanda

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/forgelabs/genflow/internal/config"
	"github.com/forgelabs/genflow/internal/domain"
)

// RetryManager owns the bounded-retry / DLQ-routing decision for a failed job
// (§4.5): inline exponential/fixed backoff up to the kind's attempt budget
// requeues the job as pending, an upstream rate-limit/timeout routes through
// the DLQ topic as a cooldown holding state (CanBeReprocessed, requeued once
// the cooldown elapses), and an exhausted or fatal failure marks the job
// terminally failed with an opaque DLQ record surfaced only via health/metrics.
type RetryManager struct {
	Producer    *Producer
	DLQProducer *Producer
	Jobs        domain.JobRepository
	Ledger      domain.CreditLedger
	Overrides   config.Config
}

// NewRetryManager constructs a RetryManager. overrides supplies optional
// config-driven retry overrides (mainly for deterministic tests); a zero
// value disables overrides and every kind uses domain.RetryConfigForKind.
// ledger may be nil, in which case a terminal failure is not refunded (tests
// that don't care about credits).
func NewRetryManager(producer, dlqProducer *Producer, jobs domain.JobRepository, ledger domain.CreditLedger, overrides config.Config) *RetryManager {
	return &RetryManager{Producer: producer, DLQProducer: dlqProducer, Jobs: jobs, Ledger: ledger, Overrides: overrides}
}

func (rm *RetryManager) configFor(kind domain.Kind) domain.RetryConfig {
	cfg := domain.RetryConfigForKind(kind)
	if rm.Overrides.RetryMaxRetries > 0 {
		cfg.MaxRetries = rm.Overrides.RetryMaxRetries
	}
	if rm.Overrides.RetryInitialDelay > 0 {
		cfg.InitialDelay = rm.Overrides.RetryInitialDelay
	}
	if rm.Overrides.RetryMaxDelay > 0 {
		cfg.MaxDelay = rm.Overrides.RetryMaxDelay
	}
	if rm.Overrides.RetryMultiplier > 0 {
		cfg.Multiplier = rm.Overrides.RetryMultiplier
	}
	cfg.Jitter = rm.Overrides.RetryJitter
	return cfg
}

// RetryJob attempts to retry a failed job, or routes it to the DLQ when the
// failure is not retryable, the kind's attempt budget is exhausted, or the
// failure is an upstream rate-limit/timeout (cooldown routing).
func (rm *RetryManager) RetryJob(ctx domain.Context, kind domain.Kind, jobID string, retryInfo *domain.RetryInfo, payload domain.EnqueuePayload) error {
	cfg := rm.configFor(kind)

	code := classifyFailureCode(retryInfo.LastError)
	if code == "UPSTREAM_RATE_LIMIT" || code == "UPSTREAM_TIMEOUT" {
		slog.Info("routing upstream failure to DLQ cooldown", slog.String("job_id", jobID), slog.String("error_code", code))
		return rm.routeToCooldown(ctx, kind, jobID, payload, retryInfo, retryInfo.LastError)
	}

	if !retryInfo.ShouldRetry(fmt.Errorf("%s", retryInfo.LastError), cfg) {
		slog.Info("job should not be retried, moving to DLQ", slog.String("job_id", jobID), slog.String("last_error", retryInfo.LastError))
		return rm.moveToDLQTerminal(ctx, kind, jobID, retryInfo, "job should not be retried")
	}

	if retryInfo.AttemptCount >= cfg.MaxRetries {
		slog.Info("max retries reached, moving to DLQ", slog.String("job_id", jobID), slog.Int("attempts", retryInfo.AttemptCount))
		return rm.moveToDLQTerminal(ctx, kind, jobID, retryInfo, "max retries reached")
	}

	delay := retryInfo.CalculateNextRetryDelay(cfg)
	retryInfo.NextRetryAt = time.Now().Add(delay)
	retryInfo.MarkAsRetrying()
	retryInfo.UpdateRetryAttempt(nil)
	payload.Attempts = retryInfo.AttemptCount

	pending := domain.StatePending
	zero := 0
	attempts := retryInfo.AttemptCount
	if err := rm.Jobs.UpdateStatus(ctx, jobID, domain.StatusUpdate{State: &pending, Progress: &zero, Attempts: &attempts}); err != nil {
		return fmt.Errorf("op=retry.update_status: %w", err)
	}

	go rm.scheduleRetry(ctx, kind, jobID, payload, delay)

	slog.Info("job scheduled for retry", slog.String("job_id", jobID), slog.Int("attempt", retryInfo.AttemptCount), slog.Duration("delay", delay))
	return nil
}

func (rm *RetryManager) scheduleRetry(ctx domain.Context, kind domain.Kind, jobID string, payload domain.EnqueuePayload, delay time.Duration) {
	time.Sleep(delay)

	job, err := rm.Jobs.Get(ctx, jobID)
	if err != nil {
		slog.Error("failed to get job for retry", slog.String("job_id", jobID), slog.Any("error", err))
		return
	}
	if job.State != domain.StatePending {
		slog.Info("job state changed, skipping retry", slog.String("job_id", jobID), slog.String("state", string(job.State)))
		return
	}

	if err := rm.Producer.Enqueue(ctx, kind, payload); err != nil {
		slog.Error("failed to enqueue job for retry", slog.String("job_id", jobID), slog.Any("error", err))
		failed := domain.StateFailed
		_ = rm.Jobs.UpdateStatus(ctx, jobID, domain.StatusUpdate{State: &failed, Err: &domain.JobError{Code: "INTERNAL", Message: "failed to enqueue for retry"}})
		return
	}
	slog.Info("job enqueued for retry", slog.String("job_id", jobID))
}

// routeToCooldown keeps the job pending (not terminally failed) and forwards
// it through the DLQ topic as a reprocessable cooldown holder: the DLQ
// consumer waits out the cooldown window, then requeues it directly.
func (rm *RetryManager) routeToCooldown(ctx domain.Context, kind domain.Kind, jobID string, payload domain.EnqueuePayload, retryInfo *domain.RetryInfo, reason string) error {
	pending := domain.StatePending
	zero := 0
	if err := rm.Jobs.UpdateStatus(ctx, jobID, domain.StatusUpdate{State: &pending, Progress: &zero}); err != nil {
		return fmt.Errorf("op=retry.cooldown_update_status: %w", err)
	}

	dlqJob := domain.DLQJob{
		JobID:            jobID,
		Kind:             kind,
		OriginalPayload:  payload,
		RetryInfo:        *retryInfo,
		FailureReason:    reason,
		MovedToDLQAt:     time.Now(),
		CanBeReprocessed: true,
	}
	if err := rm.DLQProducer.EnqueueDLQ(ctx, dlqJob); err != nil {
		return fmt.Errorf("op=retry.enqueue_cooldown: %w", err)
	}
	slog.Info("job routed to DLQ cooldown", slog.String("job_id", jobID), slog.String("reason", reason))
	return nil
}

// moveToDLQTerminal marks the job terminally failed, refunds its reserved
// credits (§4.2, §4.6 step 6), and writes an opaque DLQ record surfaced only
// through the health/metrics API; it is never automatically reprocessed.
func (rm *RetryManager) moveToDLQTerminal(ctx domain.Context, kind domain.Kind, jobID string, retryInfo *domain.RetryInfo, reason string) error {
	retryInfo.MarkAsDLQ()
	dlqJob := domain.DLQJob{
		JobID:            jobID,
		Kind:             kind,
		RetryInfo:        *retryInfo,
		FailureReason:    reason,
		MovedToDLQAt:     time.Now(),
		CanBeReprocessed: false,
	}
	if err := rm.DLQProducer.EnqueueDLQ(ctx, dlqJob); err != nil {
		return fmt.Errorf("op=retry.enqueue_dlq: %w", err)
	}

	rm.refund(ctx, jobID, reason)

	failed := domain.StateFailed
	if err := rm.Jobs.UpdateStatus(ctx, jobID, domain.StatusUpdate{State: &failed, Err: &domain.JobError{Code: "INTERNAL", Message: reason}}); err != nil {
		slog.Error("failed to mark job failed after DLQ move", slog.String("job_id", jobID), slog.Any("error", err))
	}

	slog.Info("job moved to terminal DLQ", slog.String("job_id", jobID), slog.String("reason", reason), slog.Int("attempts", retryInfo.AttemptCount))
	return nil
}

// refund looks up the job's owner and reserved cost and issues a credit
// refund now that its failure is terminal. Refund is idempotent by
// (user, jobRef, reasonCode) under a per-user row lock, so even two
// concurrent deliveries of the same terminal failure — both reaching this
// call from separate consumer goroutines under at-least-once delivery —
// cannot double-credit the user.
func (rm *RetryManager) refund(ctx domain.Context, jobID, reason string) {
	if rm.Ledger == nil {
		return
	}
	job, err := rm.Jobs.Get(ctx, jobID)
	if err != nil {
		slog.Error("failed to load job for terminal-failure refund", slog.String("job_id", jobID), slog.Any("error", err))
		return
	}
	if job.Cost <= 0 {
		return
	}
	if err := rm.Ledger.Refund(ctx, job.Owner, job.Cost, jobID, "generation_failed"); err != nil {
		slog.Error("terminal-failure refund failed", slog.String("job_id", jobID), slog.String("reason", reason), slog.Any("error", err))
	}
}

// ProcessDLQJob handles a record drained from a DLQ topic. Terminal
// (non-reprocessable) entries are opaque: they are only logged here for the
// health surface to later pick up. Cooldown entries wait out their window,
// then are requeued directly to the primary topic.
func (rm *RetryManager) ProcessDLQJob(ctx domain.Context, dlqJob domain.DLQJob, cooldown time.Duration) error {
	if !dlqJob.CanBeReprocessed {
		slog.Info("DLQ terminal entry recorded", slog.String("job_id", dlqJob.JobID), slog.String("reason", dlqJob.FailureReason))
		return nil
	}

	combined := strings.ToLower(dlqJob.FailureReason + " " + dlqJob.RetryInfo.LastError)
	isUpstream := strings.Contains(combined, "rate limit") || strings.Contains(combined, "timeout") || strings.Contains(combined, "deadline exceeded")
	if isUpstream {
		cooldownUntil := dlqJob.MovedToDLQAt.Add(cooldown)
		if delay := time.Until(cooldownUntil); delay > 0 {
			slog.Info("DLQ cooling in effect", slog.String("job_id", dlqJob.JobID), slog.Duration("remaining", delay))
			time.Sleep(delay)
		}
	}

	if err := rm.Producer.Enqueue(ctx, dlqJob.Kind, dlqJob.OriginalPayload); err != nil {
		return fmt.Errorf("op=retry.requeue_from_dlq: %w", err)
	}
	slog.Info("DLQ cooldown job requeued", slog.String("job_id", dlqJob.JobID), slog.String("original_failure_reason", dlqJob.FailureReason))
	return nil
}
