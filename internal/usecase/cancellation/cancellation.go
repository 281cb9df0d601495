// Package cancellation implements user-initiated job cancellation, one of
// the paths that refund credits alongside admission's rollback, the retry
// manager's terminal failure and the stuck-job sweeper (§5 cancellation &
// timeouts). A cancel is synchronous from the caller's point of view — the
// job's state flips to cancelled and the refund lands before Cancel returns —
// but any provider call already dispatched keeps running in its worker and
// simply has its eventual result discarded (the worker's own cancellation
// checkpoints handle that side).
package cancellation

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/forgelabs/genflow/internal/domain"
	"github.com/forgelabs/genflow/internal/observability"
)

// Controller cancels a non-terminal job on behalf of its owner.
type Controller struct {
	Jobs   domain.JobRepository
	Ledger domain.CreditLedger
	Sink   domain.ErrorSink
}

// New builds a Controller from its collaborators.
func New(jobs domain.JobRepository, ledger domain.CreditLedger, sink domain.ErrorSink) *Controller {
	return &Controller{Jobs: jobs, Ledger: ledger, Sink: sink}
}

// Cancel transitions job to cancelled and refunds its reserved cost. Only the
// job's owner may cancel it; a job already in a terminal state returns
// ErrNotCancellable rather than silently no-opping, so a caller can
// distinguish "already done" from "cancel accepted".
func (c *Controller) Cancel(ctx domain.Context, owner, jobID string) error {
	job, err := c.Jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("op=cancellation.cancel.get: %w", err)
	}
	if job.Owner != owner {
		return fmt.Errorf("op=cancellation.cancel: %w", domain.ErrNotOwner)
	}
	if job.State.Terminal() {
		return fmt.Errorf("op=cancellation.cancel: %w", domain.ErrNotCancellable)
	}

	cancelled := domain.StateCancelled
	reason := &domain.JobError{Code: "CANCELLED", Message: "cancelled by owner"}
	if err := c.Jobs.UpdateStatus(ctx, jobID, domain.StatusUpdate{State: &cancelled, Err: reason}); err != nil {
		if errors.Is(err, domain.ErrIllegalTransition) {
			return fmt.Errorf("op=cancellation.cancel: %w", domain.ErrNotCancellable)
		}
		return fmt.Errorf("op=cancellation.cancel.update: %w", err)
	}

	if job.Cost > 0 {
		if err := c.Ledger.Refund(ctx, owner, job.Cost, jobID, "user_cancel"); err != nil {
			slog.Error("cancellation: refund failed after job cancelled", slog.String("job_id", jobID), slog.Any("error", err))
			c.report(ctx, "cancellation.refund", jobID, owner, err)
			return fmt.Errorf("op=cancellation.cancel.refund: %w", err)
		}
		observability.RecordCreditRefund()
	}
	return nil
}

func (c *Controller) report(ctx domain.Context, op, jobID, owner string, err error) {
	if c.Sink == nil {
		return
	}
	c.Sink.Report(ctx, domain.FailureRecord{Component: "cancellation", Op: op, JobID: jobID, User: owner, Err: err, At: time.Now()})
}
