// Package admission implements the admission controller (C9): the single
// synchronous path that turns a validated generation request into a
// persisted, enqueued job, atomically. Credits are reserved here and nowhere
// else; any other path reserving credits is a defect.
package admission

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/forgelabs/genflow/internal/domain"
	"github.com/forgelabs/genflow/internal/observability"
)

// actionForKind maps a job kind to its rate-limiter action name (§4.3).
var actionForKind = map[domain.Kind]string{
	domain.KindImage:    "image_generation",
	domain.KindVideo:    "video_generation",
	domain.KindTraining: "training",
}

// Request is the normalized, already-validated input to Admit.
type Request struct {
	Owner  string
	Kind   domain.Kind
	Params domain.Params
}

// Controller implements Admit against its collaborators. Limiter may be nil
// for tests that don't exercise quota rejection; Jobs, Queue and Ledger are
// required.
type Controller struct {
	Jobs    domain.JobRepository
	Queue   domain.Queue
	Limiter domain.RateLimiter
	Ledger  domain.CreditLedger
	Sink    domain.ErrorSink
}

// New builds a Controller from its collaborators.
func New(jobs domain.JobRepository, queue domain.Queue, limiter domain.RateLimiter, ledger domain.CreditLedger, sink domain.ErrorSink) *Controller {
	return &Controller{Jobs: jobs, Queue: queue, Limiter: limiter, Ledger: ledger, Sink: sink}
}

// rollbackStep is one compensating action pushed as Admit performs a side
// effect. On failure the stack unwinds in reverse before Admit returns, so a
// partial admission never leaves a dangling reservation or orphan record.
type rollbackStep func()

// Admit runs the pipeline: quota check, duplicate-name rejection (training
// only), pricing, credit reservation, job creation, enqueue. Any step that
// fails after a side effect has been committed unwinds every prior side
// effect first.
func (c *Controller) Admit(ctx domain.Context, req Request) (string, error) {
	action, ok := actionForKind[req.Kind]
	if !ok {
		return "", fmt.Errorf("op=admission.admit: %w: unknown kind %q", domain.ErrInvalidArgument, req.Kind)
	}

	if c.Limiter != nil {
		decision, err := c.Limiter.Check(ctx, req.Owner, action, time.Now())
		if err != nil {
			return "", fmt.Errorf("op=admission.admit.rate_limit: %w", err)
		}
		if !decision.Allowed {
			observability.RecordRateLimitViolation(action)
			return "", fmt.Errorf("%w: retry after %v", domain.ErrRateLimited, decision.RetryAfter)
		}
	}

	if req.Kind == domain.KindTraining && req.Params.Name != "" {
		if existing, err := c.Jobs.GetByOwnerAndPrompt(ctx, req.Owner, domain.KindTraining, req.Params.Name); err == nil && existing.ID != "" {
			return "", fmt.Errorf("op=admission.admit.duplicate_name: %w: a training job named %q already exists", domain.ErrConflict, req.Params.Name)
		} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("op=admission.admit.duplicate_name: %w", err)
		}
	}

	cost, err := domain.Price(req.Params)
	if err != nil {
		return "", fmt.Errorf("op=admission.admit.price: %w", err)
	}

	var stack []rollbackStep
	unwind := func() {
		for i := len(stack) - 1; i >= 0; i-- {
			stack[i]()
		}
	}

	jobID := uuid.New().String()

	if _, err := c.Ledger.Reserve(ctx, req.Owner, cost, "generation_reserve", jobID); err != nil {
		observability.RecordCreditReservation("rejected")
		return "", fmt.Errorf("op=admission.admit.reserve: %w", err)
	}
	observability.RecordCreditReservation("accepted")
	stack = append(stack, func() {
		if err := c.Ledger.Refund(ctx, req.Owner, cost, jobID, "admission_rollback"); err != nil {
			slog.Error("admission rollback: failed to refund reserved credits",
				slog.String("job_id", jobID), slog.Any("error", err))
			c.report(ctx, "admission.rollback_refund", jobID, req.Owner, err)
		}
	})

	job := domain.Job{
		ID:     jobID,
		Owner:  req.Owner,
		Kind:   req.Kind,
		Params: req.Params,
		Cost:   cost,
		State:  domain.StatePending,
	}
	if err := c.Jobs.Create(ctx, &job); err != nil {
		unwind()
		return "", fmt.Errorf("op=admission.admit.create: %w", err)
	}
	stack = append(stack, func() {
		failed := domain.StateFailed
		reason := &domain.JobError{Code: "QUEUE_ERROR", Message: "failed to enqueue after admission"}
		if err := c.Jobs.UpdateStatus(ctx, jobID, domain.StatusUpdate{State: &failed, Err: reason}); err != nil {
			slog.Error("admission rollback: failed to mark job failed", slog.String("job_id", jobID), slog.Any("error", err))
		}
	})

	payload := domain.EnqueuePayload{JobID: jobID, Owner: req.Owner, Kind: req.Kind, Attempts: 0}
	if err := c.Queue.Enqueue(ctx, req.Kind, payload); err != nil {
		unwind()
		c.report(ctx, "admission.enqueue", jobID, req.Owner, err)
		return "", fmt.Errorf("op=admission.admit.enqueue: %w", err)
	}
	observability.EnqueueJob(string(req.Kind))

	slog.Info("job admitted", slog.String("job_id", jobID), slog.String("owner", req.Owner),
		slog.String("kind", string(req.Kind)), slog.Int("cost", cost))
	return jobID, nil
}

func (c *Controller) report(ctx domain.Context, op, jobID, owner string, err error) {
	if c.Sink == nil {
		return
	}
	c.Sink.Report(ctx, domain.FailureRecord{Component: "admission", Op: op, JobID: jobID, User: owner, Err: err, At: time.Now()})
}
