// Package worker implements the per-job processing pipeline (C5): it drives a
// dequeued job through provider dispatch, progress reporting, and the
// best-effort moderation/notification side effects on completion. It
// implements redpanda.JobHandler so the queue transport stays generation-
// agnostic.
package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/forgelabs/genflow/internal/domain"
	"github.com/forgelabs/genflow/internal/observability"
)

// Generator is the subset of the GPU orchestrator (C6) a worker depends on.
type Generator interface {
	Generate(ctx domain.Context, kind domain.Kind, params domain.Params) (domain.GenerationResult, error)
	Caption(ctx domain.Context, params domain.Params) (domain.CaptionResult, error)
}

// Moderator applies the post-generation content policy (C7) best-effort.
type Moderator interface {
	Evaluate(ctx domain.Context, jobID, owner string, kind domain.Kind, mediaURL string, accountAge time.Duration, similarReportCount int) domain.ModerationAction
}

// Notifier dispatches best-effort terminal-state notifications (C8).
type Notifier interface {
	JobTerminal(ctx domain.Context, owner, jobID string, kind domain.Kind, state domain.State)
	ModerationEnforced(ctx domain.Context, owner, jobID string, action domain.ModerationAction)
}

// trainingLadder is the synthetic progress sequence for training jobs (§4.6
// step 7); there is no real training loop in scope, only the observable
// lifecycle.
var trainingLadder = []int{10, 20, 35, 50, 65, 80, 95, 100}

// Worker implements redpanda.JobHandler for all three job kinds. A Worker is
// stateless across jobs: nothing but local variables carries state between
// HandleJob calls, so a single Worker can be shared across the consumer's
// goroutine pool.
type Worker struct {
	Jobs       domain.JobRepository
	Gen        Generator
	Moderation Moderator
	Notify     Notifier
	Sink       domain.ErrorSink

	// TrainingStepDelay paces the simulated training ladder; zero runs it
	// without delay, which is what tests want.
	TrainingStepDelay time.Duration
}

// New builds a Worker. moderation, notify and sink may be nil; each
// degrades to a no-op for that concern.
func New(jobs domain.JobRepository, gen Generator, moderation Moderator, notify Notifier, sink domain.ErrorSink) *Worker {
	return &Worker{Jobs: jobs, Gen: gen, Moderation: moderation, Notify: notify, Sink: sink}
}

// HandleJob runs the full per-job contract (§4.6 steps 1-7). It never
// transitions the job to a terminal or retry state on provider failure:
// that decision, including whether to refund, belongs to the queue's
// RetryManager, which is the only component that knows whether a given
// failure is retryable, cooling down, or truly exhausted. HandleJob returning
// a non-nil error is the sole signal RetryManager acts on.
func (w *Worker) HandleJob(ctx domain.Context, payload domain.EnqueuePayload) error {
	job, err := w.Jobs.Get(ctx, payload.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			slog.Warn("job not found, dropping delivery", slog.String("job_id", payload.JobID))
			return nil
		}
		return fmt.Errorf("op=worker.handle_job.get: %w", err)
	}

	// Redelivery of an already-terminal job is a no-op: completes, failures
	// and cancellations are sticky (§3 invariant 1), so acknowledging here
	// rather than reprocessing makes at-least-once delivery safe.
	if job.State.Terminal() {
		slog.Info("job already terminal, acknowledging without reprocessing",
			slog.String("job_id", job.ID), slog.String("state", string(job.State)))
		return nil
	}

	processing := domain.StateProcessing
	zero := 0
	if err := w.Jobs.UpdateStatus(ctx, job.ID, domain.StatusUpdate{State: &processing, Progress: &zero}); err != nil {
		if errors.Is(err, domain.ErrIllegalTransition) {
			slog.Info("processing transition illegal, job already advanced elsewhere",
				slog.String("job_id", job.ID))
			return nil
		}
		return fmt.Errorf("op=worker.handle_job.start: %w", err)
	}
	observability.StartProcessingJob(string(job.Kind))
	job.State = processing

	if job.Kind == domain.KindTraining {
		return w.runTraining(ctx, job)
	}
	return w.runGeneration(ctx, job)
}

// runGeneration drives an image or video job: optional caption enrichment,
// the orchestrator call, and completion side effects.
func (w *Worker) runGeneration(ctx domain.Context, job domain.Job) error {
	if w.cancelled(ctx, job.ID) {
		return nil
	}

	params := job.Params
	if job.Kind == domain.KindImage && params.CaptionInit && params.InitImageURL != "" {
		w.enrichCaption(ctx, &job, &params)
	}

	twentyFive := 25
	if err := w.Jobs.UpdateStatus(ctx, job.ID, domain.StatusUpdate{Progress: &twentyFive}); err != nil && !errors.Is(err, domain.ErrIllegalTransition) {
		slog.Warn("failed to report progress", slog.String("job_id", job.ID), slog.Int("progress", twentyFive), slog.Any("error", err))
	}

	if w.cancelled(ctx, job.ID) {
		return nil
	}

	// Progress=50 is reported immediately before dispatch: Generate is a
	// single blocking call in this implementation, so "once the provider
	// call has been dispatched" means right here, not after it returns.
	fifty := 50
	if err := w.Jobs.UpdateStatus(ctx, job.ID, domain.StatusUpdate{Progress: &fifty}); err != nil && !errors.Is(err, domain.ErrIllegalTransition) {
		slog.Warn("failed to report progress", slog.String("job_id", job.ID), slog.Int("progress", fifty), slog.Any("error", err))
	}

	result, err := w.Gen.Generate(ctx, job.Kind, params)
	if err != nil {
		observability.FailJob(string(job.Kind))
		w.report(ctx, "worker.generate", job.ID, job.Owner, err)
		return fmt.Errorf("op=worker.generate: %w", err)
	}

	return w.complete(ctx, job, result)
}

// enrichCaption captions the init image and folds it into the local params
// copy; Params itself is never mutated (§3), so the caption is also
// persisted separately on the job's EnrichedPrompt field for visibility.
// Failure is swallowed: captioning is best-effort enrichment, not a
// precondition for generation.
func (w *Worker) enrichCaption(ctx domain.Context, job *domain.Job, params *domain.Params) {
	cap, err := w.Gen.Caption(ctx, *params)
	if err != nil {
		slog.Warn("caption enrichment failed, proceeding without it",
			slog.String("job_id", job.ID), slog.Any("error", err))
		return
	}
	enriched := strings.TrimSpace(params.Prompt + ". " + cap.Caption)
	params.Prompt = enriched
	if err := w.Jobs.UpdateStatus(ctx, job.ID, domain.StatusUpdate{EnrichedPrompt: &enriched}); err != nil {
		slog.Warn("failed to persist enriched prompt", slog.String("job_id", job.ID), slog.Any("error", err))
	}
}

// complete transitions a successful job to completed and runs the
// best-effort moderation and notification side effects. Neither can
// un-complete the job: their failures are logged and nothing else.
func (w *Worker) complete(ctx domain.Context, job domain.Job, result domain.GenerationResult) error {
	hundred := 100
	completed := domain.StateCompleted
	res := &domain.Result{
		ImageURL:  result.ImageURL,
		VideoURL:  result.VideoURL,
		Provider:  result.Provider,
		LatencyMs: result.LatencyMs,
		Meta:      result.Meta,
	}
	if err := w.Jobs.UpdateStatus(ctx, job.ID, domain.StatusUpdate{
		State:    &completed,
		Progress: &hundred,
		Result:   res,
		Provider: &result.Provider,
	}); err != nil {
		observability.FailJob(string(job.Kind))
		return fmt.Errorf("op=worker.complete: %w", err)
	}
	observability.CompleteJob(string(job.Kind))

	mediaURL := res.ImageURL
	if job.Kind == domain.KindVideo {
		mediaURL = res.VideoURL
	}

	if w.Moderation != nil && mediaURL != "" {
		// Account age and prior-report history aren't tracked by this
		// service; a zero account age resolves the owner-trust tier
		// conservatively (new account) rather than guessing.
		action := w.Moderation.Evaluate(ctx, job.ID, job.Owner, job.Kind, mediaURL, 0, 0)
		if err := w.Jobs.UpdateStatus(ctx, job.ID, domain.StatusUpdate{Moderation: &action}); err != nil {
			slog.Warn("failed to persist moderation action", slog.String("job_id", job.ID), slog.Any("error", err))
		}
		if w.Notify != nil && action != domain.ModerationApprove {
			w.Notify.ModerationEnforced(ctx, job.Owner, job.ID, action)
		}
	}
	if w.Notify != nil {
		w.Notify.JobTerminal(ctx, job.Owner, job.ID, job.Kind, completed)
	}
	return nil
}

// runTraining simulates a training job's progress ladder (§4.6 step 7).
// Training has no real GPU loop in scope; if a Generator is wired for it the
// ladder still drives and completes or fails around its single call, keeping
// the refund and retry paths identical to image/video.
func (w *Worker) runTraining(ctx domain.Context, job domain.Job) error {
	for _, pct := range trainingLadder[:len(trainingLadder)-1] {
		if w.cancelled(ctx, job.ID) {
			return nil
		}
		step := pct
		if err := w.Jobs.UpdateStatus(ctx, job.ID, domain.StatusUpdate{Progress: &step}); err != nil && !errors.Is(err, domain.ErrIllegalTransition) {
			slog.Warn("failed to report training progress", slog.String("job_id", job.ID), slog.Int("progress", step), slog.Any("error", err))
		}
		if w.TrainingStepDelay > 0 {
			time.Sleep(w.TrainingStepDelay)
		}
	}

	if w.cancelled(ctx, job.ID) {
		return nil
	}

	result, err := w.Gen.Generate(ctx, job.Kind, job.Params)
	if err != nil {
		observability.FailJob(string(job.Kind))
		w.report(ctx, "worker.train", job.ID, job.Owner, err)
		return fmt.Errorf("op=worker.train: %w", err)
	}
	return w.complete(ctx, job, result)
}

// cancelled re-fetches the job's current state and reports whether it has
// moved to cancelled since dispatch. Workers check this at the checkpoints
// named in §4.6: after enqueue, before the provider call, and between
// progress updates, so a cancellation request doesn't race a long-running
// provider call past its window.
func (w *Worker) cancelled(ctx domain.Context, jobID string) bool {
	j, err := w.Jobs.Get(ctx, jobID)
	if err != nil {
		return false
	}
	return j.State == domain.StateCancelled
}

func (w *Worker) report(ctx domain.Context, op, jobID, owner string, err error) {
	if w.Sink == nil {
		return
	}
	w.Sink.Report(ctx, domain.FailureRecord{
		Component: "worker",
		Op:        op,
		JobID:     jobID,
		User:      owner,
		Err:       err,
		At:        time.Now(),
	})
}
