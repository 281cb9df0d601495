package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/forgelabs/genflow/internal/domain"
)

type fakeJobs struct {
	jobs map[string]domain.Job
}

func newFakeJobs(jobs ...domain.Job) *fakeJobs {
	f := &fakeJobs{jobs: make(map[string]domain.Job)}
	for _, j := range jobs {
		f.jobs[j.ID] = j
	}
	return f
}

func (f *fakeJobs) Create(ctx domain.Context, j *domain.Job) error {
	f.jobs[j.ID] = *j
	return nil
}

func (f *fakeJobs) UpdateStatus(ctx domain.Context, id string, upd domain.StatusUpdate) error {
	j, ok := f.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if upd.State != nil {
		if j.State.Terminal() {
			return domain.ErrIllegalTransition
		}
		j.State = *upd.State
	}
	if upd.Progress != nil {
		j.Progress = *upd.Progress
	}
	if upd.Attempts != nil {
		j.Attempts = *upd.Attempts
	}
	if upd.Provider != nil {
		j.Provider = *upd.Provider
	}
	if upd.Result != nil {
		j.Result = upd.Result
	}
	if upd.Err != nil {
		j.Err = upd.Err
	}
	if upd.Moderation != nil {
		j.Moderation = *upd.Moderation
	}
	if upd.EnrichedPrompt != nil {
		j.EnrichedPrompt = *upd.EnrichedPrompt
	}
	f.jobs[id] = j
	return nil
}

func (f *fakeJobs) Get(ctx domain.Context, id string) (domain.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return j, nil
}

func (f *fakeJobs) ListByOwner(ctx domain.Context, owner string, filters domain.JobFilters, page domain.Page) ([]domain.Job, error) {
	return nil, nil
}

func (f *fakeJobs) GetByOwnerAndPrompt(ctx domain.Context, owner string, kind domain.Kind, name string) (domain.Job, error) {
	return domain.Job{}, domain.ErrNotFound
}

func (f *fakeJobs) ListStuck(ctx domain.Context, state domain.State, cutoff time.Time, offset, limit int) ([]domain.Job, error) {
	var out []domain.Job
	for _, j := range f.jobs {
		if j.State == state && j.UpdatedAt.Before(cutoff) {
			out = append(out, j)
		}
	}
	return out, nil
}

type fakeGenerator struct {
	result    domain.GenerationResult
	err       error
	caption   domain.CaptionResult
	captionErr error
	generateCalls int
}

func (f *fakeGenerator) Generate(ctx domain.Context, kind domain.Kind, params domain.Params) (domain.GenerationResult, error) {
	f.generateCalls++
	return f.result, f.err
}

func (f *fakeGenerator) Caption(ctx domain.Context, params domain.Params) (domain.CaptionResult, error) {
	return f.caption, f.captionErr
}

type fakeModerator struct {
	action domain.ModerationAction
	called bool
}

func (f *fakeModerator) Evaluate(ctx domain.Context, jobID, owner string, kind domain.Kind, mediaURL string, accountAge time.Duration, similarReportCount int) domain.ModerationAction {
	f.called = true
	return f.action
}

type fakeNotifier struct {
	terminalCalls    int
	moderationCalls  int
}

func (f *fakeNotifier) JobTerminal(ctx domain.Context, owner, jobID string, kind domain.Kind, state domain.State) {
	f.terminalCalls++
}

func (f *fakeNotifier) ModerationEnforced(ctx domain.Context, owner, jobID string, action domain.ModerationAction) {
	f.moderationCalls++
}

func baseJob(id string, kind domain.Kind) domain.Job {
	return domain.Job{
		ID:        id,
		Owner:     "user-1",
		Kind:      kind,
		Params:    domain.Params{Prompt: "a castle"},
		Cost:      10,
		State:     domain.StatePending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestHandleJob_CompletesImageJob(t *testing.T) {
	jobs := newFakeJobs(baseJob("job-1", domain.KindImage))
	gen := &fakeGenerator{result: domain.GenerationResult{Status: domain.GenCompleted, ImageURL: "https://out/img.png", Provider: "runpod"}}
	mod := &fakeModerator{action: domain.ModerationApprove}
	notif := &fakeNotifier{}
	w := New(jobs, gen, mod, notif, nil)

	if err := w.HandleJob(context.Background(), domain.EnqueuePayload{JobID: "job-1", Owner: "user-1", Kind: domain.KindImage}); err != nil {
		t.Fatalf("HandleJob() error = %v", err)
	}

	got, _ := jobs.Get(context.Background(), "job-1")
	if got.State != domain.StateCompleted {
		t.Fatalf("state = %q, want completed", got.State)
	}
	if got.Progress != 100 {
		t.Fatalf("progress = %d, want 100", got.Progress)
	}
	if got.Result == nil || got.Result.ImageURL != "https://out/img.png" {
		t.Fatalf("result not persisted: %+v", got.Result)
	}
	if !mod.called {
		t.Fatal("expected moderation to be evaluated on completion")
	}
	if notif.terminalCalls != 1 {
		t.Fatalf("terminal notification calls = %d, want 1", notif.terminalCalls)
	}
}

func TestHandleJob_ProviderFailureReturnsErrorWithoutTouchingState(t *testing.T) {
	jobs := newFakeJobs(baseJob("job-2", domain.KindImage))
	gen := &fakeGenerator{err: errors.New("all providers failed")}
	w := New(jobs, gen, nil, nil, nil)

	err := w.HandleJob(context.Background(), domain.EnqueuePayload{JobID: "job-2", Owner: "user-1", Kind: domain.KindImage})
	if err == nil {
		t.Fatal("expected error from failed generation")
	}

	got, _ := jobs.Get(context.Background(), "job-2")
	if got.State != domain.StateProcessing {
		t.Fatalf("state = %q, want processing (retry/DLQ decision belongs to the retry manager, not the worker)", got.State)
	}
}

func TestHandleJob_AlreadyTerminalIsAcknowledgedWithoutReprocessing(t *testing.T) {
	job := baseJob("job-3", domain.KindImage)
	job.State = domain.StateCompleted
	jobs := newFakeJobs(job)
	gen := &fakeGenerator{}
	w := New(jobs, gen, nil, nil, nil)

	if err := w.HandleJob(context.Background(), domain.EnqueuePayload{JobID: "job-3", Owner: "user-1", Kind: domain.KindImage}); err != nil {
		t.Fatalf("HandleJob() error = %v", err)
	}
	if gen.generateCalls != 0 {
		t.Fatalf("expected no provider call for an already-terminal job, got %d calls", gen.generateCalls)
	}
}

func TestHandleJob_MissingJobIsDroppedNotRetried(t *testing.T) {
	jobs := newFakeJobs()
	w := New(jobs, &fakeGenerator{}, nil, nil, nil)

	if err := w.HandleJob(context.Background(), domain.EnqueuePayload{JobID: "ghost", Owner: "user-1", Kind: domain.KindImage}); err != nil {
		t.Fatalf("HandleJob() error = %v, want nil for a missing job", err)
	}
}

func TestHandleJob_CaptionEnrichmentBestEffort(t *testing.T) {
	job := baseJob("job-4", domain.KindImage)
	job.Params.CaptionInit = true
	job.Params.InitImageURL = "https://in/seed.png"
	jobs := newFakeJobs(job)
	gen := &fakeGenerator{
		result:  domain.GenerationResult{Status: domain.GenCompleted, ImageURL: "https://out/img.png"},
		caption: domain.CaptionResult{Caption: "a stone tower at dusk"},
	}
	w := New(jobs, gen, nil, nil, nil)

	if err := w.HandleJob(context.Background(), domain.EnqueuePayload{JobID: "job-4", Owner: "user-1", Kind: domain.KindImage}); err != nil {
		t.Fatalf("HandleJob() error = %v", err)
	}

	got, _ := jobs.Get(context.Background(), "job-4")
	if got.EnrichedPrompt == "" {
		t.Fatal("expected enriched prompt to be persisted")
	}
	if got.Params.Prompt != "a castle" {
		t.Fatalf("original Params must never be mutated, got %q", got.Params.Prompt)
	}
}

func TestHandleJob_CaptionFailureStillCompletes(t *testing.T) {
	job := baseJob("job-5", domain.KindImage)
	job.Params.CaptionInit = true
	job.Params.InitImageURL = "https://in/seed.png"
	jobs := newFakeJobs(job)
	gen := &fakeGenerator{
		result:     domain.GenerationResult{Status: domain.GenCompleted, ImageURL: "https://out/img.png"},
		captionErr: errors.New("captioner unavailable"),
	}
	w := New(jobs, gen, nil, nil, nil)

	if err := w.HandleJob(context.Background(), domain.EnqueuePayload{JobID: "job-5", Owner: "user-1", Kind: domain.KindImage}); err != nil {
		t.Fatalf("HandleJob() error = %v", err)
	}
	got, _ := jobs.Get(context.Background(), "job-5")
	if got.State != domain.StateCompleted {
		t.Fatalf("state = %q, want completed despite caption failure", got.State)
	}
}

func TestHandleJob_CancelledDuringProcessingStopsEarly(t *testing.T) {
	job := baseJob("job-6", domain.KindImage)
	jobs := newFakeJobs(job)
	gen := &fakeGenerator{result: domain.GenerationResult{Status: domain.GenCompleted, ImageURL: "https://out/img.png"}}
	w := New(jobs, gen, nil, nil, nil)

	// Simulate a concurrent cancel by flipping state right after the
	// processing transition but before the worker checks its checkpoint.
	orig := jobs.jobs["job-6"]
	orig.State = domain.StateProcessing
	jobs.jobs["job-6"] = orig
	cancelled := domain.StateCancelled
	_ = jobs.UpdateStatus(context.Background(), "job-6", domain.StatusUpdate{State: &cancelled})

	if err := w.runGeneration(context.Background(), orig); err != nil {
		t.Fatalf("runGeneration() error = %v", err)
	}
	if gen.generateCalls != 0 {
		t.Fatalf("expected no provider call once job is cancelled, got %d", gen.generateCalls)
	}
}

func TestHandleJob_TrainingSimulatesLadder(t *testing.T) {
	jobs := newFakeJobs(baseJob("job-7", domain.KindTraining))
	gen := &fakeGenerator{result: domain.GenerationResult{Status: domain.GenCompleted, Meta: "trained"}}
	w := New(jobs, gen, nil, nil, nil)

	if err := w.HandleJob(context.Background(), domain.EnqueuePayload{JobID: "job-7", Owner: "user-1", Kind: domain.KindTraining}); err != nil {
		t.Fatalf("HandleJob() error = %v", err)
	}
	got, _ := jobs.Get(context.Background(), "job-7")
	if got.State != domain.StateCompleted || got.Progress != 100 {
		t.Fatalf("training job = %+v, want completed at 100", got)
	}
}

func TestHandleJob_TrainingFailurePropagatesWithoutStateChange(t *testing.T) {
	jobs := newFakeJobs(baseJob("job-8", domain.KindTraining))
	gen := &fakeGenerator{err: errors.New("dataset unreachable")}
	w := New(jobs, gen, nil, nil, nil)

	err := w.HandleJob(context.Background(), domain.EnqueuePayload{JobID: "job-8", Owner: "user-1", Kind: domain.KindTraining})
	if err == nil {
		t.Fatal("expected training failure to propagate as an error")
	}
	got, _ := jobs.Get(context.Background(), "job-8")
	if got.State != domain.StateProcessing {
		t.Fatalf("state = %q, want processing left for the retry manager to resolve", got.State)
	}
}
