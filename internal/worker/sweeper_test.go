package worker

import (
	"context"
	"testing"
	"time"

	"github.com/forgelabs/genflow/internal/domain"
)

type fakeQueue struct {
	enqueued []domain.EnqueuePayload
	err      error
}

func (f *fakeQueue) Enqueue(ctx domain.Context, kind domain.Kind, job domain.EnqueuePayload) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, job)
	return nil
}

type fakeLedger struct {
	refunds []string
}

func (f *fakeLedger) Reserve(ctx domain.Context, user string, amount int, reasonCode, jobRef string) (string, error) {
	return "tx", nil
}

func (f *fakeLedger) Refund(ctx domain.Context, user string, amount int, jobRef, reasonCode string) error {
	f.refunds = append(f.refunds, jobRef)
	return nil
}

func (f *fakeLedger) Balance(ctx domain.Context, user string) (int, error) {
	return 0, nil
}

func stuckJob(id string, kind domain.Kind, attempts int) domain.Job {
	return domain.Job{
		ID:        id,
		Owner:     "user-1",
		Kind:      kind,
		Cost:      10,
		State:     domain.StateProcessing,
		Attempts:  attempts,
		UpdatedAt: time.Now().Add(-1 * time.Hour),
	}
}

func TestSweeper_RequeuesStuckJobBelowAttemptBudget(t *testing.T) {
	jobs := newFakeJobs(stuckJob("stuck-1", domain.KindImage, 0))
	q := &fakeQueue{}
	ledger := &fakeLedger{}
	s := NewStuckJobSweeper(jobs, q, ledger, time.Minute, time.Minute)

	s.sweepOnce(context.Background())

	got, _ := jobs.Get(context.Background(), "stuck-1")
	if got.State != domain.StatePending {
		t.Fatalf("state = %q, want pending", got.State)
	}
	if len(q.enqueued) != 1 || q.enqueued[0].JobID != "stuck-1" {
		t.Fatalf("expected job requeued to topic, got %+v", q.enqueued)
	}
	if len(ledger.refunds) != 0 {
		t.Fatalf("expected no refund on a plain requeue, got %v", ledger.refunds)
	}
}

func TestSweeper_PoisonsStuckJobNearAttemptBudget(t *testing.T) {
	// image kind's MaxRetries is 3 (domain.RetryConfigForKind).
	jobs := newFakeJobs(stuckJob("stuck-2", domain.KindImage, 3))
	q := &fakeQueue{}
	ledger := &fakeLedger{}
	s := NewStuckJobSweeper(jobs, q, ledger, time.Minute, time.Minute)

	s.sweepOnce(context.Background())

	got, _ := jobs.Get(context.Background(), "stuck-2")
	if got.State != domain.StateFailed {
		t.Fatalf("state = %q, want failed (poisoned)", got.State)
	}
	if got.Err == nil || got.Err.Code != "POISON" {
		t.Fatalf("expected poison error code, got %+v", got.Err)
	}
	if len(q.enqueued) != 0 {
		t.Fatal("expected no requeue for a poisoned job")
	}
	if len(ledger.refunds) != 1 || ledger.refunds[0] != "stuck-2" {
		t.Fatalf("expected poisoned job refunded, got %v", ledger.refunds)
	}
}

func TestSweeper_IgnoresJobsWithinAgeWindow(t *testing.T) {
	fresh := stuckJob("fresh-1", domain.KindImage, 0)
	fresh.UpdatedAt = time.Now()
	jobs := newFakeJobs(fresh)
	q := &fakeQueue{}
	s := NewStuckJobSweeper(jobs, q, nil, time.Minute, time.Minute)

	s.sweepOnce(context.Background())

	got, _ := jobs.Get(context.Background(), "fresh-1")
	if got.State != domain.StateProcessing {
		t.Fatalf("state = %q, want untouched processing", got.State)
	}
	if len(q.enqueued) != 0 {
		t.Fatal("expected no requeue for a job still within its age window")
	}
}

func TestNewStuckJobSweeper_NilRepoReturnsNil(t *testing.T) {
	if s := NewStuckJobSweeper(nil, nil, nil, 0, 0); s != nil {
		t.Fatal("expected nil sweeper for a nil job repository")
	}
}
