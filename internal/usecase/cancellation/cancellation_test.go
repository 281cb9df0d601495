package cancellation

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

func (f *fakeJobs) Create(ctx domain.Context, j *domain.Job) error { f.jobs[j.ID] = *j; return nil }

func (f *fakeJobs) UpdateStatus(ctx domain.Context, id string, upd domain.StatusUpdate) error {
	j, ok := f.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if upd.State != nil {
		if err := domain.ValidateTransition(j.State, *upd.State); err != nil {
			return err
		}
		j.State = *upd.State
	}
	if upd.Err != nil {
		j.Err = upd.Err
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
	return nil, nil
}

type fakeLedger struct {
	refundCalls int
	refundErr   error
}

func (f *fakeLedger) Reserve(ctx domain.Context, user string, amount int, reasonCode, jobRef string) (string, error) {
	return "tx", nil
}

func (f *fakeLedger) Refund(ctx domain.Context, user string, amount int, jobRef, reasonCode string) error {
	f.refundCalls++
	return f.refundErr
}

func (f *fakeLedger) Balance(ctx domain.Context, user string) (int, error) { return 0, nil }

func TestCancel_HappyPathRefundsAndTransitions(t *testing.T) {
	jobs := newFakeJobs(domain.Job{ID: "j1", Owner: "user-1", Kind: domain.KindImage, Cost: 8, State: domain.StatePending})
	ledger := &fakeLedger{}
	c := New(jobs, ledger, nil)

	if err := c.Cancel(context.Background(), "user-1", "j1"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	got := jobs.jobs["j1"]
	if got.State != domain.StateCancelled {
		t.Fatalf("state = %q, want cancelled", got.State)
	}
	if got.Err == nil || got.Err.Code != "CANCELLED" {
		t.Fatalf("expected a CANCELLED job error, got %+v", got.Err)
	}
	if ledger.refundCalls != 1 {
		t.Fatalf("refund calls = %d, want 1", ledger.refundCalls)
	}
}

func TestCancel_NonOwnerRejected(t *testing.T) {
	jobs := newFakeJobs(domain.Job{ID: "j1", Owner: "user-1", Kind: domain.KindImage, Cost: 8, State: domain.StatePending})
	ledger := &fakeLedger{}
	c := New(jobs, ledger, nil)

	err := c.Cancel(context.Background(), "user-2", "j1")
	if !errors.Is(err, domain.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if ledger.refundCalls != 0 {
		t.Fatal("expected no refund for a rejected cancel")
	}
}

func TestCancel_TerminalJobRejected(t *testing.T) {
	jobs := newFakeJobs(domain.Job{ID: "j1", Owner: "user-1", Kind: domain.KindImage, Cost: 8, State: domain.StateCompleted})
	ledger := &fakeLedger{}
	c := New(jobs, ledger, nil)

	err := c.Cancel(context.Background(), "user-1", "j1")
	if !errors.Is(err, domain.ErrNotCancellable) {
		t.Fatalf("expected ErrNotCancellable, got %v", err)
	}
	if ledger.refundCalls != 0 {
		t.Fatal("expected no refund for a rejected cancel")
	}
}

func TestCancel_ZeroCostJobSkipsRefund(t *testing.T) {
	jobs := newFakeJobs(domain.Job{ID: "j1", Owner: "user-1", Kind: domain.KindImage, Cost: 0, State: domain.StateProcessing})
	ledger := &fakeLedger{}
	c := New(jobs, ledger, nil)

	if err := c.Cancel(context.Background(), "user-1", "j1"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if ledger.refundCalls != 0 {
		t.Fatal("expected no refund call for a zero-cost job")
	}
}
