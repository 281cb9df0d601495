package gpu

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/forgelabs/genflow/internal/domain"
)

func TestPollUntilTerminal_ReturnsOnFirstTerminalResult(t *testing.T) {
	calls := 0
	statusFn := func(_ domain.Context) (domain.GenerationResult, bool, error) {
		calls++
		return domain.GenerationResult{Status: domain.GenCompleted, ImageURL: "done"}, true, nil
	}

	result, err := PollUntilTerminal(context.Background(), statusFn, time.Millisecond)
	if err != nil {
		t.Fatalf("PollUntilTerminal() error = %v, want nil", err)
	}
	if result.ImageURL != "done" {
		t.Fatalf("PollUntilTerminal() result = %+v, want ImageURL=done", result)
	}
	if calls != 1 {
		t.Fatalf("statusFn called %d times, want 1", calls)
	}
}

func TestPollUntilTerminal_PollsUntilTerminal(t *testing.T) {
	calls := 0
	statusFn := func(_ domain.Context) (domain.GenerationResult, bool, error) {
		calls++
		if calls < 3 {
			return domain.GenerationResult{}, false, nil
		}
		return domain.GenerationResult{Status: domain.GenCompleted}, true, nil
	}

	_, err := PollUntilTerminal(context.Background(), statusFn, time.Millisecond)
	if err != nil {
		t.Fatalf("PollUntilTerminal() error = %v, want nil", err)
	}
	if calls != 3 {
		t.Fatalf("statusFn called %d times, want 3", calls)
	}
}

func TestPollUntilTerminal_PropagatesError(t *testing.T) {
	wantErr := errors.New("status endpoint down")
	statusFn := func(_ domain.Context) (domain.GenerationResult, bool, error) {
		return domain.GenerationResult{}, false, wantErr
	}

	_, err := PollUntilTerminal(context.Background(), statusFn, time.Millisecond)
	if !errors.Is(err, wantErr) {
		t.Fatalf("PollUntilTerminal() error = %v, want %v", err, wantErr)
	}
}

func TestPollUntilTerminal_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	statusFn := func(_ domain.Context) (domain.GenerationResult, bool, error) {
		return domain.GenerationResult{}, false, nil
	}

	_, err := PollUntilTerminal(ctx, statusFn, 5*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("PollUntilTerminal() error = %v, want context.DeadlineExceeded", err)
	}
}
