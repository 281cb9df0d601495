package domain

import (
	"errors"
	"testing"
)

func TestValidateTransition(t *testing.T) {
	ok := []struct{ from, to State }{
		{StatePending, StateProcessing},
		{StatePending, StateCancelled},
		{StateProcessing, StateCompleted},
		{StateProcessing, StateFailed},
		{StateProcessing, StateCancelled},
	}
	for _, c := range ok {
		if err := ValidateTransition(c.from, c.to); err != nil {
			t.Errorf("%s->%s: expected legal, got %v", c.from, c.to, err)
		}
	}

	illegal := []struct{ from, to State }{
		{StateCompleted, StateProcessing},
		{StateFailed, StatePending},
		{StateCancelled, StateProcessing},
		{StatePending, StateCompleted},
		{StatePending, StatePending},
	}
	for _, c := range illegal {
		if err := ValidateTransition(c.from, c.to); !errors.Is(err, ErrIllegalTransition) {
			t.Errorf("%s->%s: expected ErrIllegalTransition, got %v", c.from, c.to, err)
		}
	}
}

func TestValidateProgressMonotonic(t *testing.T) {
	if err := ValidateProgress(50, 25, StateProcessing); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected illegal transition for decreasing progress, got %v", err)
	}
	if err := ValidateProgress(25, 50, StateProcessing); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateProgress(50, 90, StateCompleted); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected completion to require progress=100, got %v", err)
	}
	if err := ValidateProgress(50, 100, StateCompleted); err != nil {
		t.Fatalf("unexpected error for valid completion: %v", err)
	}
}
