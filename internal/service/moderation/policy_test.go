package moderation

import (
	"testing"
	"time"

	"github.com/forgelabs/genflow/internal/domain"
)

func TestDecide_CategoryThresholdBlocks(t *testing.T) {
	cases := []domain.ModerationScores{
		{Adult: 0.7},
		{Violence: 0.6},
		{Hate: 0.8},
		{Harassment: 0.7},
		{SelfHarm: 0.9},
	}
	for _, s := range cases {
		if got := Decide(s, 0.8); got != domain.ModerationBlock {
			t.Errorf("scores=%+v: expected block, got %s", s, got)
		}
	}
}

func TestDecide_OverallConfidenceTiers(t *testing.T) {
	if got := Decide(domain.ModerationScores{Overall: 0.85}, 0.8); got != domain.ModerationBlock {
		t.Errorf("expected block at high confidence, got %s", got)
	}
	if got := Decide(domain.ModerationScores{Overall: 0.65}, 0.8); got != domain.ModerationReview {
		t.Errorf("expected review at medium confidence, got %s", got)
	}
	if got := Decide(domain.ModerationScores{Overall: 0.5}, 0.8); got != domain.ModerationFlag {
		t.Errorf("expected flag at low confidence with trusted owner, got %s", got)
	}
	if got := Decide(domain.ModerationScores{Overall: 0.5}, 0.1); got != domain.ModerationReview {
		t.Errorf("expected review at low confidence with untrusted owner, got %s", got)
	}
	if got := Decide(domain.ModerationScores{Overall: 0.1}, 0.8); got != domain.ModerationApprove {
		t.Errorf("expected approve below low threshold, got %s", got)
	}
}

func TestOwnerTrust_AccountAgeTiers(t *testing.T) {
	cases := []struct {
		age  time.Duration
		want float64
	}{
		{12 * time.Hour, 0.2},
		{3 * 24 * time.Hour, 0.4},
		{20 * 24 * time.Hour, 0.6},
		{60 * 24 * time.Hour, 0.8},
	}
	for _, c := range cases {
		if got := OwnerTrust(c.age); got != c.want {
			t.Errorf("age=%v: got %v want %v", c.age, got, c.want)
		}
	}
}
