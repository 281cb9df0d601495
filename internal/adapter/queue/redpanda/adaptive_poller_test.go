package redpanda

import (
	"testing"
	"time"
)

func TestAdaptivePoller_BaseIntervalWhenIdle(t *testing.T) {
	p := NewAdaptivePoller(200 * time.Millisecond)
	got := p.NextInterval()
	if got != 200*time.Millisecond {
		t.Fatalf("NextInterval() with no history = %v, want %v", got, 200*time.Millisecond)
	}
}

func TestAdaptivePoller_FailureWidensInterval(t *testing.T) {
	p := NewAdaptivePoller(100 * time.Millisecond)
	p.RecordFailure()
	first := p.NextInterval()
	if first <= 100*time.Millisecond {
		t.Fatalf("NextInterval() after one failure = %v, want > base", first)
	}

	p.RecordFailure()
	second := p.NextInterval()
	if second <= first {
		t.Fatalf("NextInterval() after two failures = %v, want > %v", second, first)
	}
}

func TestAdaptivePoller_FailureIntervalCapped(t *testing.T) {
	p := NewAdaptivePoller(100 * time.Millisecond)
	for i := 0; i < 100; i++ {
		p.RecordFailure()
	}
	got := p.NextInterval()
	if got != p.maxInterval {
		t.Fatalf("NextInterval() after many failures = %v, want capped at %v", got, p.maxInterval)
	}
}

func TestAdaptivePoller_SuccessNarrowsInterval(t *testing.T) {
	p := NewAdaptivePoller(200 * time.Millisecond)
	p.RecordSuccess()
	first := p.NextInterval()
	if first >= 200*time.Millisecond {
		t.Fatalf("NextInterval() after one success = %v, want < base", first)
	}

	p.RecordSuccess()
	second := p.NextInterval()
	if second > first {
		t.Fatalf("NextInterval() after two successes = %v, want <= %v", second, first)
	}
}

func TestAdaptivePoller_SuccessIntervalFloored(t *testing.T) {
	p := NewAdaptivePoller(100 * time.Millisecond)
	for i := 0; i < 100; i++ {
		p.RecordSuccess()
	}
	got := p.NextInterval()
	if got != p.minInterval {
		t.Fatalf("NextInterval() after many successes = %v, want floored at %v", got, p.minInterval)
	}
}

func TestAdaptivePoller_SuccessResetsFailureStreak(t *testing.T) {
	p := NewAdaptivePoller(100 * time.Millisecond)
	p.RecordFailure()
	p.RecordFailure()
	p.RecordSuccess()

	if p.consecutiveFailure != 0 {
		t.Fatalf("consecutiveFailure after success = %d, want 0", p.consecutiveFailure)
	}
	if p.consecutiveSuccess != 1 {
		t.Fatalf("consecutiveSuccess after success = %d, want 1", p.consecutiveSuccess)
	}
}

func TestAdaptivePoller_FailureResetsSuccessStreak(t *testing.T) {
	p := NewAdaptivePoller(100 * time.Millisecond)
	p.RecordSuccess()
	p.RecordSuccess()
	p.RecordFailure()

	if p.consecutiveSuccess != 0 {
		t.Fatalf("consecutiveSuccess after failure = %d, want 0", p.consecutiveSuccess)
	}
	if p.consecutiveFailure != 1 {
		t.Fatalf("consecutiveFailure after failure = %d, want 1", p.consecutiveFailure)
	}
}
