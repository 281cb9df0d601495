package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/forgelabs/genflow/internal/domain"
)

type fakeNotifier struct {
	sent []domain.Notification
	err  error
}

func (f *fakeNotifier) Notify(_ domain.Context, n domain.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

type fakePreferences struct {
	disabled map[domain.NotificationCategory]bool
	err      error
}

func (f *fakePreferences) Enabled(_ domain.Context, _ string, category domain.NotificationCategory) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return !f.disabled[category], nil
}

func TestDispatch_DropsDisabledCategory(t *testing.T) {
	notifier := &fakeNotifier{}
	prefs := &fakePreferences{disabled: map[domain.NotificationCategory]bool{domain.NotifySocial: true}}
	d := New(notifier, prefs)

	d.Dispatch(context.Background(), domain.Notification{User: "u1", Category: domain.NotifySocial, JobID: "j1"})
	if len(notifier.sent) != 0 {
		t.Fatalf("expected disabled category to be dropped, got %d sent", len(notifier.sent))
	}
}

func TestDispatch_DeliversEnabledCategory(t *testing.T) {
	notifier := &fakeNotifier{}
	prefs := &fakePreferences{disabled: map[domain.NotificationCategory]bool{}}
	d := New(notifier, prefs)

	d.Dispatch(context.Background(), domain.Notification{User: "u1", Category: domain.NotifyGenerationComplete, JobID: "j1"})
	if len(notifier.sent) != 1 {
		t.Fatalf("expected 1 delivered notification, got %d", len(notifier.sent))
	}
	if counts := d.DeliveredCounts(); counts[domain.NotifyGenerationComplete] != 1 {
		t.Fatalf("expected delivered count 1, got %d", counts[domain.NotifyGenerationComplete])
	}
}

func TestDispatch_PreferenceLookupErrorDefaultsToEnabled(t *testing.T) {
	notifier := &fakeNotifier{}
	prefs := &fakePreferences{err: errors.New("boom")}
	d := New(notifier, prefs)

	d.Dispatch(context.Background(), domain.Notification{User: "u1", Category: domain.NotifySystem, JobID: "j1"})
	if len(notifier.sent) != 1 {
		t.Fatalf("expected preference error to fail open (deliver), got %d sent", len(notifier.sent))
	}
}

func TestDispatch_DeliveryFailureIsSwallowed(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("delivery down")}
	d := New(notifier, nil)

	d.Dispatch(context.Background(), domain.Notification{User: "u1", Category: domain.NotifySystem, JobID: "j1"})
	if counts := d.DeliveredCounts(); counts[domain.NotifySystem] != 0 {
		t.Fatalf("expected no delivered count on failure, got %d", counts[domain.NotifySystem])
	}
}

func TestDispatch_NilNotifierIsNoop(t *testing.T) {
	d := New(nil, nil)
	d.Dispatch(context.Background(), domain.Notification{User: "u1", Category: domain.NotifySystem, JobID: "j1"})
}

func TestJobTerminal_PicksCategoryByKind(t *testing.T) {
	notifier := &fakeNotifier{}
	d := New(notifier, nil)

	d.JobTerminal(context.Background(), "u1", "j1", domain.KindTraining, domain.State("completed"))
	d.JobTerminal(context.Background(), "u1", "j2", domain.Kind("image"), domain.State("completed"))

	if len(notifier.sent) != 2 {
		t.Fatalf("expected 2 sent, got %d", len(notifier.sent))
	}
	if notifier.sent[0].Category != domain.NotifyTrainingComplete {
		t.Errorf("expected training category, got %s", notifier.sent[0].Category)
	}
	if notifier.sent[1].Category != domain.NotifyGenerationComplete {
		t.Errorf("expected generation category, got %s", notifier.sent[1].Category)
	}
}

func TestModerationEnforced_UsesSystemCategory(t *testing.T) {
	notifier := &fakeNotifier{}
	d := New(notifier, nil)

	d.ModerationEnforced(context.Background(), "u1", "j1", domain.ModerationBlock)
	if len(notifier.sent) != 1 || notifier.sent[0].Category != domain.NotifySystem {
		t.Fatalf("expected system category notification, got %+v", notifier.sent)
	}
}
