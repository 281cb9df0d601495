// Package notify implements the best-effort notification dispatcher (C8,
// §4.9): one event per terminal job transition or moderation enforcement,
// keyed by (user, category), dropped per the user's own preferences.
package notify

import (
	"log/slog"
	"sync"

	"github.com/forgelabs/genflow/internal/domain"
)

// PreferenceStore reports whether a user has a notification category enabled.
// A user absent from the store is treated as fully opted in.
type PreferenceStore interface {
	Enabled(ctx domain.Context, user string, category domain.NotificationCategory) (bool, error)
}

// Dispatcher fans out notifications to an underlying Notifier, filtering by
// the user's category preferences. Delivery failures are logged, never
// retried, mirroring observability.metrics.go's thin-named-helper-per-event
// idiom applied to delivery instead of counters.
type Dispatcher struct {
	notifier    domain.Notifier
	preferences PreferenceStore

	mu     sync.Mutex
	counts map[domain.NotificationCategory]int
}

// New builds a Dispatcher. preferences may be nil, in which case every
// category is treated as enabled for every user.
func New(notifier domain.Notifier, preferences PreferenceStore) *Dispatcher {
	return &Dispatcher{notifier: notifier, preferences: preferences, counts: make(map[domain.NotificationCategory]int)}
}

// Dispatch sends n if the user's preferences allow its category, swallowing
// any delivery error after logging it.
func (d *Dispatcher) Dispatch(ctx domain.Context, n domain.Notification) {
	if d.preferences != nil {
		enabled, err := d.preferences.Enabled(ctx, n.User, n.Category)
		if err != nil {
			slog.Warn("notification preference lookup failed, defaulting to enabled",
				slog.String("user", n.User), slog.String("category", string(n.Category)), slog.Any("error", err))
		} else if !enabled {
			return
		}
	}

	if d.notifier == nil {
		return
	}
	if err := d.notifier.Notify(ctx, n); err != nil {
		slog.Error("notification delivery failed",
			slog.String("user", n.User), slog.String("category", string(n.Category)), slog.String("job_id", n.JobID), slog.Any("error", err))
		return
	}
	d.recordDelivered(n.Category)
}

// JobTerminal emits the appropriate category notification for a job's
// terminal state, per §4.9.
func (d *Dispatcher) JobTerminal(ctx domain.Context, owner, jobID string, kind domain.Kind, state domain.State) {
	category := domain.NotifyGenerationComplete
	if kind == domain.KindTraining {
		category = domain.NotifyTrainingComplete
	}
	d.Dispatch(ctx, domain.Notification{
		User:     owner,
		Category: category,
		JobID:    jobID,
		Payload:  map[string]string{"state": string(state)},
	})
}

// ModerationEnforced emits a system-category notification when moderation
// takes an enforcement action on a user's content.
func (d *Dispatcher) ModerationEnforced(ctx domain.Context, owner, jobID string, action domain.ModerationAction) {
	d.Dispatch(ctx, domain.Notification{
		User:     owner,
		Category: domain.NotifySystem,
		JobID:    jobID,
		Payload:  map[string]string{"moderation_action": string(action)},
	})
}

func (d *Dispatcher) recordDelivered(category domain.NotificationCategory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counts[category]++
}

// DeliveredCounts returns a snapshot of per-category delivery counts, mainly
// useful for tests and diagnostics.
func (d *Dispatcher) DeliveredCounts() map[domain.NotificationCategory]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[domain.NotificationCategory]int, len(d.counts))
	for k, v := range d.counts {
		out[k] = v
	}
	return out
}
