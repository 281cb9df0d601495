package notify

import (
	"log/slog"

	"github.com/forgelabs/genflow/internal/domain"
	"github.com/forgelabs/genflow/internal/observability"
)

// LogNotifier implements domain.Notifier by logging and counting each
// notification rather than delivering it anywhere. Push delivery to a real
// provider is out of scope (§1); what's in scope is the decision of which
// event fires and whether the user's preferences allow it, both of which
// happen upstream in Dispatcher.
type LogNotifier struct{}

// Notify logs n at info level and records it in the notification-delivered metric.
func (LogNotifier) Notify(ctx domain.Context, n domain.Notification) error {
	slog.Info("notification",
		slog.String("user", n.User),
		slog.String("category", string(n.Category)),
		slog.String("job_id", n.JobID),
		slog.Any("payload", n.Payload),
	)
	observability.RecordNotificationSent(string(n.Category))
	return nil
}
