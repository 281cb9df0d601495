package notify

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/forgelabs/genflow/internal/domain"
	"github.com/forgelabs/genflow/internal/observability"
)

func TestLogNotifier_Notify_RecordsMetric(t *testing.T) {
	observability.NotificationsSentTotal.Reset()

	n := LogNotifier{}
	err := n.Notify(context.Background(), domain.Notification{
		User:     "user-1",
		Category: domain.NotifyGenerationComplete,
		JobID:    "job-1",
	})
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	got := testutil.ToFloat64(observability.NotificationsSentTotal.WithLabelValues(string(domain.NotifyGenerationComplete)))
	if got != 1 {
		t.Fatalf("NotificationsSentTotal = %v, want 1", got)
	}
}
