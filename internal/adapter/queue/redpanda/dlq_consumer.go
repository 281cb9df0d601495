package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/forgelabs/genflow/internal/domain"
	"github.com/forgelabs/genflow/internal/observability"
)

// DLQConsumer drains a single kind's DLQ topic. Reprocessable (cooldown)
// entries are handed to the RetryManager to wait out their cooldown and
// requeue; terminal entries are recorded for the health surface and never
// re-enter the live queue.
type DLQConsumer struct {
	client       *kgo.Client
	kind         domain.Kind
	topic        string
	retryManager *RetryManager
	cooldown     time.Duration
	shutdown     chan struct{}
}

// NewDLQConsumer constructs a DLQConsumer for kind's DLQ topic.
func NewDLQConsumer(brokers []string, groupID string, kind domain.Kind, rm *RetryManager, cooldown time.Duration) (*DLQConsumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	topic := DLQTopicForKind(kind)

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.AutoCommitInterval(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("op=dlq_consumer.new_client: %w", err)
	}
	ensureTopic(context.Background(), client, topic, 4, 1)

	return &DLQConsumer{
		client:       client,
		kind:         kind,
		topic:        topic,
		retryManager: rm,
		cooldown:     cooldown,
		shutdown:     make(chan struct{}),
	}, nil
}

// Start polls the DLQ topic until ctx is cancelled.
func (d *DLQConsumer) Start(ctx context.Context) error {
	slog.Info("starting DLQ consumer", slog.String("kind", string(d.kind)), slog.String("topic", d.topic))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.shutdown:
			return nil
		default:
		}

		fetches := d.client.PollFetches(ctx)
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, e := range errs {
				slog.Error("DLQ fetch error", slog.String("kind", string(d.kind)), slog.Any("error", e.Err))
			}
			time.Sleep(2 * time.Second)
			continue
		}
		if fetches.NumRecords() == 0 {
			time.Sleep(500 * time.Millisecond)
			continue
		}

		observability.SetDLQDepth(string(d.kind), fetches.NumRecords())
		fetches.EachRecord(func(record *kgo.Record) {
			var dlqJob domain.DLQJob
			if err := json.Unmarshal(record.Value, &dlqJob); err != nil {
				slog.Error("failed to unmarshal DLQ record", slog.Any("error", err))
				return
			}
			if err := d.retryManager.ProcessDLQJob(ctx, dlqJob, d.cooldown); err != nil {
				slog.Error("failed to process DLQ job", slog.String("job_id", dlqJob.JobID), slog.Any("error", err))
			}
		})
	}
}

// Close releases the underlying client.
func (d *DLQConsumer) Close() error {
	select {
	case <-d.shutdown:
	default:
		close(d.shutdown)
	}
	if d.client != nil {
		d.client.Close()
	}
	return nil
}
