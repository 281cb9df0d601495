package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/forgelabs/genflow/internal/domain"
	"github.com/forgelabs/genflow/internal/observability"
)

// Producer wraps a transactional Kafka producer and implements domain.Queue
// against the three per-kind job topics plus their DLQ companions.
type Producer struct {
	client          *kgo.Client
	transactionChan chan struct{}
}

var _ domain.Queue = (*Producer)(nil)

// NewProducer constructs a Producer, ensuring every per-kind topic and its
// DLQ companion exist before returning.
func NewProducer(brokers []string) (*Producer, error) {
	return NewProducerWithTransactionalID(brokers, "genflow-producer")
}

// NewProducerWithTransactionalID constructs a Producer with a custom
// transactional ID, useful for test isolation.
func NewProducerWithTransactionalID(brokers []string, transactionalID string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.TransactionalID(transactionalID),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1000000),
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("op=producer.new_client: %w", err)
	}

	ctx := context.Background()
	for _, kind := range AllKinds {
		ensureTopic(ctx, client, TopicForKind(kind), 8, 1)
		ensureTopic(ctx, client, DLQTopicForKind(kind), 4, 1)
	}

	slog.Info("redpanda producer ready", slog.Any("brokers", brokers), slog.String("transactional_id", transactionalID))
	return &Producer{client: client, transactionChan: make(chan struct{}, 1)}, nil
}

// Ping verifies connectivity to the broker, used by readyz (§6).
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Enqueue implements domain.Queue: places payload on kind's primary topic
// inside a transaction for exactly-once delivery.
func (p *Producer) Enqueue(ctx domain.Context, kind domain.Kind, payload domain.EnqueuePayload) error {
	payload.Kind = kind
	if payload.MessageID == "" {
		payload.MessageID = ulid.Make().String()
	}
	return p.produce(ctx, TopicForKind(kind), payload.JobID, payload)
}

// EnqueueDLQ places a marshalled DLQJob on its kind's DLQ topic.
func (p *Producer) EnqueueDLQ(ctx domain.Context, dlqJob domain.DLQJob) error {
	return p.produce(ctx, DLQTopicForKind(dlqJob.Kind), dlqJob.JobID, dlqJob)
}

func (p *Producer) produce(ctx context.Context, topic, key string, v any) error {
	select {
	case p.transactionChan <- struct{}{}:
		defer func() { <-p.transactionChan }()
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := p.client.BeginTransaction(); err != nil {
		return fmt.Errorf("op=producer.begin_tx: %w", err)
	}

	b, err := json.Marshal(v)
	if err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			slog.Error("failed to abort transaction after marshal error", slog.Any("error", abortErr))
		}
		return fmt.Errorf("op=producer.marshal: %w", err)
	}

	record := &kgo.Record{Topic: topic, Key: []byte(key), Value: b,
		Headers: []kgo.RecordHeader{{Key: "job_id", Value: []byte(key)}}}

	promise := kgo.AbortingFirstErrPromise(p.client)
	p.client.Produce(ctx, record, promise.Promise())
	if err := promise.Err(); err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			slog.Error("failed to abort transaction after produce error", slog.Any("error", abortErr))
		}
		return fmt.Errorf("op=producer.produce: %w", err)
	}

	if err := p.client.EndTransaction(ctx, kgo.TryCommit); err != nil {
		return fmt.Errorf("op=producer.commit_tx: %w", err)
	}

	observability.EnqueueJob(topic)
	return nil
}

// Close releases the underlying client.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}
