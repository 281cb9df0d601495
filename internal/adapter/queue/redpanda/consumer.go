package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/forgelabs/genflow/internal/domain"
	"github.com/forgelabs/genflow/internal/observability"
)

// JobHandler processes a single dequeued job. Returning an error marks the
// delivery a failure; the Consumer then drives the retry/DLQ decision via its
// RetryManager. HandleJob must be idempotent by job id (at-least-once
// delivery, §4.5).
type JobHandler interface {
	HandleJob(ctx domain.Context, payload domain.EnqueuePayload) error
}

// Consumer wraps a transactional Kafka consumer group for a single job kind,
// fanning fetched records out to a dynamically scaled worker pool. A record
// that arrives while the pool's buffer is full runs on its own goroutine.
type Consumer struct {
	session *kgo.GroupTransactSession
	kind    domain.Kind
	topic   string
	groupID string
	handler JobHandler

	retryManager *RetryManager

	minWorkers, maxWorkers int
	activeWorkers          int
	workerMu               sync.RWMutex
	jobQueue               chan *kgo.Record

	poller   *AdaptivePoller
	shutdown chan struct{}
}

// NewConsumer constructs a Consumer for kind's primary topic.
func NewConsumer(brokers []string, groupID string, kind domain.Kind, handler JobHandler, minWorkers, maxWorkers int) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if groupID == "" {
		return nil, fmt.Errorf("missing required group ID")
	}

	topic := TopicForKind(kind)

	tempClient, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("op=consumer.temp_client: %w", err)
	}
	defer tempClient.Close()
	ensureTopic(context.Background(), tempClient, topic, 8, 1)

	kotelTracer := kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))
	kotelService := kotel.NewKotel(kotel.WithTracer(kotelTracer))

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.TransactionalID(fmt.Sprintf("genflow-consumer-%s", kind)),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.RequireStableFetchOffsets(),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.DialTimeout(10 * time.Second),
		kgo.SessionTimeout(30 * time.Second),
		kgo.HeartbeatInterval(3 * time.Second),
		kgo.RebalanceTimeout(10 * time.Second),
		kgo.FetchMaxBytes(10 * 1024 * 1024),
		kgo.FetchMaxWait(10 * time.Second),
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(time.Second),
	}
	session, err := kgo.NewGroupTransactSession(opts...)
	if err != nil {
		return nil, fmt.Errorf("op=consumer.new_session: %w", err)
	}

	return &Consumer{
		session:       session,
		kind:          kind,
		topic:         topic,
		groupID:       groupID,
		handler:       handler,
		minWorkers:    minWorkers,
		maxWorkers:    maxWorkers,
		activeWorkers: minWorkers,
		jobQueue:      make(chan *kgo.Record, maxWorkers*2),
		shutdown:      make(chan struct{}),
		poller:        NewAdaptivePoller(100 * time.Millisecond),
	}, nil
}

// WithRetryManager attaches a RetryManager so handler failures drive the
// retry/DLQ decision instead of being merely logged and dropped.
func (c *Consumer) WithRetryManager(rm *RetryManager) *Consumer {
	c.retryManager = rm
	return c
}

// Start begins consuming until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	slog.Info("starting consumer", slog.String("kind", string(c.kind)), slog.String("topic", c.topic), slog.String("group_id", c.groupID))

	for i := 0; i < c.minWorkers; i++ {
		go c.worker(ctx, i)
	}
	go c.scaler(ctx)
	go c.fetchLoop(ctx)

	<-ctx.Done()
	close(c.shutdown)
	return ctx.Err()
}

func (c *Consumer) fetchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		default:
		}

		fetches := c.session.PollFetches(ctx)
		if errs := fetches.Errors(); len(errs) > 0 {
			c.poller.RecordFailure()
			for _, e := range errs {
				slog.Error("fetch error", slog.String("kind", string(c.kind)), slog.Any("error", e.Err))
			}
			time.Sleep(c.poller.NextInterval())
			continue
		}

		if fetches.NumRecords() == 0 {
			c.poller.RecordSuccess()
			time.Sleep(c.poller.NextInterval())
			continue
		}
		c.poller.RecordSuccess()

		observability.SetQueueDepth(string(c.kind), len(c.jobQueue))
		fetches.EachRecord(func(record *kgo.Record) {
			select {
			case c.jobQueue <- record:
			default:
				go func(r *kgo.Record) { _ = c.processRecord(ctx, r) }(record)
			}
		})
	}
}

func (c *Consumer) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case record := <-c.jobQueue:
			if record == nil {
				return
			}
			if err := c.processRecord(ctx, record); err != nil {
				slog.Error("record processing failed", slog.Int("worker_id", id), slog.String("kind", string(c.kind)), slog.Any("error", err))
			}
		}
	}
}

func (c *Consumer) processRecord(ctx context.Context, record *kgo.Record) error {
	tracer := otel.Tracer("queue.consumer")
	ctx, span := tracer.Start(ctx, "redpanda.ProcessJob")
	defer span.End()

	var payload domain.EnqueuePayload
	if err := json.Unmarshal(record.Value, &payload); err != nil {
		slog.Error("failed to unmarshal job payload", slog.Any("error", err))
		return fmt.Errorf("op=consumer.unmarshal: %w", err)
	}

	err := c.handler.HandleJob(ctx, payload)
	if err == nil {
		return nil
	}

	slog.Error("job handler failed", slog.String("job_id", payload.JobID), slog.Any("error", err))
	if c.retryManager == nil {
		return err
	}

	retryInfo := &domain.RetryInfo{
		AttemptCount:  payload.Attempts,
		LastAttemptAt: time.Now(),
		RetryStatus:   domain.RetryStatusNone,
		LastError:     err.Error(),
		ErrorHistory:  []string{err.Error()},
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if rErr := c.retryManager.RetryJob(ctx, c.kind, payload.JobID, retryInfo, payload); rErr != nil {
		slog.Error("retry manager failed to handle job failure", slog.String("job_id", payload.JobID), slog.Any("error", rErr))
		return rErr
	}
	return nil
}

// scaler grows or shrinks the active worker count with queue depth.
func (c *Consumer) scaler(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			queueLen := len(c.jobQueue)
			active := c.getActive()
			if queueLen > 0 && active < c.maxWorkers {
				c.setActive(active + 1)
				go c.worker(ctx, active+1)
			} else if active > c.minWorkers && queueLen == 0 {
				c.setActive(active - 1)
			}
		}
	}
}

func (c *Consumer) getActive() int {
	c.workerMu.RLock()
	defer c.workerMu.RUnlock()
	return c.activeWorkers
}

func (c *Consumer) setActive(n int) {
	c.workerMu.Lock()
	defer c.workerMu.Unlock()
	c.activeWorkers = n
}

// Close releases the underlying session.
func (c *Consumer) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	return nil
}
