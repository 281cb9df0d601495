// Package redpanda provides Redpanda/Kafka queue integration for the
// generation pipeline's per-kind job queues and their dead-letter companions.
package redpanda

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/forgelabs/genflow/internal/domain"
)

// TopicForKind returns the primary topic name for a job kind (§4.5).
func TopicForKind(kind domain.Kind) string { return "jobs-" + string(kind) }

// DLQTopicForKind returns the dead-letter companion topic for a job kind.
func DLQTopicForKind(kind domain.Kind) string { return TopicForKind(kind) + "-dlq" }

// AllKinds enumerates every job kind with its own topic pair.
var AllKinds = []domain.Kind{domain.KindImage, domain.KindVideo, domain.KindTraining}

// createTopicIfNotExists creates a topic if it doesn't exist using the Kafka
// AdminClient API, tolerating the "topic already exists" response.
func createTopicIfNotExists(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	if topic == "" {
		return fmt.Errorf("topic name cannot be empty")
	}
	if partitions <= 0 || replicationFactor <= 0 {
		return fmt.Errorf("partitions and replication factor must be positive")
	}

	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30000
	topicReq := kmsg.NewCreateTopicsRequestTopic()
	topicReq.Topic = topic
	topicReq.NumPartitions = partitions
	topicReq.ReplicationFactor = replicationFactor
	req.Topics = append(req.Topics, topicReq)

	resp, err := client.Request(ctx, &req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	createTopicsResp, ok := resp.(*kmsg.CreateTopicsResponse)
	if !ok {
		return fmt.Errorf("unexpected response type: %T", resp)
	}
	for _, topicResp := range createTopicsResp.Topics {
		if topicResp.ErrorCode != 0 {
			if topicResp.ErrorCode == 36 { // TOPIC_ALREADY_EXISTS
				slog.Debug("topic already exists", slog.String("topic", topicResp.Topic))
				return nil
			}
			errorMsg := ""
			if topicResp.ErrorMessage != nil {
				errorMsg = *topicResp.ErrorMessage
			}
			return fmt.Errorf("create topic error: %s (code %d)", errorMsg, topicResp.ErrorCode)
		}
		slog.Info("topic created", slog.String("topic", topicResp.Topic), slog.Int("partitions", int(partitions)))
	}
	return nil
}

// createOptimizedTopicForParallelProcessing creates a topic tuned for
// short-retention, high-throughput job delivery.
func createOptimizedTopicForParallelProcessing(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	if topic == "" {
		return fmt.Errorf("topic name cannot be empty")
	}
	if partitions <= 0 || replicationFactor <= 0 {
		return fmt.Errorf("partitions and replication factor must be positive")
	}

	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30000
	topicReq := kmsg.NewCreateTopicsRequestTopic()
	topicReq.Topic = topic
	topicReq.NumPartitions = partitions
	topicReq.ReplicationFactor = replicationFactor
	topicReq.Configs = []kmsg.CreateTopicsRequestTopicConfig{
		{Name: "cleanup.policy", Value: stringPtr("delete")},
		{Name: "retention.ms", Value: stringPtr("604800000")}, // 7 days
		{Name: "segment.ms", Value: stringPtr("3600000")},
		{Name: "compression.type", Value: stringPtr("snappy")},
		{Name: "min.insync.replicas", Value: stringPtr("1")},
		{Name: "unclean.leader.election.enable", Value: stringPtr("false")},
		{Name: "message.timestamp.type", Value: stringPtr("CreateTime")},
		{Name: "max.message.bytes", Value: stringPtr("1000012")},
	}
	req.Topics = append(req.Topics, topicReq)

	resp, err := client.Request(ctx, &req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	createTopicsResp, ok := resp.(*kmsg.CreateTopicsResponse)
	if !ok {
		return fmt.Errorf("unexpected response type: %T", resp)
	}
	for _, topicResp := range createTopicsResp.Topics {
		if topicResp.ErrorCode != 0 {
			if topicResp.ErrorCode == 36 {
				slog.Debug("optimized topic already exists", slog.String("topic", topicResp.Topic))
				return nil
			}
			errorMsg := ""
			if topicResp.ErrorMessage != nil {
				errorMsg = *topicResp.ErrorMessage
			}
			return fmt.Errorf("create optimized topic error: %s (code %d)", errorMsg, topicResp.ErrorCode)
		}
		slog.Info("optimized topic created", slog.String("topic", topicResp.Topic), slog.Int("partitions", int(partitions)))
	}
	return nil
}

// ensureTopic creates an optimized topic, falling back to a plain one if the
// broker rejects the optimized config (e.g. a single-broker dev cluster).
func ensureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) {
	if err := createOptimizedTopicForParallelProcessing(ctx, client, topic, partitions, replicationFactor); err != nil {
		slog.Warn("falling back to standard topic creation", slog.String("topic", topic), slog.Any("error", err))
		if err := createTopicIfNotExists(ctx, client, topic, partitions, replicationFactor); err != nil {
			slog.Warn("topic creation failed, it may already exist", slog.String("topic", topic), slog.Any("error", err))
		}
	}
}

func stringPtr(s string) *string { return &s }
