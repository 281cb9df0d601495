package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueuePinger is the minimal interface for a queue client capable of Ping.
type QueuePinger interface {
	Ping(ctx context.Context) error
}

// BuildReadinessChecks returns the three dependency checks readyz fans out to
// (§6): Postgres, the Kafka/Redpanda broker connection, and the Redis
// instance backing the sliding-window rate limiter.
func BuildReadinessChecks(db Pinger, queue QueuePinger, rdb *redis.Client) (
	func(ctx context.Context) error,
	func(ctx context.Context) error,
	func(ctx context.Context) error,
) {
	dbCheck := func(ctx context.Context) error {
		if db == nil {
			return fmt.Errorf("db not configured")
		}
		return db.Ping(ctx)
	}
	queueCheck := func(ctx context.Context) error {
		if queue == nil {
			return fmt.Errorf("queue not configured")
		}
		return queue.Ping(ctx)
	}
	limiterCheck := func(ctx context.Context) error {
		if rdb == nil {
			return fmt.Errorf("rate limiter store not configured")
		}
		return rdb.Ping(ctx).Err()
	}
	return dbCheck, queueCheck, limiterCheck
}
