// Package queue offloads chat messages for decoupled processing and reads
// them back as batches of records.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/oremus-labs/agent-dispatch/config"
)

// Record sources.
const (
	SourceSQS   = "sqs"
	SourceRedis = "redis"
)

// ErrNotConfigured is returned when a queue operation has no backing transport.
var ErrNotConfigured = errors.New("queue not configured")

// Record is one queued message as seen by the consumer.
type Record struct {
	ID     string
	Body   []byte
	Source string
}

// Enqueuer places a serialized payload on the offload queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, body []byte) (string, error)
	Backend() string
}

// FromConfig returns the Enqueuer selected by cfg, or nil when offload is
// disabled. rdb is required for the redis backend.
func FromConfig(ctx context.Context, cfg *config.Config, rdb redis.UniversalClient) (Enqueuer, error) {
	if !cfg.QueueEnabled() {
		return nil, nil
	}
	switch cfg.ResolvedQueueBackend() {
	case config.QueueBackendSQS:
		client, err := NewSQSClient(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		return NewSQSProducer(client, cfg.SQSQueueURL), nil
	case config.QueueBackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis queue backend: %w", ErrNotConfigured)
		}
		return NewProducer(rdb, cfg.RedisQueueStream), nil
	default:
		return nil, nil
	}
}
