package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultStream = "agent-dispatch:messages"
	defaultGroup  = "agent-workers"
	payloadField  = "data"
)

// Producer publishes serialized chat messages onto a Redis Stream.
type Producer struct {
	client redis.UniversalClient
	stream string
}

var _ Enqueuer = (*Producer)(nil)

// NewProducer constructs a producer for the provided stream.
func NewProducer(client redis.UniversalClient, stream string) *Producer {
	if stream == "" {
		stream = defaultStream
	}
	return &Producer{client: client, stream: stream}
}

// Enqueue appends body to the stream and returns the entry id.
func (p *Producer) Enqueue(ctx context.Context, body []byte) (string, error) {
	if p == nil || p.client == nil {
		return "", ErrNotConfigured
	}
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		ID:     "*",
		Values: map[string]interface{}{
			payloadField: body,
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return id, nil
}

// Backend implements Enqueuer.
func (p *Producer) Backend() string { return SourceRedis }

// Consumer pulls messages from a Redis Stream consumer group.
type Consumer struct {
	client   redis.UniversalClient
	stream   string
	group    string
	name     string
	blockDur time.Duration
}

// NewConsumer creates a consumer bound to a stream + group.
func NewConsumer(client redis.UniversalClient, stream, group, name string) *Consumer {
	if stream == "" {
		stream = defaultStream
	}
	if group == "" {
		group = defaultGroup
	}
	if name == "" {
		name = uuid.NewString()
	}
	return &Consumer{
		client:   client,
		stream:   stream,
		group:    group,
		name:     name,
		blockDur: 5 * time.Second,
	}
}

// SetBlock overrides how long NextBatch waits for new entries.
func (c *Consumer) SetBlock(d time.Duration) {
	c.blockDur = d
}

// EnsureGroup ensures the consumer group exists.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	if c == nil || c.client == nil {
		return ErrNotConfigured
	}
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// NextBatch blocks for up to the block duration and returns at most count
// records. An empty batch is not an error. Entries without a payload field
// come back with an empty Body so they fail (and are acked) like any other
// malformed record.
func (c *Consumer) NextBatch(ctx context.Context, count int) ([]Record, error) {
	if c == nil || c.client == nil {
		return nil, ErrNotConfigured
	}
	if count <= 0 {
		count = 1
	}
	res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{c.stream, ">"},
		Count:    int64(count),
		Block:    c.blockDur,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var records []Record
	for _, stream := range res {
		for _, msg := range stream.Messages {
			rec := Record{ID: msg.ID, Source: SourceRedis}
			if raw, ok := msg.Values[payloadField].(string); ok {
				rec.Body = []byte(raw)
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

// Ack confirms processing of a message.
func (c *Consumer) Ack(ctx context.Context, ids ...string) error {
	if c == nil || c.client == nil || len(ids) == 0 {
		return nil
	}
	return c.client.XAck(ctx, c.stream, c.group, ids...).Err()
}
