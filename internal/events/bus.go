// Package events fans stream events out to in-process subscribers, optionally
// relayed through Redis pub/sub so every replica sees every event.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/oremus-labs/agent-dispatch/internal/logutil"
)

// Event is one message on a stream channel.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Channel   string          `json:"channel"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type subscriber struct {
	channel string
	ch      chan Event
}

// Bus multiplexes events to connected clients (local + Redis backed).
type Bus struct {
	client redis.UniversalClient
	log    *zap.SugaredLogger
	ch     string
	buffer int

	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}

	stop context.CancelFunc
	done chan struct{}
}

// Options configure the bus.
type Options struct {
	Client  redis.UniversalClient
	Logger  *zap.SugaredLogger
	Channel string
	// Buffer is the per-subscriber backlog before events are dropped.
	Buffer int
}

// NewBus creates a new event bus.
func NewBus(opts Options) *Bus {
	channel := opts.Channel
	if channel == "" {
		channel = "agent-dispatch-events"
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	bus := &Bus{
		client:      opts.Client,
		log:         logutil.OrNop(opts.Logger),
		ch:          channel,
		buffer:      buffer,
		subscribers: make(map[*subscriber]struct{}),
		done:        make(chan struct{}),
	}
	if bus.client == nil {
		close(bus.done)
		return bus
	}
	ctx, cancel := context.WithCancel(context.Background())
	bus.stop = cancel
	pubsub := bus.client.Subscribe(ctx, bus.ch)
	// Wait for the subscription confirmation so nothing published after
	// NewBus returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		bus.log.Warnw("Redis subscribe not confirmed", "channel", bus.ch, "error", err)
	}
	go bus.observeRedis(ctx, pubsub)
	return bus
}

// Publish broadcasts an event to all subscribers. With Redis configured the
// event travels through Redis and is delivered locally by the observer.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	if b.client == nil {
		b.broadcast(evt)
		return nil
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.ch, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe registers a subscriber for one stream channel ("" receives every
// channel) and returns the event channel plus a cancel func.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan Event, func()) {
	sub := &subscriber{channel: channel, ch: make(chan Event, b.buffer)}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, sub)
			close(sub.ch)
			b.mu.Unlock()
		})
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return sub.ch, cancel
}

// Close stops the Redis observer.
func (b *Bus) Close() {
	if b.stop != nil {
		b.stop()
	}
	<-b.done
}

func (b *Bus) broadcast(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.channel != "" && sub.channel != evt.Channel {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.log.Warnw("Dropping event, subscriber backlog full", "event_id", evt.ID, "channel", evt.Channel)
		}
	}
}

func (b *Bus) observeRedis(ctx context.Context, pubsub *redis.PubSub) {
	defer close(b.done)
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.log.Warnw("Redis subscriber error", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}

		var evt Event
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			b.log.Warnw("Invalid event payload", "error", err)
			continue
		}
		b.broadcast(evt)
	}
}
