package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oremus-labs/agent-dispatch/internal/events"
)

type eventPublisher interface {
	Publish(context.Context, events.Event) error
}

// BusSink publishes stream events on the event bus. It backs dev mode, where
// clients read the stream over SSE instead of Centrifugo.
type BusSink struct {
	*Defaults
	bus eventPublisher
}

var _ Publisher = (*BusSink)(nil)

// NewBusSink wraps an event publisher.
func NewBusSink(bus eventPublisher) *BusSink {
	return &BusSink{Defaults: NewDefaults("", ""), bus: bus}
}

// SendChunk publishes one fragment.
func (s *BusSink) SendChunk(ctx context.Context, _ Destination, ref Ref, text string) error {
	return s.publish(ctx, ref, newEnvelope(TypeChunk, ref, text))
}

// Complete publishes the terminal message.
func (s *BusSink) Complete(ctx context.Context, _ Destination, ref Ref, fullText string, meta Metadata) error {
	env := newEnvelope(TypeComplete, ref, fullText)
	env.Metadata = &meta
	return s.publish(ctx, ref, env)
}

// Error publishes an error notification.
func (s *BusSink) Error(ctx context.Context, _ Destination, ref Ref, message string) error {
	return s.publish(ctx, ref, newEnvelope(TypeError, ref, message))
}

func (s *BusSink) publish(ctx context.Context, ref Ref, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	channel := ref.Channel
	if channel == "" {
		channel = ref.ResponseID
	}
	if err := s.bus.Publish(ctx, events.Event{Type: env.Type, Channel: channel, Data: data}); err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return nil
}
