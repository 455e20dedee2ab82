// Package agent turns a chat message into a streamed response: it pulls text
// fragments from a Source, publishes them as chunks and finalizes the
// response exactly once.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/oremus-labs/agent-dispatch/internal/chat"
	"github.com/oremus-labs/agent-dispatch/internal/logutil"
	"github.com/oremus-labs/agent-dispatch/internal/metrics"
	"github.com/oremus-labs/agent-dispatch/internal/sink"
	"github.com/oremus-labs/agent-dispatch/internal/store"
)

// GenericErrorMessage is published to clients when generation fails.
const GenericErrorMessage = "An error occurred while generating the response."

// Ledger records which responses have been completed.
type Ledger interface {
	BeginResponse(ctx context.Context, responseUUID, channel string) (bool, error)
	FinishResponse(ctx context.Context, r *store.Response) error
}

// Options configure a Processor.
type Options struct {
	Sink          sink.Publisher
	Source        Source
	Ledger        Ledger
	ChunkInterval time.Duration
	Logger        *zap.SugaredLogger
	Tracer        trace.Tracer
}

// Processor drives one response from Source to Sink.
type Processor struct {
	sink     sink.Publisher
	source   Source
	ledger   Ledger
	interval time.Duration
	log      *zap.SugaredLogger
	tracer   trace.Tracer
}

// NewProcessor builds a processor. Ledger may be nil.
func NewProcessor(opts Options) (*Processor, error) {
	if opts.Sink == nil {
		return nil, errors.New("sink is required")
	}
	if opts.Source == nil {
		return nil, errors.New("source is required")
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/oremus-labs/agent-dispatch/internal/agent")
	}
	return &Processor{
		sink:     opts.Sink,
		source:   opts.Source,
		ledger:   opts.Ledger,
		interval: opts.ChunkInterval,
		log:      logutil.OrNop(opts.Logger),
		tracer:   tracer,
	}, nil
}

// Process streams the response for msg and completes it. Chunk and completion
// delivery failures are logged, never returned; the returned error is the
// generation fault, if any.
func (p *Processor) Process(ctx context.Context, msg *chat.Message) error {
	if msg == nil || msg.ResponseUUID == "" {
		return fmt.Errorf("%w: response_uuid is required", chat.ErrInvalidPayload)
	}

	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "agent.process", trace.WithAttributes(
		attribute.String("response_uuid", msg.ResponseUUID),
		attribute.String("channel", msg.StreamChannel()),
	))
	defer span.End()

	log := p.log.With("response_uuid", msg.ResponseUUID, "thread_id", msg.ThreadID)

	if p.ledger != nil {
		started, err := p.ledger.BeginResponse(ctx, msg.ResponseUUID, msg.StreamChannel())
		switch {
		case err != nil:
			log.Warnw("Completion ledger unavailable; processing anyway", "error", err)
		case !started:
			log.Infow("Response already completed or claimed by another delivery; skipping")
			metrics.ObserveCompletion("duplicate", "skipped", time.Since(start))
			span.SetAttributes(attribute.Bool("duplicate", true))
			return nil
		}
	}

	dest := p.sink.Resolve(sink.Destination{URL: msg.StreamURL, Token: msg.StreamToken})
	ref := sink.Ref{
		ResponseID: msg.ResponseUUID,
		Channel:    msg.Channel,
		ThreadID:   msg.ThreadID,
		MessageID:  msg.MessageUUID,
	}

	var limiter *rate.Limiter
	if p.interval > 0 {
		limiter = rate.NewLimiter(rate.Every(p.interval), 1)
	}

	var (
		full      strings.Builder
		sent      int
		total     int
		streaming = true
		genErr    error
	)
	for frag, err := range p.source.Stream(ctx, msg) {
		if err != nil {
			genErr = err
			break
		}
		if frag == "" {
			continue
		}
		total++
		full.WriteString(frag)

		if !streaming {
			metrics.ObserveChunk("skipped")
			continue
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				log.Warnw("Chunk pacing interrupted; halting stream", "error", err)
				streaming = false
				metrics.ObserveChunk("skipped")
				continue
			}
		}
		if err := p.sink.SendChunk(ctx, dest, ref, frag); err != nil {
			log.Warnw("Chunk delivery failed; halting stream", "error", err, "chunks_sent", sent)
			streaming = false
			metrics.ObserveChunk("failed")
			continue
		}
		sent++
		metrics.ObserveChunk("sent")
	}

	// The terminal signal is attempted even when the caller has gone away.
	finalCtx := context.WithoutCancel(ctx)

	meta := sink.Metadata{ChunksSent: sent, ChunksTotal: total, Truncated: sent < total}
	status := "ok"
	if genErr != nil {
		status = "error"
		meta.Error = GenericErrorMessage
		log.Errorw("Failed to generate response", "error", genErr)
		span.RecordError(genErr)
		span.SetStatus(codes.Error, genErr.Error())
		if err := p.sink.Error(finalCtx, dest, ref, GenericErrorMessage); err != nil {
			log.Warnw("Error notification failed", "error", err)
		}
	}

	outcome := "delivered"
	if err := p.sink.Complete(finalCtx, dest, ref, full.String(), meta); err != nil {
		outcome = "failed"
		log.Errorw("Completion delivery failed", "error", err)
	}
	metrics.ObserveCompletion(outcome, status, time.Since(start))
	span.SetAttributes(
		attribute.Int("chunks_sent", sent),
		attribute.Int("chunks_total", total),
		attribute.Bool("truncated", meta.Truncated),
	)

	if p.ledger != nil {
		record := &store.Response{
			ResponseUUID: msg.ResponseUUID,
			Channel:      msg.StreamChannel(),
			ChunksSent:   sent,
			ChunksTotal:  total,
			Truncated:    meta.Truncated,
			Error:        meta.Error,
		}
		if err := p.ledger.FinishResponse(finalCtx, record); err != nil {
			log.Warnw("Failed to record completion", "error", err)
		}
	}

	log.Infow("Response completed", "chunks_sent", sent, "chunks_total", total, "truncated", meta.Truncated, "outcome", outcome, "duration", time.Since(start))

	if genErr != nil {
		return fmt.Errorf("generate response: %w", genErr)
	}
	return nil
}
