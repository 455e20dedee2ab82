package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/oremus-labs/agent-dispatch/internal/logutil"
	"github.com/oremus-labs/agent-dispatch/internal/metrics"
	"github.com/oremus-labs/agent-dispatch/internal/queue"
	"github.com/oremus-labs/agent-dispatch/internal/scheduled"
	"github.com/oremus-labs/agent-dispatch/internal/worker"
)

// ErrUnsupportedEvent is returned for HTTP-classified events that are not an
// API Gateway or function URL request.
var ErrUnsupportedEvent = errors.New("unsupported event shape")

// StatusResult is returned for queue and scheduled invocations.
type StatusResult struct {
	StatusCode int `json:"statusCode"`
}

type batchProcessor interface {
	ProcessBatch(ctx context.Context, records []queue.Record) worker.BatchResult
}

type scheduledRunner interface {
	Run(ctx context.Context, evt scheduled.Event) (scheduled.Summary, error)
}

// Options configure a Dispatcher.
type Options struct {
	Engine    *gin.Engine
	Batch     batchProcessor
	Scheduled scheduledRunner
	Logger    *zap.SugaredLogger
}

// Dispatcher routes raw Lambda events.
type Dispatcher struct {
	v1        *ginadapter.GinLambda
	v2        *ginadapter.GinLambdaV2
	batch     batchProcessor
	scheduled scheduledRunner
	log       *zap.SugaredLogger
}

// New builds a Dispatcher.
func New(opts Options) (*Dispatcher, error) {
	if opts.Engine == nil || opts.Batch == nil || opts.Scheduled == nil {
		return nil, errors.New("dispatcher requires an engine, a batch processor and a scheduled runner")
	}
	return &Dispatcher{
		v1:        ginadapter.New(opts.Engine),
		v2:        ginadapter.NewV2(opts.Engine),
		batch:     opts.Batch,
		scheduled: opts.Scheduled,
		log:       logutil.OrNop(opts.Logger),
	}, nil
}

// Handle is the Lambda handler.
func (d *Dispatcher) Handle(ctx context.Context, raw json.RawMessage) (any, error) {
	trigger, err := Decode(raw)
	if err != nil {
		metrics.ObserveDispatch("invalid")
		d.log.Errorw("Failed to decode event", "error", err)
		return nil, err
	}
	metrics.ObserveDispatch(string(trigger.Kind()))
	d.log.Infow("Lambda handler invoked", "kind", trigger.Kind())

	switch t := trigger.(type) {
	case QueueTrigger:
		return d.handleQueue(ctx, t), nil
	case ScheduledTrigger:
		return d.handleScheduled(ctx, t), nil
	case HTTPTrigger:
		return d.handleHTTP(ctx, t)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedEvent, trigger)
	}
}

// handleQueue always reports success so one bad record cannot trigger a
// redelivery of the whole batch.
func (d *Dispatcher) handleQueue(ctx context.Context, t QueueTrigger) StatusResult {
	records := make([]queue.Record, 0, len(t.Records))
	for i, r := range t.Records {
		id := r.Message.MessageId
		if id == "" {
			id = fmt.Sprintf("record-%d", i)
		}
		if r.Err != nil {
			// An empty body fails parsing inside the batch, like any bad payload.
			d.log.Warnw("Undecodable SQS record", "message_id", id, "error", r.Err)
			records = append(records, queue.Record{ID: id, Source: queue.SourceSQS})
			continue
		}
		records = append(records, queue.Record{ID: id, Body: []byte(r.Message.Body), Source: queue.SourceSQS})
	}
	d.log.Infow("Handling SQS batch", "records", len(records))
	result := d.batch.ProcessBatch(ctx, records)
	if failed := result.Failed(); failed > 0 {
		d.log.Warnw("SQS batch finished with failures", "failed", failed, "succeeded", result.Succeeded())
	}
	return StatusResult{StatusCode: 200}
}

func (d *Dispatcher) handleScheduled(ctx context.Context, t ScheduledTrigger) StatusResult {
	evt := scheduled.Event{
		ID:         t.Event.ID,
		Source:     t.Event.Source,
		DetailType: t.Event.DetailType,
		Time:       t.Event.Time,
	}
	if _, err := d.scheduled.Run(ctx, evt); err != nil {
		d.log.Errorw("Scheduled task failed", "error", err)
	}
	return StatusResult{StatusCode: 200}
}

func (d *Dispatcher) handleHTTP(ctx context.Context, t HTTPTrigger) (any, error) {
	switch {
	case t.V2 != nil:
		return d.v2.ProxyWithContext(ctx, *t.V2)
	case t.V1 != nil:
		return d.v1.ProxyWithContext(ctx, *t.V1)
	default:
		d.log.Warnw("HTTP event is not an API Gateway request")
		return nil, ErrUnsupportedEvent
	}
}
