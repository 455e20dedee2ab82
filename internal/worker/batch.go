package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/oremus-labs/agent-dispatch/internal/chat"
	"github.com/oremus-labs/agent-dispatch/internal/logutil"
	"github.com/oremus-labs/agent-dispatch/internal/metrics"
	"github.com/oremus-labs/agent-dispatch/internal/queue"
)

type messageProcessor interface {
	Process(ctx context.Context, msg *chat.Message) error
}

// Result is the isolated outcome of one record.
type Result struct {
	RecordID     string
	ResponseUUID string
	Err          error
}

// OK reports whether the record was processed without error.
func (r Result) OK() bool { return r.Err == nil }

// BatchResult aggregates the per-record results of one batch.
type BatchResult struct {
	Results []Result
}

// Succeeded counts records processed without error.
func (b BatchResult) Succeeded() int {
	n := 0
	for _, r := range b.Results {
		if r.OK() {
			n++
		}
	}
	return n
}

// Failed counts records that failed.
func (b BatchResult) Failed() int {
	return len(b.Results) - b.Succeeded()
}

// BatchProcessor runs queue records through the agent one at a time. A
// failing record never affects the others.
type BatchProcessor struct {
	proc messageProcessor
	log  *zap.SugaredLogger
}

// NewBatchProcessor wraps proc.
func NewBatchProcessor(proc messageProcessor, logger *zap.SugaredLogger) *BatchProcessor {
	return &BatchProcessor{proc: proc, log: logutil.OrNop(logger)}
}

// ProcessBatch processes records sequentially in order. An empty batch is a no-op.
func (b *BatchProcessor) ProcessBatch(ctx context.Context, records []queue.Record) BatchResult {
	out := BatchResult{Results: make([]Result, 0, len(records))}
	for _, rec := range records {
		res := b.processRecord(ctx, rec)
		metrics.ObserveQueueRecord(rec.Source, res.OK())
		log := b.log.With("record_id", rec.ID, "source", rec.Source, "response_uuid", res.ResponseUUID)
		if res.OK() {
			log.Infow("Processed queue record")
		} else {
			log.Errorw("Queue record failed", "error", res.Err)
		}
		out.Results = append(out.Results, res)
	}
	if len(records) > 0 {
		b.log.Infow("Batch processed", "records", len(records), "succeeded", out.Succeeded(), "failed", out.Failed())
	}
	return out
}

func (b *BatchProcessor) processRecord(ctx context.Context, rec queue.Record) (res Result) {
	res.RecordID = rec.ID
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic while processing record: %v", r)
		}
	}()

	msg, err := chat.Parse(rec.Body)
	if err != nil {
		res.Err = err
		return res
	}
	res.ResponseUUID = msg.ResponseUUID
	res.Err = b.proc.Process(ctx, msg)
	return res
}
