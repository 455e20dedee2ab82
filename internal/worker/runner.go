// Package worker consumes queued chat messages and drives them through the
// agent with per-record failure isolation.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/oremus-labs/agent-dispatch/internal/logutil"
	"github.com/oremus-labs/agent-dispatch/internal/queue"
)

type recordSource interface {
	EnsureGroup(ctx context.Context) error
	NextBatch(ctx context.Context, count int) ([]queue.Record, error)
	Ack(ctx context.Context, ids ...string) error
}

// Options configure the background worker process.
type Options struct {
	Consumer   recordSource
	Batch      *BatchProcessor
	Logger     *zap.SugaredLogger
	BatchSize  int
	RetryDelay time.Duration
}

// Runner reads batches from the stream and acknowledges every record after
// it has been processed, whatever the outcome.
type Runner struct {
	consumer   recordSource
	batch      *BatchProcessor
	log        *zap.SugaredLogger
	batchSize  int
	retryDelay time.Duration
}

// New creates a new Runner.
func New(opts Options) *Runner {
	size := opts.BatchSize
	if size <= 0 {
		size = 10
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	return &Runner{
		consumer:   opts.Consumer,
		batch:      opts.Batch,
		log:        logutil.OrNop(opts.Logger),
		batchSize:  size,
		retryDelay: delay,
	}
}

// Run consumes until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if r.consumer == nil || r.batch == nil {
		return errors.New("worker requires a consumer and a batch processor")
	}
	if err := r.consumer.EnsureGroup(ctx); err != nil {
		return err
	}
	r.log.Infow("Worker started, waiting for queued messages", "batch_size", r.batchSize)

	for {
		if err := ctx.Err(); err != nil {
			r.log.Infow("Worker shutting down")
			return err
		}
		records, err := r.consumer.NextBatch(ctx, r.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			r.log.Warnw("Failed to read queue batch", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(r.retryDelay):
			}
			continue
		}
		if len(records) == 0 {
			continue
		}
		r.handle(ctx, records)
	}
}

func (r *Runner) handle(ctx context.Context, records []queue.Record) BatchResult {
	result := r.batch.ProcessBatch(ctx, records)
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}
	if err := r.consumer.Ack(context.WithoutCancel(ctx), ids...); err != nil {
		r.log.Errorw("Failed to acknowledge batch", "error", err, "records", len(ids))
	}
	return result
}
