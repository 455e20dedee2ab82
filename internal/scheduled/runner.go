// Package scheduled runs periodic maintenance: today that is pruning old
// completion records.
package scheduled

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/oremus-labs/agent-dispatch/internal/logutil"
)

// Event is a scheduler tick.
type Event struct {
	ID         string
	Source     string
	DetailType string
	Time       time.Time
}

// Summary reports what one maintenance run did.
type Summary struct {
	Pruned int64 `json:"pruned"`
}

type pruner interface {
	PruneResponses(ctx context.Context, cutoff time.Time) (int64, error)
}

// Options configure a Runner.
type Options struct {
	Ledger    pruner
	Retention time.Duration
	Logger    *zap.SugaredLogger
	Now       func() time.Time
}

// Runner performs maintenance on each tick.
type Runner struct {
	ledger    pruner
	retention time.Duration
	log       *zap.SugaredLogger
	now       func() time.Time
}

// New creates a Runner. Ledger may be nil, in which case ticks only log.
func New(opts Options) *Runner {
	retention := opts.Retention
	if retention <= 0 {
		retention = 72 * time.Hour
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		ledger:    opts.Ledger,
		retention: retention,
		log:       logutil.OrNop(opts.Logger),
		now:       now,
	}
}

// Run performs one maintenance pass.
func (r *Runner) Run(ctx context.Context, evt Event) (Summary, error) {
	log := r.log.With("event_id", evt.ID, "source", evt.Source, "detail_type", evt.DetailType)
	log.Infow("Scheduled task triggered")

	var summary Summary
	if r.ledger == nil {
		return summary, nil
	}
	cutoff := r.now().Add(-r.retention)
	pruned, err := r.ledger.PruneResponses(ctx, cutoff)
	if err != nil {
		log.Errorw("Failed to prune completion records", "error", err)
		return summary, err
	}
	summary.Pruned = pruned
	log.Infow("Scheduled task finished", "pruned", pruned, "cutoff", cutoff)
	return summary, nil
}

// Loop calls Run every interval until ctx is cancelled. Failures are logged.
func (r *Runner) Loop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-ticker.C:
			_, _ = r.Run(ctx, Event{Source: "ticker", DetailType: "Scheduled Event", Time: t})
		}
	}
}
