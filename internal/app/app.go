// Package app wires the runtime graph shared by the server, worker, Lambda
// and CLI simulator binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/oremus-labs/agent-dispatch/config"
	"github.com/oremus-labs/agent-dispatch/internal/agent"
	"github.com/oremus-labs/agent-dispatch/internal/api"
	"github.com/oremus-labs/agent-dispatch/internal/dispatch"
	"github.com/oremus-labs/agent-dispatch/internal/events"
	"github.com/oremus-labs/agent-dispatch/internal/handlers"
	"github.com/oremus-labs/agent-dispatch/internal/logutil"
	"github.com/oremus-labs/agent-dispatch/internal/profile"
	"github.com/oremus-labs/agent-dispatch/internal/queue"
	"github.com/oremus-labs/agent-dispatch/internal/redisx"
	"github.com/oremus-labs/agent-dispatch/internal/scheduled"
	"github.com/oremus-labs/agent-dispatch/internal/sink"
	"github.com/oremus-labs/agent-dispatch/internal/store"
	"github.com/oremus-labs/agent-dispatch/internal/worker"
)

// Options adjust how the graph is built.
type Options struct {
	// ForceDevMode streams over the event bus regardless of ORCA_DEV_MODE.
	ForceDevMode bool
	// DisableQueue makes send_message always await the processor.
	DisableQueue bool
	// Source replaces the configured text source.
	Source agent.Source
}

// reconfigurable is implemented by every sink through sink.Defaults.
type reconfigurable interface {
	sink.Publisher
	Reconfigure(url, token string)
}

// App is the wired runtime.
type App struct {
	Config     *config.Config
	Log        *zap.SugaredLogger
	Redis      redis.UniversalClient
	Bus        *events.Bus
	Sink       reconfigurable
	Ledger     store.Ledger
	Profile    profile.Profile
	Processor  *agent.Processor
	Enqueuer   queue.Enqueuer
	Handler    *handlers.Handler
	Server     *api.Server
	Batch      *worker.BatchProcessor
	Scheduled  *scheduled.Runner
	Dispatcher *dispatch.Dispatcher
}

// Build wires every component from cfg.
func Build(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger, opts Options) (*App, error) {
	log = logutil.OrNop(log)
	a := &App{Config: cfg, Log: log}

	rdb, err := redisx.NewClient(ctx, redisx.ConfigFrom(cfg))
	if err != nil {
		return nil, err
	}
	a.Redis = rdb

	a.Bus = events.NewBus(events.Options{Client: rdb, Logger: log.Named("events"), Channel: cfg.EventsChannel})

	devMode := cfg.DevMode || opts.ForceDevMode
	if devMode {
		a.Sink = sink.NewBusSink(a.Bus)
		log.Infow("Dev mode active; streaming over the event bus")
	} else {
		a.Sink = sink.NewClient(sink.Options{
			URL:     cfg.StreamURL,
			Token:   cfg.StreamToken,
			Timeout: cfg.StreamTimeout,
			Logger:  log.Named("sink"),
		})
	}

	a.Ledger, err = store.OpenLedger(cfg.DataStoreDriver, cfg.DataStoreDSN, cfg.ResponseLease)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open completion ledger: %w", err)
	}

	a.Profile, err = profile.Load(cfg.AgentProfilePath)
	if err != nil {
		a.Close()
		return nil, err
	}

	source := opts.Source
	if source == nil {
		source = agent.NewSource(a.Profile, cfg.OpenAIAPIKey, cfg.OpenAIModel)
	}
	a.Processor, err = agent.NewProcessor(agent.Options{
		Sink:          a.Sink,
		Source:        source,
		Ledger:        a.Ledger,
		ChunkInterval: cfg.StreamChunkInterval,
		Logger:        log.Named("agent"),
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	if !opts.DisableQueue {
		a.Enqueuer, err = queue.FromConfig(ctx, cfg, rdb)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	var bus *events.Bus
	if devMode {
		bus = a.Bus
	}
	a.Handler = handlers.New(a.Processor, a.Enqueuer, subscriberOrNil(bus), handlers.Options{Logger: log.Named("http")})
	if a.Enqueuer != nil {
		log.Infow("send_message offloads to queue", "backend", a.Enqueuer.Backend())
	}
	a.Server = api.NewServer(a.Handler, api.Options{Logger: log.Named("http"), DisableMetrics: cfg.IsLambda()})

	a.Batch = worker.NewBatchProcessor(a.Processor, log.Named("queue"))
	a.Scheduled = scheduled.New(scheduled.Options{
		Ledger:    a.Ledger,
		Retention: cfg.ResponseRetention,
		Logger:    log.Named("scheduled"),
	})
	a.Dispatcher, err = dispatch.New(dispatch.Options{
		Engine:    a.Server.Engine(),
		Batch:     a.Batch,
		Scheduled: a.Scheduled,
		Logger:    log.Named("dispatch"),
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// subscriberOrNil keeps a nil *events.Bus from becoming a non-nil interface.
func subscriberOrNil(bus *events.Bus) interface {
	Subscribe(ctx context.Context, channel string) (<-chan events.Event, func())
} {
	if bus == nil {
		return nil
	}
	return bus
}

// Reload applies a fresh configuration to the parts that support it: the
// default stream destination.
func (a *App) Reload(cfg *config.Config) {
	a.Sink.Reconfigure(cfg.StreamURL, cfg.StreamToken)
	a.Log.Infow("Default stream destination reconfigured", "stream_url", cfg.StreamURL)
}

// NewConsumer returns the Redis Streams consumer for the worker, or an
// error when Redis is not configured.
func (a *App) NewConsumer(name string) (*queue.Consumer, error) {
	if a.Redis == nil {
		return nil, errors.New("worker requires REDIS_ADDR")
	}
	return queue.NewConsumer(a.Redis, a.Config.RedisQueueStream, a.Config.RedisQueueGroup, name), nil
}

// Close releases the bus, ledger and Redis client.
func (a *App) Close() {
	if a.Bus != nil {
		a.Bus.Close()
	}
	if a.Ledger != nil {
		if err := a.Ledger.Close(); err != nil {
			a.Log.Warnw("Failed to close ledger", "error", err)
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
}
