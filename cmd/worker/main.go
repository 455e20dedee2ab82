// Package main bootstraps the background worker that consumes the Redis
// Streams offload queue and runs scheduled maintenance.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oremus-labs/agent-dispatch/config"
	"github.com/oremus-labs/agent-dispatch/internal/app"
	"github.com/oremus-labs/agent-dispatch/internal/logutil"
	"github.com/oremus-labs/agent-dispatch/internal/worker"
)

const workerVersion = "0.1.0"

func main() {
	cfg := config.Load()
	log := logutil.Must(cfg.Debug)
	defer func() { _ = log.Sync() }()
	log.Infow("Starting agent worker",
		"version", workerVersion,
		"redis_addr", cfg.RedisAddr,
		"stream", cfg.RedisQueueStream,
		"group", cfg.RedisQueueGroup,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log, app.Options{DisableQueue: true})
	if err != nil {
		log.Fatalw("worker: failed to initialize", "error", err)
	}
	defer a.Close()

	host, _ := os.Hostname()
	consumer, err := a.NewConsumer(fmt.Sprintf("%s-%d", host, time.Now().UnixNano()))
	if err != nil {
		log.Fatalw("worker: no queue to consume", "error", err)
	}

	runner := worker.New(worker.Options{
		Consumer:  consumer,
		Batch:     a.Batch,
		Logger:    log.Named("worker"),
		BatchSize: cfg.QueueBatchSize,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error { return a.Scheduled.Loop(gctx, cfg.ScheduleInterval) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorw("worker stopped", "error", err)
		os.Exit(1)
	}
	log.Infow("worker exited cleanly")
}
