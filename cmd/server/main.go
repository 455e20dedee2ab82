// Package main is the entry point for the long-running agent gateway.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oremus-labs/agent-dispatch/config"
	"github.com/oremus-labs/agent-dispatch/internal/app"
	"github.com/oremus-labs/agent-dispatch/internal/logutil"
)

const (
	version         = "0.1.0"
	shutdownTimeout = 5 * time.Second
)

func main() {
	cfg := config.Load()
	log := logutil.Must(cfg.Debug)
	defer func() { _ = log.Sync() }()
	log.Infow("Starting agent gateway", "version", version, "port", cfg.ServerPort, "dev_mode", cfg.DevMode, "queue_backend", cfg.ResolvedQueueBackend())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log, app.Options{})
	if err != nil {
		log.Fatalw("Failed to initialize gateway", "error", err)
	}
	defer a.Close()

	srv := a.Server.HTTPServer(":" + cfg.ServerPort)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infow("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Infow("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return watchReload(gctx, a)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorw("Server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Infow("Server stopped")
}

// watchReload re-reads the environment on SIGHUP and applies the new default
// stream destination.
func watchReload(ctx context.Context, a *app.App) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			a.Reload(config.Load())
		}
	}
}
