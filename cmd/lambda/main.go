// Package main is the AWS Lambda entry point. One function serves HTTP
// (API Gateway or function URL), SQS batches and scheduled events.
package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/oremus-labs/agent-dispatch/config"
	"github.com/oremus-labs/agent-dispatch/internal/app"
	"github.com/oremus-labs/agent-dispatch/internal/logutil"
)

func main() {
	cfg := config.Load()
	log := logutil.Must(cfg.Debug)
	defer func() { _ = log.Sync() }()

	a, err := app.Build(context.Background(), cfg, log, app.Options{})
	if err != nil {
		log.Fatalw("Failed to initialize Lambda handler", "error", err)
	}
	defer a.Close()

	log.Infow("Lambda handler ready", "function", cfg.LambdaFunctionName, "queue_backend", cfg.ResolvedQueueBackend())
	lambda.Start(a.Dispatcher.Handle)
}
