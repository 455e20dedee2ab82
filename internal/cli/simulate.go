package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/oremus-labs/agent-dispatch/config"
	"github.com/oremus-labs/agent-dispatch/internal/agent"
	"github.com/oremus-labs/agent-dispatch/internal/app"
	"github.com/oremus-labs/agent-dispatch/internal/chat"
	"github.com/oremus-labs/agent-dispatch/internal/dispatch"
	"github.com/oremus-labs/agent-dispatch/internal/logutil"
)

// Simulated flows.
const (
	FlowHTTP  = "http"
	FlowQueue = "queue"
	FlowCron  = "cron"
)

type simulateOptions struct {
	message string
	flows   []string
	offload bool
	source  agent.Source
}

func newSimulateCmd() *cobra.Command {
	opts := &simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run HTTP, queue and cron sample events through the dispatcher in-process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd.Context(), cmd.OutOrStdout(), config.Load(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.message, "message", "m", "Analyze my site, it's about AI research.", "Message to send")
	cmd.Flags().StringSliceVar(&opts.flows, "flows", []string{FlowHTTP, FlowQueue, FlowCron}, "Flows to simulate")
	cmd.Flags().BoolVar(&opts.offload, "offload", false, "Keep the configured offload queue for the HTTP flow")
	return cmd
}

func runSimulate(ctx context.Context, w io.Writer, cfg *config.Config, opts *simulateOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out := &syncWriter{w: w}
	log := logutil.OrNop(nil)
	if cfg.Debug {
		debugLog, err := logutil.New(true)
		if err != nil {
			return err
		}
		log = debugLog
	}

	a, err := app.Build(ctx, cfg, log, app.Options{ForceDevMode: true, DisableQueue: !opts.offload, Source: opts.source})
	if err != nil {
		return err
	}
	defer a.Close()

	subCtx, stop := context.WithCancel(ctx)
	events, cancel := a.Bus.Subscribe(subCtx, "")
	var printer sync.WaitGroup
	printer.Add(1)
	go func() {
		defer printer.Done()
		for evt := range events {
			printEnvelope(out, evt.Type, evt.Data)
		}
	}()

	for _, flow := range opts.flows {
		raw, err := sampleEvent(strings.ToLower(strings.TrimSpace(flow)), opts.message)
		if err != nil {
			stop()
			cancel()
			printer.Wait()
			return err
		}
		fmt.Fprintf(out, "==> %s flow (%s)\n", flow, dispatch.Classify(raw))
		result, err := a.Dispatcher.Handle(ctx, raw)
		if err != nil {
			fmt.Fprintf(out, "<== %s error: %v\n", flow, err)
			continue
		}
		fmt.Fprintf(out, "<== %s result: %s\n", flow, describeResult(result))
	}

	stop()
	cancel()
	printer.Wait()
	return nil
}

func sampleEvent(flow, message string) (json.RawMessage, error) {
	body, err := json.Marshal(chat.Message{Message: message, ResponseUUID: uuid.NewString(), ThreadID: "simulate"})
	if err != nil {
		return nil, err
	}
	var evt interface{}
	switch flow {
	case FlowHTTP:
		evt = dispatch.SampleHTTPEvent("POST", "/api/v1/send_message", body)
	case FlowQueue:
		evt = dispatch.SampleQueueEvent(body)
	case FlowCron:
		evt = dispatch.SampleScheduledEvent()
	default:
		return nil, fmt.Errorf("unknown flow %q (want http, queue or cron)", flow)
	}
	return json.Marshal(evt)
}

func describeResult(result interface{}) string {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%+v", result)
	}
	var probe struct {
		StatusCode int    `json:"statusCode"`
		Body       string `json:"body"`
	}
	if err := json.Unmarshal(data, &probe); err == nil && probe.Body != "" {
		return fmt.Sprintf("%d %s", probe.StatusCode, probe.Body)
	}
	return string(data)
}
