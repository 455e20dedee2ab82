package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/oremus-labs/agent-dispatch/internal/chat"
	"github.com/oremus-labs/agent-dispatch/internal/sink"
)

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check gateway liveness",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]interface{}
			if err := newClient().GetJSON(cmd.Context(), "/api/v1/health", &resp); err != nil {
				return err
			}
			asJSON, err := jsonOutput()
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", serverURL, resp["status"])
			return nil
		},
	}
}

type sendOptions struct {
	message      string
	responseUUID string
	threadID     string
	channel      string
	model        string
	streamURL    string
	streamToken  string
	follow       bool
}

func newSendCmd() *cobra.Command {
	opts := &sendOptions{}
	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Post a message to /api/v1/send_message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.message = args[0]
			return runSend(cmd.Context(), cmd.OutOrStdout(), newClient(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.responseUUID, "response-uuid", "", "Correlation id (generated when empty)")
	cmd.Flags().StringVar(&opts.threadID, "thread", "", "Thread id")
	cmd.Flags().StringVar(&opts.channel, "channel", "", "Stream channel (defaults to the response id)")
	cmd.Flags().StringVar(&opts.model, "model", "", "Model override")
	cmd.Flags().StringVar(&opts.streamURL, "stream-url", "", "Per-request stream URL override")
	cmd.Flags().StringVar(&opts.streamToken, "stream-token", "", "Per-request stream token override")
	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Tail the dev-mode stream while sending")
	return cmd
}

func runSend(ctx context.Context, out io.Writer, client *Client, opts *sendOptions) error {
	if opts.responseUUID == "" {
		opts.responseUUID = uuid.NewString()
	}
	msg := chat.Message{
		Message:      opts.message,
		ResponseUUID: opts.responseUUID,
		ThreadID:     opts.threadID,
		Channel:      opts.channel,
		Model:        opts.model,
		StreamURL:    opts.streamURL,
		StreamToken:  opts.streamToken,
	}

	var tailDone chan error
	if opts.follow {
		ready := make(chan struct{})
		tailDone = make(chan error, 1)
		go func() {
			tailDone <- client.StreamChannel(ctx, msg.StreamChannel(), func(evt StreamEvent) bool {
				if evt.Type == "ready" {
					close(ready)
					return true
				}
				if evt.Type == "ping" {
					return true
				}
				printEnvelope(out, evt.Type, evt.Data)
				return evt.Type != sink.TypeComplete
			})
		}()
		select {
		case <-ready:
		case err := <-tailDone:
			return fmt.Errorf("open stream: %w", err)
		}
	}

	var resp struct {
		Status       string `json:"status"`
		ResponseUUID string `json:"response_uuid"`
	}
	if err := client.PostJSON(ctx, "/api/v1/send_message", msg, &resp); err != nil {
		return err
	}
	asJSON, err := jsonOutput()
	if err != nil {
		return err
	}
	if asJSON {
		if err := printJSON(out, resp); err != nil {
			return err
		}
	} else {
		tw := newTable(out)
		fmt.Fprintf(tw, "STATUS\tRESPONSE_UUID\n")
		fmt.Fprintf(tw, "%s\t%s\n", resp.Status, resp.ResponseUUID)
		flushTable(tw)
	}

	if tailDone != nil {
		return <-tailDone
	}
	return nil
}

func newTailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tail <channel>",
		Short: "Follow a dev-mode stream channel over SSE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return newClient().StreamChannel(cmd.Context(), args[0], func(evt StreamEvent) bool {
				switch evt.Type {
				case "ready":
					fmt.Fprintf(out, "listening on %s\n", args[0])
				case "ping":
				default:
					printEnvelope(out, evt.Type, evt.Data)
				}
				return true
			})
		},
	}
}
