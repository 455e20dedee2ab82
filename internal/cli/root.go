// Package cli implements agentctl, the operator CLI for the agent gateway.
package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL    string
	outputFormat string
	timeout      time.Duration
)

// Execute runs the CLI.
func Execute() error {
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agentctl",
		Short: "Drive and inspect the agent dispatch gateway",
		Long: `agentctl talks to a running agent gateway (send, tail, health) or runs the
whole dispatch pipeline in-process against sample HTTP, queue and scheduled
events (simulate).`,
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer(), "Gateway base URL")
	cmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table|json")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Request timeout")

	cmd.AddCommand(newHealthCmd())
	cmd.AddCommand(newSendCmd())
	cmd.AddCommand(newTailCmd())
	cmd.AddCommand(newSimulateCmd())
	return cmd
}

func defaultServer() string {
	if v := os.Getenv("AGENT_DISPATCH_SERVER"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func newClient() *Client {
	return &Client{BaseURL: serverURL, Timeout: timeout}
}

func jsonOutput() (bool, error) {
	switch strings.ToLower(outputFormat) {
	case "json":
		return true, nil
	case "table", "":
		return false, nil
	default:
		return false, fmt.Errorf("unsupported output format %q", outputFormat)
	}
}
