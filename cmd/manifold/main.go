// Package main is the entry point for the manifold client.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/manifoldchat/manifold/internal/app"
)

// Version information (set by goreleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var _ = []string{commit, date}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := app.Options{}

	cmd := &cobra.Command{
		Use:     "manifold",
		Short:   "Terminal client for the manifold message aggregator",
		Long:    "manifold keeps a consistent, ordered view of aggregated conversations:\nbackward pagination, optimistic sends and edits, and live backend pushes.",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.ConfigFile, "config", "c", "", "path to config file")
	flags.StringVar(&opts.BackendURL, "backend-url", "", "backend websocket endpoint (overrides config)")
	flags.StringVar(&opts.LogLevel, "log-level", "", "minimum log level (debug, info, warn, error)")
	flags.StringVar(&opts.LogFormat, "log-format", "", "log output format (json, console)")
	flags.StringVar(&opts.LogFile, "log-file", "", "write logs to this file instead of stderr")
	flags.StringVar(&opts.Theme, "theme", "", "color theme (default, high-contrast)")
	flags.StringVar(&opts.Conversation, "conversation", "", "open this conversation on startup")
	return cmd
}
