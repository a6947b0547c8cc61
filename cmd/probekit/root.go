// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/probekit/probekit/internal/logging"
)

// Global flags available to all subcommands.
var (
	configFile string
	logFormat  string
	logLevel   string
)

// NewRootCmd creates the root command for the probekit CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probekit",
		Short: "Probekit - integration test harness for event-driven services",
		Long: `Probekit runs declarative regression scenarios against HTTP services,
synchronizing requests with server-sent event streams so tests never
race the events they wait for.`,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logging.SetDefault("probekit", cmd.Root().Version, logFormat, parseLevel(logLevel))
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (json or text)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	// Add subcommands
	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewReadyCmd())
	cmd.AddCommand(NewWaitCmd())
	cmd.AddCommand(NewWatchCmd())
	cmd.AddCommand(NewValidateCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSeedCmd())
	cmd.AddCommand(NewGenSchemaCmd())

	return cmd
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
