// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/probekit/probekit/internal/metrics"
	"github.com/probekit/probekit/pkg/sse"
)

// NewWatchCmd creates the watch subcommand.
func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Tail an event stream and export metrics",
		Long: `Attach to an SSE stream, print events as they arrive, and expose
Prometheus metrics about event rates, gaps, and reconnects. Intended for
soak runs where a suite observes a service for hours.`,
		RunE: runWatch,
	}

	cmd.Flags().String("events-url", "", "SSE event stream URL (required)")
	cmd.Flags().String("metrics-addr", "127.0.0.1:9290", "metrics listen address (empty to disable)")

	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	eventsURL, _ := cmd.Flags().GetString("events-url")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	if eventsURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("--events-url is required")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var attached atomic.Bool
	var m *metrics.Metrics

	if metricsAddr != "" {
		srv := metrics.NewServer(metricsAddr, attached.Load)
		if _, err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Stop(shutdownCtx)
		}()
		m = srv.Metrics()
	}

	stream, err := sse.Dial(ctx, eventsURL)
	if err != nil {
		return err
	}
	defer stream.Close()
	attached.Store(true)

	slog.Info("watching event stream", "url", eventsURL)

	for ev := range stream.Events() {
		if m != nil {
			m.ObserveEvent(ev.Type, ev.Gap)
		}
		if ev.Gap {
			if m != nil {
				m.ObserveReconnect()
			}
			slog.Warn("stream reconnected, events may have been missed", "last_event_id", ev.ID)
			continue
		}
		line, _ := json.Marshal(map[string]any{
			"id":   ev.ID,
			"type": ev.Type,
			"data": json.RawMessage(normalizeData(ev.Data)),
		})
		cmd.Println(string(line))
	}

	if err := stream.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
