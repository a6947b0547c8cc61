// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

package main

import (
	"encoding/json"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/probekit/probekit/pkg/eventwait"
	"github.com/probekit/probekit/pkg/eventwait/filter"
	"github.com/probekit/probekit/pkg/sse"
)

// NewWaitCmd creates the wait subcommand.
func NewWaitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait for a matching event on a stream",
		Long: `Attach to an SSE stream and block until an event matching the filter
expression arrives, then print it as JSON. Useful in shell scripts that
need to synchronize on a service's events.`,
		RunE: runWait,
	}

	cmd.Flags().String("events-url", "", "SSE event stream URL (required)")
	cmd.Flags().String("filter", "", `filter expression, e.g. type == "OrderPlaced" (required)`)
	cmd.Flags().Duration("timeout", 30*time.Second, "how long to wait")
	cmd.Flags().Bool("require-no-gap", false, "fail if the stream reconnected while waiting")

	return cmd
}

func runWait(cmd *cobra.Command, _ []string) error {
	eventsURL, _ := cmd.Flags().GetString("events-url")
	expr, _ := cmd.Flags().GetString("filter")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	noGap, _ := cmd.Flags().GetBool("require-no-gap")

	if eventsURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("--events-url is required")
	}
	if expr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("--filter is required")
	}

	pred, err := filter.Compile(expr)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	stream, err := sse.Dial(ctx, eventsURL)
	if err != nil {
		return err
	}
	defer stream.Close()

	listener, err := eventwait.Listen(ctx, stream)
	if err != nil {
		return err
	}
	defer listener.Close()

	opts := []eventwait.WaitOption{eventwait.WithTimeout(timeout)}
	if noGap {
		opts = append(opts, eventwait.RequireNoGap())
	}

	result, err := listener.WaitFor(ctx, pred, opts...)
	if err != nil {
		return err
	}

	out, err := json.Marshal(map[string]any{
		"seq":    result.Entry.Seq,
		"id":     result.Entry.Event.ID,
		"type":   result.Entry.Event.Type,
		"data":   json.RawMessage(normalizeData(result.Entry.Event.Data)),
		"waited": result.Waited.String(),
	})
	if err != nil {
		return oops.Wrap(err)
	}
	cmd.Println(string(out))
	return nil
}

// normalizeData keeps JSON payloads as JSON and quotes everything else.
func normalizeData(data string) []byte {
	if json.Valid([]byte(data)) {
		return []byte(data)
	}
	quoted, _ := json.Marshal(data)
	return quoted
}
