// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/probekit/probekit/pkg/harness"
)

// NewReadyCmd creates the ready subcommand.
func NewReadyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ready",
		Short: "Wait until a service's health endpoint reports ready",
		Long: `Poll an HTTP health endpoint until it reports a healthy status, then
print the health payload as JSON. Optionally gate on a semver constraint
against the version the payload reports, or on a gRPC health check.`,
		RunE: runReady,
	}

	cmd.Flags().String("url", "", "health endpoint URL (required)")
	cmd.Flags().Duration("timeout", 60*time.Second, "how long to keep polling")
	cmd.Flags().String("version-constraint", "", `semver constraint for the reported version, e.g. ">= 2.3"`)
	cmd.Flags().String("grpc-addr", "", "also require a gRPC health v1 SERVING response from this address")

	return cmd
}

func runReady(cmd *cobra.Command, _ []string) error {
	url, _ := cmd.Flags().GetString("url")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	constraint, _ := cmd.Flags().GetString("version-constraint")
	grpcAddr, _ := cmd.Flags().GetString("grpc-addr")

	if url == "" {
		return oops.Code("CONFIG_INVALID").Errorf("--url is required")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	health, err := harness.WaitReady(ctx, url, harness.ReadyOptions{})
	if err != nil {
		return err
	}
	if constraint != "" {
		if err := harness.CheckVersion(health.Version, constraint); err != nil {
			return err
		}
	}
	if grpcAddr != "" {
		if err := harness.WaitReadyGRPC(ctx, grpcAddr); err != nil {
			return err
		}
	}

	out, err := json.Marshal(health.Raw)
	if err != nil {
		return oops.Wrap(err)
	}
	cmd.Println(string(out))
	return nil
}
