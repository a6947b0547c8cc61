// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/probekit/probekit/internal/metrics"
	"github.com/probekit/probekit/internal/xdg"
	"github.com/probekit/probekit/pkg/apiclient"
	"github.com/probekit/probekit/pkg/eventwait"
	"github.com/probekit/probekit/pkg/schemacheck"
	"github.com/probekit/probekit/pkg/scenario"
	"github.com/probekit/probekit/pkg/sse"
)

// NewRunCmd creates the run subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run scenario files against a service",
		Long: `Load YAML scenarios from a directory and execute them against the
target service. Wait steps attach to the service's event stream before
their paired requests fire, so early events are never missed.`,
		RunE: runScenarios,
	}

	cmd.Flags().String("base-url", "", "service base URL (required)")
	cmd.Flags().String("events-url", "", "SSE event stream URL (required for wait steps)")
	cmd.Flags().String("tenant", "", "default tenant id")
	cmd.Flags().String("tenant-header", "", "tenant header name")
	cmd.Flags().String("token", "", "bearer token")
	cmd.Flags().String("scenarios", "scenarios", "scenario directory")
	cmd.Flags().String("schemas", "", "response schema directory")
	cmd.Flags().String("output", "", "write YAML results to file instead of stdout")
	cmd.Flags().String("metrics-addr", "", "expose step and wait-latency metrics on this address")

	return cmd
}

func runScenarios(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if cfg.BaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("base_url is required")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scenarios, err := scenario.LoadDir(cfg.Scenarios)
	if err != nil {
		return err
	}
	if len(scenarios) == 0 {
		return oops.Code("SCENARIO_LOAD_FAILED").
			With("dir", cfg.Scenarios).
			Errorf("no scenario files found")
	}

	runner, cleanup, err := buildRunner(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, nil)
		if _, err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Stop(shutdownCtx)
		}()
		runner.Observer = srv.Metrics()
	}

	results := make([]*scenario.Result, 0, len(scenarios))
	failed := 0
	for _, sc := range scenarios {
		res, err := runner.Run(ctx, sc)
		if err != nil {
			return err
		}
		results = append(results, res)
		if !res.Passed {
			failed++
		}
	}

	if err := writeResults(cfg.Output, results); err != nil {
		return err
	}
	if failed > 0 {
		return oops.Code("SCENARIO_RUN_FAILED").
			With("failed", failed).
			With("total", len(results)).
			Errorf("%d of %d scenarios failed", failed, len(results))
	}

	slog.Info("all scenarios passed", "total", len(results))
	return nil
}

// buildRunner assembles the client, event listener, and schema registry.
// The returned cleanup closes the stream and listener.
func buildRunner(ctx context.Context, cfg *Config) (*scenario.Runner, func(), error) {
	clientOpts := []apiclient.Option{}
	if cfg.Token != "" {
		clientOpts = append(clientOpts, apiclient.WithTokenSource(apiclient.StaticToken(cfg.Token)))
	}
	if cfg.TenantHeader != "" {
		clientOpts = append(clientOpts, apiclient.WithTenantHeader(cfg.TenantHeader))
	}

	client, err := apiclient.New(cfg.BaseURL, clientOpts...)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Tenant != "" {
		client = client.WithTenant(cfg.Tenant)
	}

	runner := &scenario.Runner{Client: client}
	cleanup := func() {}

	if cfg.EventsURL != "" {
		stream, err := sse.Dial(ctx, cfg.EventsURL)
		if err != nil {
			return nil, nil, err
		}
		listener, err := eventwait.Listen(ctx, stream)
		if err != nil {
			stream.Close()
			return nil, nil, err
		}
		runner.Listener = listener
		cleanup = func() {
			listener.Close()
			stream.Close()
		}
	}

	if cfg.Schemas != "" {
		reg, err := schemacheck.Load(os.DirFS(cfg.Schemas), ".")
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		runner.Schemas = reg
	}

	return runner, cleanup, nil
}

func writeResults(path string, results []*scenario.Result) error {
	data, err := yaml.Marshal(results)
	if err != nil {
		return oops.Code("SCENARIO_RUN_FAILED").Wrapf(err, "marshal results")
	}
	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
		return oops.Code("SCENARIO_RUN_FAILED").With("path", path).Wrap(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return oops.Code("SCENARIO_RUN_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
