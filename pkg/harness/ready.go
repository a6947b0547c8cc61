// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

package harness

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Health is the payload a readiness endpoint returns. Only Status and
// Version are interpreted; anything else the service reports is kept in
// Raw for tests that want to assert on it.
type Health struct {
	Status  string
	Version string
	Raw     map[string]any
}

// ReadyOptions tunes WaitReady.
type ReadyOptions struct {
	// Initial and Max bound the polling backoff.
	Initial time.Duration
	Max     time.Duration
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (o ReadyOptions) withDefaults() ReadyOptions {
	if o.Initial == 0 {
		o.Initial = 100 * time.Millisecond
	}
	if o.Max == 0 {
		o.Max = 2 * time.Second
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// WaitReady polls an HTTP health endpoint until it answers 200 with a
// non-failing status, or ctx expires. The deadline comes from ctx.
func WaitReady(ctx context.Context, healthURL string, opts ReadyOptions) (*Health, error) {
	o := opts.withDefaults()

	b := retry.NewExponential(o.Initial)
	b = retry.WithCappedDuration(o.Max, b)

	var health *Health
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		h, err := fetchHealth(ctx, o.HTTPClient, healthURL)
		if err != nil {
			o.Logger.Debug("health check not ready", "url", healthURL, "error", err)
			return retry.RetryableError(err)
		}
		health = h
		return nil
	})
	if err != nil {
		return nil, oops.Code("HARNESS_NOT_READY").
			With("url", healthURL).
			Wrapf(err, "service did not become ready")
	}
	return health, nil
}

func fetchHealth(ctx context.Context, hc *http.Client, healthURL string) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, oops.Code("HARNESS_HEALTH_STATUS").
			With("status", resp.StatusCode).
			Errorf("health endpoint returned %d", resp.StatusCode)
	}

	h := &Health{Raw: map[string]any{}}
	// A body is optional; a bare 200 counts as healthy.
	if len(body) > 0 {
		_ = json.Unmarshal(body, &h.Raw) //nolint:errcheck // non-JSON health bodies are tolerated
	}
	if s, ok := h.Raw["status"].(string); ok {
		h.Status = s
	}
	if v, ok := h.Raw["version"].(string); ok {
		h.Version = v
	}

	switch strings.ToLower(h.Status) {
	case "", "ok", "healthy", "pass", "up":
		return h, nil
	default:
		return nil, oops.Code("HARNESS_HEALTH_STATUS").
			With("health_status", h.Status).
			Errorf("health endpoint reports %q", h.Status)
	}
}

// CheckVersion validates a reported service version against a semver
// constraint such as ">= 2.3.0" or "~1.4".
func CheckVersion(version, constraint string) error {
	if version == "" {
		return oops.Code("HARNESS_VERSION_MISSING").
			With("constraint", constraint).
			Errorf("health payload reports no version")
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return oops.Code("HARNESS_BAD_CONSTRAINT").With("constraint", constraint).Wrap(err)
	}
	v, err := semver.NewVersion(strings.TrimPrefix(version, "v"))
	if err != nil {
		return oops.Code("HARNESS_BAD_VERSION").With("version", version).Wrap(err)
	}
	if !c.Check(v) {
		return oops.Code("HARNESS_VERSION_MISMATCH").
			With("version", version).
			With("constraint", constraint).
			Errorf("service version %s does not satisfy %s", version, constraint)
	}
	return nil
}

// WaitReadyGRPC performs a gRPC health v1 check against addr and succeeds
// once the server reports SERVING.
func WaitReadyGRPC(ctx context.Context, addr string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return oops.Code("HARNESS_GRPC_DIAL_FAILED").With("addr", addr).Wrap(err)
	}
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	b := retry.WithCappedDuration(2*time.Second, retry.NewExponential(100*time.Millisecond))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
		if err != nil {
			return retry.RetryableError(err)
		}
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			return retry.RetryableError(oops.Code("HARNESS_GRPC_NOT_SERVING").
				With("status", resp.GetStatus().String()).
				Errorf("grpc health reports %s", resp.GetStatus()))
		}
		return nil
	})
	if err != nil {
		return oops.Code("HARNESS_NOT_READY").With("addr", addr).Wrap(err)
	}
	return nil
}
