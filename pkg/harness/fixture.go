// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

package harness

import (
	"context"
	"testing"
)

// Fixture starts an environment for a test and registers cleanup. The
// test fails immediately if the environment cannot come up.
func Fixture(t *testing.T, opts Options) *Env {
	t.Helper()

	ctx := context.Background()
	env, err := Start(ctx, opts)
	if err != nil {
		t.Fatalf("starting test environment: %v", err)
	}
	t.Cleanup(func() {
		if err := env.Stop(context.Background()); err != nil {
			t.Errorf("stopping test environment: %v", err)
		}
	})
	return env
}
