// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

package scenario

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probekit/probekit/pkg/errutil"
)

func requestStep(name string) Step {
	return Step{Name: name, Request: &RequestStep{Method: "GET", Path: "/"}}
}

func TestScenario_Validate(t *testing.T) {
	tests := []struct {
		name     string
		scenario Scenario
		wantErr  bool
	}{
		{
			name:     "minimal valid",
			scenario: Scenario{Name: "s", Steps: []Step{requestStep("get")}},
		},
		{
			name:     "missing name",
			scenario: Scenario{Steps: []Step{requestStep("get")}},
			wantErr:  true,
		},
		{
			name:     "no steps",
			scenario: Scenario{Name: "s"},
			wantErr:  true,
		},
		{
			name:     "empty step",
			scenario: Scenario{Name: "s", Steps: []Step{{Name: "nothing"}}},
			wantErr:  true,
		},
		{
			name: "assert mixed with request",
			scenario: Scenario{Name: "s", Steps: []Step{{
				Name:    "mixed",
				Request: &RequestStep{Method: "GET", Path: "/"},
				Assert:  &AssertStep{Saved: "x", Exists: true},
			}}},
			wantErr: true,
		},
		{
			name: "request without method",
			scenario: Scenario{Name: "s", Steps: []Step{{
				Name:    "bad",
				Request: &RequestStep{Path: "/"},
			}}},
			wantErr: true,
		},
		{
			name: "wait without filter",
			scenario: Scenario{Name: "s", Steps: []Step{{
				Name: "bad",
				Wait: &WaitStep{},
			}}},
			wantErr: true,
		},
		{
			name: "wait with bad timeout",
			scenario: Scenario{Name: "s", Steps: []Step{{
				Name: "bad",
				Wait: &WaitStep{Filter: `type == "x"`, Timeout: "soon"},
			}}},
			wantErr: true,
		},
		{
			name: "assert without saved path",
			scenario: Scenario{Name: "s", Steps: []Step{{
				Name:   "bad",
				Assert: &AssertStep{Exists: true},
			}}},
			wantErr: true,
		},
		{
			name: "invalid setup step",
			scenario: Scenario{
				Name:  "s",
				Setup: []Step{{Name: "nothing"}},
				Steps: []Step{requestStep("get")},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.scenario.Validate()
			if tt.wantErr {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, "SCENARIO_INVALID")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStep_Kind(t *testing.T) {
	req := &RequestStep{Method: "GET", Path: "/"}
	wait := &WaitStep{Filter: `type == "x"`}

	assert.Equal(t, "request", (&Step{Request: req}).Kind())
	assert.Equal(t, "wait", (&Step{Wait: wait}).Kind())
	assert.Equal(t, "request+wait", (&Step{Request: req, Wait: wait}).Kind())
	assert.Equal(t, "assert", (&Step{Assert: &AssertStep{Saved: "x"}}).Kind())
	assert.Equal(t, "empty", (&Step{}).Kind())
}

func TestWaitStep_TimeoutDuration(t *testing.T) {
	w := &WaitStep{Filter: `type == "x"`}
	d, err := w.TimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, d, "empty timeout falls back to the default")

	w.Timeout = "250ms"
	d, err = w.TimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	w.Timeout = "eventually"
	_, err = w.TimeoutDuration()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "SCENARIO_BAD_TIMEOUT")
}
