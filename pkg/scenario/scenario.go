// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

// Package scenario runs declarative YAML regression scenarios against a
// service: request steps with status and schema expectations, wait steps
// synchronized on the event stream, and assertions over saved responses.
package scenario

import (
	"time"

	"github.com/samber/oops"
)

// Scenario is one declarative regression case.
type Scenario struct {
	Name        string `koanf:"name" json:"name" jsonschema:"required"`
	Description string `koanf:"description" json:"description,omitempty"`

	// Tenant, when set, scopes every request to that tenant.
	Tenant string `koanf:"tenant" json:"tenant,omitempty"`

	// Setup steps run before the scenario proper; a setup failure aborts
	// the run as an error rather than a test failure.
	Setup []Step `koanf:"setup" json:"setup,omitempty"`
	Steps []Step `koanf:"steps" json:"steps" jsonschema:"required"`

	Hooks Hooks `koanf:"hooks" json:"hooks,omitempty"`
}

// Hooks are optional Lua snippets run around every step.
type Hooks struct {
	BeforeStep string `koanf:"before_step" json:"before_step,omitempty"`
	AfterStep  string `koanf:"after_step" json:"after_step,omitempty"`
}

// Step is one scenario step: a request, a wait, a request paired with a
// wait (executed race-free), or an assertion over saved values.
type Step struct {
	Name    string       `koanf:"name" json:"name"`
	Request *RequestStep `koanf:"request" json:"request,omitempty"`
	Wait    *WaitStep    `koanf:"wait" json:"wait,omitempty"`
	Assert  *AssertStep  `koanf:"assert" json:"assert,omitempty"`
}

// Kind names the step shape for reporting.
func (s *Step) Kind() string {
	switch {
	case s.Request != nil && s.Wait != nil:
		return "request+wait"
	case s.Request != nil:
		return "request"
	case s.Wait != nil:
		return "wait"
	case s.Assert != nil:
		return "assert"
	default:
		return "empty"
	}
}

// RequestStep is an HTTP call. Path and string body values support
// ${name.path} interpolation over previously saved responses.
type RequestStep struct {
	Method string         `koanf:"method" json:"method" jsonschema:"required"`
	Path   string         `koanf:"path" json:"path" jsonschema:"required"`
	Body   map[string]any `koanf:"body" json:"body,omitempty"`

	// ExpectStatus defaults to any 2xx.
	ExpectStatus int `koanf:"expect_status" json:"expect_status,omitempty"`

	// ExpectSchema names a schema in the runner's registry.
	ExpectSchema string `koanf:"expect_schema" json:"expect_schema,omitempty"`

	// SaveAs stores the decoded response for later interpolation and
	// assertions.
	SaveAs string `koanf:"save_as" json:"save_as,omitempty"`
}

// WaitStep waits for an event matching a filter expression.
type WaitStep struct {
	Filter string `koanf:"filter" json:"filter" jsonschema:"required"`

	// Timeout is a Go duration string, default "10s".
	Timeout string `koanf:"timeout" json:"timeout,omitempty"`

	RequireNoGap bool `koanf:"require_no_gap" json:"require_no_gap,omitempty"`
}

// TimeoutDuration parses the timeout, applying the default.
func (w *WaitStep) TimeoutDuration() (time.Duration, error) {
	if w.Timeout == "" {
		return 10 * time.Second, nil
	}
	d, err := time.ParseDuration(w.Timeout)
	if err != nil {
		return 0, oops.Code("SCENARIO_BAD_TIMEOUT").With("timeout", w.Timeout).Wrap(err)
	}
	return d, nil
}

// AssertStep compares a saved value against an expectation.
type AssertStep struct {
	// Saved is a dotted path rooted at a save_as name, e.g. "book.title".
	Saved  string `koanf:"saved" json:"saved" jsonschema:"required"`
	Equals any    `koanf:"equals" json:"equals,omitempty"`
	Exists bool   `koanf:"exists" json:"exists,omitempty"`
}

// Validate checks structural invariants before a run.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return oops.Code("SCENARIO_INVALID").Errorf("scenario name is required")
	}
	if len(s.Steps) == 0 {
		return oops.Code("SCENARIO_INVALID").With("scenario", s.Name).Errorf("scenario has no steps")
	}
	for i, group := range [][]Step{s.Setup, s.Steps} {
		section := "setup"
		if i == 1 {
			section = "steps"
		}
		for j, step := range group {
			if err := validateStep(&step); err != nil {
				return oops.With("scenario", s.Name).
					With("section", section).
					With("step", j).
					Wrap(err)
			}
		}
	}
	return nil
}

func validateStep(s *Step) error {
	if s.Request == nil && s.Wait == nil && s.Assert == nil {
		return oops.Code("SCENARIO_INVALID").Errorf("step %q does nothing", s.Name)
	}
	if s.Assert != nil && (s.Request != nil || s.Wait != nil) {
		return oops.Code("SCENARIO_INVALID").Errorf("step %q mixes assert with request/wait", s.Name)
	}
	if s.Request != nil {
		if s.Request.Method == "" || s.Request.Path == "" {
			return oops.Code("SCENARIO_INVALID").Errorf("step %q request needs method and path", s.Name)
		}
	}
	if s.Wait != nil {
		if s.Wait.Filter == "" {
			return oops.Code("SCENARIO_INVALID").Errorf("step %q wait needs a filter", s.Name)
		}
		if _, err := s.Wait.TimeoutDuration(); err != nil {
			return err
		}
	}
	if s.Assert != nil && s.Assert.Saved == "" {
		return oops.Code("SCENARIO_INVALID").Errorf("step %q assert needs a saved path", s.Name)
	}
	return nil
}
