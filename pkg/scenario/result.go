// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

package scenario

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Result is the outcome of one scenario run.
type Result struct {
	RunID    ulid.ULID    `json:"run_id" yaml:"run_id"`
	Scenario string       `json:"scenario" yaml:"scenario"`
	Passed   bool         `json:"passed" yaml:"passed"`
	Started  time.Time    `json:"started" yaml:"started"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Steps    []StepResult `json:"steps" yaml:"steps"`
}

// StepResult is the outcome of one step.
type StepResult struct {
	Name     string        `json:"name" yaml:"name"`
	Kind     string        `json:"kind" yaml:"kind"`
	Status   int           `json:"status,omitempty" yaml:"status,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`

	// MatchedSeq is the journal position of the matched event for wait
	// steps, zero otherwise.
	MatchedSeq uint64 `json:"matched_seq,omitempty" yaml:"matched_seq,omitempty"`
}

// Failed reports whether the step failed.
func (s *StepResult) Failed() bool { return s.Error != "" }

func newResult(name string) *Result {
	return &Result{
		RunID:    ulid.Make(),
		Scenario: name,
		Passed:   true,
		Started:  time.Now(),
	}
}

func (r *Result) add(sr StepResult) {
	r.Steps = append(r.Steps, sr)
	if sr.Failed() {
		r.Passed = false
	}
}
