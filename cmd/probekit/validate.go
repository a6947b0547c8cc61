// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

package main

import (
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/probekit/probekit/pkg/scenario"
)

// NewValidateCmd creates the validate subcommand.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate scenario files without running them",
		Long: `Check scenario files against the scenario schema and structural rules.
Catches typos in key names and malformed filter expressions before a run.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	failed := 0
	for _, path := range args {
		if err := validateFile(path); err != nil {
			failed++
			cmd.PrintErrf("%s: %v\n", path, err)
			continue
		}
		cmd.Printf("%s: ok\n", path)
	}
	if failed > 0 {
		return oops.Code("SCENARIO_INVALID").
			With("failed", failed).
			Errorf("%d of %d files failed validation", failed, len(args))
	}
	return nil
}

func validateFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return oops.Code("SCENARIO_LOAD_FAILED").With("path", path).Wrap(err)
	}
	if err := scenario.CheckSchema(raw); err != nil {
		return err
	}
	// Load re-parses and applies the structural checks the schema can't
	// express (filter syntax, timeout formats, step exclusivity).
	_, err = scenario.Load(path)
	return err
}
