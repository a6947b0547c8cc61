// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

package main

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/probekit/probekit/pkg/scenario"
)

// NewGenSchemaCmd creates the gen-schema subcommand.
func NewGenSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gen-schema",
		Short: "Generate the scenario JSON Schema",
		Long:  `Generate the JSON Schema for scenario YAML files, for editor completion and CI validation.`,
		RunE:  runGenSchema,
	}

	cmd.Flags().StringP("output", "o", filepath.Join("schemas", "scenario.schema.json"), "output path")

	return cmd
}

func runGenSchema(cmd *cobra.Command, _ []string) error {
	outPath, _ := cmd.Flags().GetString("output")

	data, err := scenario.GenerateSchema()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
		return oops.With("path", outPath).Wrap(err)
	}
	if err := os.WriteFile(outPath, data, 0o600); err != nil {
		return oops.With("path", outPath).Wrap(err)
	}

	cmd.Printf("Generated %s\n", outPath)
	return nil
}
