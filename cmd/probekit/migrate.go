// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

package main

import (
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/probekit/probekit/pkg/harness/dbprep"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run SQL migrations against the test database",
		Long: `Run all pending SQL migrations from a directory against the database
named by --database-url or the DATABASE_URL environment variable.`,
		RunE: runMigrate,
	}

	cmd.Flags().String("dir", "migrations", "migration directory")
	cmd.Flags().String("database-url", "", "database URL (defaults to DATABASE_URL)")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	dir, _ := cmd.Flags().GetString("dir")
	databaseURL, _ := cmd.Flags().GetString("database-url")
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("--database-url or DATABASE_URL is required")
	}

	m, err := dbprep.NewMigrator(os.DirFS(dir), ".", databaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	cmd.Println("Running migrations...")
	if err := m.Up(); err != nil {
		return err
	}

	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	cmd.Printf("Migrations completed (version %d, dirty=%v)\n", version, dirty)
	return nil
}
