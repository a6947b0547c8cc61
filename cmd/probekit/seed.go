// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

package main

import (
	"context"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/probekit/probekit/pkg/harness/dbprep"
)

// Default timeout for seed command.
const defaultSeedTimeout = 30 * time.Second

// seedFile is the YAML shape of an accounts file.
type seedFile struct {
	Table    string `yaml:"table"`
	Accounts []struct {
		Tenant   string   `yaml:"tenant"`
		Email    string   `yaml:"email"`
		Password string   `yaml:"password"`
		Roles    []string `yaml:"roles"`
	} `yaml:"accounts"`
}

// NewSeedCmd creates the seed subcommand.
func NewSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed test accounts into the database",
		Long: `Seed accounts from a YAML file with real password hashes, so seeded
credentials work through the application's actual login path.
This command is idempotent - re-seeding replaces hashes and roles.`,
		RunE: runSeedAccounts,
	}

	cmd.Flags().String("accounts", "accounts.yaml", "accounts YAML file")
	cmd.Flags().String("database-url", "", "database URL (defaults to DATABASE_URL)")
	cmd.Flags().Duration("timeout", defaultSeedTimeout, "timeout for database operations (e.g., 30s, 1m)")

	return cmd
}

func runSeedAccounts(cmd *cobra.Command, _ []string) error {
	accountsPath, _ := cmd.Flags().GetString("accounts")
	databaseURL, _ := cmd.Flags().GetString("database-url")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("--database-url or DATABASE_URL is required")
	}

	sf, err := loadSeedFile(accountsPath)
	if err != nil {
		return err
	}

	// Use cmd.Context() to respect SIGINT/SIGTERM signals
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	cmd.Println("Connecting to database...")
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return oops.Code("DBPREP_CONNECT_FAILED").Wrap(err)
	}
	defer pool.Close()

	var opts []dbprep.SeederOption
	if sf.Table != "" {
		opts = append(opts, dbprep.WithTable(sf.Table))
	}
	seeder := dbprep.NewSeeder(pool, opts...)

	accounts := make([]dbprep.Account, 0, len(sf.Accounts))
	for _, a := range sf.Accounts {
		accounts = append(accounts, dbprep.Account{
			TenantID: a.Tenant,
			Email:    a.Email,
			Password: a.Password,
			Roles:    a.Roles,
		})
	}

	if err := seeder.Seed(ctx, accounts...); err != nil {
		return err
	}

	cmd.Printf("Seeded %d accounts\n", len(accounts))
	return nil
}

func loadSeedFile(path string) (*seedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.Code("DBPREP_SEED_INVALID").With("path", path).Wrap(err)
	}
	var sf seedFile
	if err := yaml.Unmarshal(raw, &sf); err != nil {
		return nil, oops.Code("DBPREP_SEED_INVALID").With("path", path).Wrap(err)
	}
	if len(sf.Accounts) == 0 {
		return nil, oops.Code("DBPREP_SEED_INVALID").
			With("path", path).
			Errorf("accounts file has no accounts")
	}
	return &sf, nil
}
