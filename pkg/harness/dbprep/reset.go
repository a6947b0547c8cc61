// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

package dbprep

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

// Querier is the subset of pgxpool.Pool the package needs. pgxmock
// satisfies it in unit tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ResetOptions configures Reset.
type ResetOptions struct {
	// Schema defaults to "public".
	Schema string

	// Exclude lists tables to leave untouched. The golang-migrate
	// bookkeeping table is always excluded.
	Exclude []string
}

// migrationsTable is golang-migrate's bookkeeping table; truncating it
// would desync the migrator from the actual schema.
const migrationsTable = "schema_migrations"

// Reset truncates every table in the schema (except exclusions) with
// RESTART IDENTITY CASCADE, giving each test a clean database without
// re-running migrations. A table dropped between listing and truncation
// is tolerated and triggers one re-listing pass.
func Reset(ctx context.Context, q Querier, opts ResetOptions) error {
	if opts.Schema == "" {
		opts.Schema = "public"
	}

	excluded := make(map[string]struct{}, len(opts.Exclude)+1)
	excluded[migrationsTable] = struct{}{}
	for _, t := range opts.Exclude {
		excluded[t] = struct{}{}
	}

	retried := false
	for {
		tables, err := listTables(ctx, q, opts.Schema, excluded)
		if err != nil {
			return err
		}
		if len(tables) == 0 {
			return nil
		}

		err = truncate(ctx, q, tables)
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable && !retried {
			retried = true
			continue
		}
		return oops.Code("DBPREP_RESET_FAILED").
			With("schema", opts.Schema).
			With("tables", len(tables)).
			Wrap(err)
	}
}

func listTables(ctx context.Context, q Querier, schema string, excluded map[string]struct{}) ([]string, error) {
	rows, err := q.Query(ctx,
		`SELECT tablename FROM pg_tables WHERE schemaname = $1 ORDER BY tablename`,
		schema)
	if err != nil {
		return nil, oops.Code("DBPREP_LIST_TABLES_FAILED").With("schema", schema).Wrap(err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, oops.Code("DBPREP_LIST_TABLES_FAILED").Wrap(err)
		}
		if _, skip := excluded[name]; skip {
			continue
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("DBPREP_LIST_TABLES_FAILED").Wrap(err)
	}
	return tables, nil
}

func truncate(ctx context.Context, q Querier, tables []string) error {
	quoted := make([]string, len(tables))
	for i, t := range tables {
		quoted[i] = pgx.Identifier{t}.Sanitize()
	}
	_, err := q.Exec(ctx,
		"TRUNCATE TABLE "+strings.Join(quoted, ", ")+" RESTART IDENTITY CASCADE")
	return err
}
