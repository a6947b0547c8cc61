// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

package dbprep

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Account is a credentialed user to seed, scoped to a tenant.
type Account struct {
	ID       ulid.ULID // zero value gets a fresh ULID
	TenantID string
	Email    string
	Password string
	Roles    []string
}

// SeederOption configures NewSeeder.
type SeederOption func(*Seeder)

// WithTable overrides the target table (default "accounts").
func WithTable(name string) SeederOption {
	return func(s *Seeder) { s.table = name }
}

// Seeder inserts test accounts with real password hashes, so seeded
// credentials work through the application's actual login path.
type Seeder struct {
	q      Querier
	hasher *Argon2idHasher
	table  string
}

// NewSeeder creates a seeder writing to q.
func NewSeeder(q Querier, opts ...SeederOption) *Seeder {
	s := &Seeder{
		q:      q,
		hasher: NewArgon2idHasher(),
		table:  "accounts",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Seed upserts the given accounts. Re-seeding an existing (tenant, email)
// pair replaces its password hash and roles, which keeps repeated suite
// runs idempotent.
func (s *Seeder) Seed(ctx context.Context, accounts ...Account) error {
	for _, a := range accounts {
		if a.Email == "" {
			return oops.Code("DBPREP_SEED_INVALID").Errorf("account email cannot be empty")
		}
		if a.TenantID == "" {
			return oops.Code("DBPREP_SEED_INVALID").
				With("email", a.Email).
				Errorf("account tenant cannot be empty")
		}

		id := a.ID
		if id.Compare(ulid.ULID{}) == 0 {
			id = ulid.Make()
		}

		hash, err := s.hasher.Hash(a.Password)
		if err != nil {
			return oops.Code("DBPREP_SEED_FAILED").With("email", a.Email).Wrap(err)
		}

		_, err = s.q.Exec(ctx,
			`INSERT INTO `+s.table+` (id, tenant_id, email, password_hash, roles, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (tenant_id, email)
			 DO UPDATE SET password_hash = EXCLUDED.password_hash, roles = EXCLUDED.roles`,
			id.String(),
			a.TenantID,
			a.Email,
			hash,
			a.Roles,
			time.Now().UTC(),
		)
		if err != nil {
			return oops.Code("DBPREP_SEED_FAILED").
				With("email", a.Email).
				With("tenant", a.TenantID).
				Wrap(err)
		}
	}
	return nil
}
