// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

//go:build integration

package integration

import (
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/probekit/probekit/pkg/harness/dbprep"
)

var _ = Describe("Database preparation", Ordered, func() {
	var migrator *dbprep.Migrator

	BeforeAll(func() {
		var err error
		migrator, err = dbprep.NewMigrator(migrations, ".", env.env.DSN())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		Expect(migrator.Close()).To(Succeed())
	})

	It("applies migrations", func() {
		Expect(migrator.Up()).To(Succeed())

		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(1)))
		Expect(dirty).To(BeFalse())
	})

	It("is a no-op when already migrated", func() {
		Expect(migrator.Up()).To(Succeed())
	})

	It("seeds accounts with verifiable credentials", func() {
		seeder := dbprep.NewSeeder(env.pool)
		Expect(seeder.Seed(env.ctx, dbprep.Account{
			TenantID: "acme",
			Email:    "alice@example.com",
			Password: "s3cret",
			Roles:    []string{"admin"},
		})).To(Succeed())

		var hash string
		err := env.pool.QueryRow(env.ctx,
			`SELECT password_hash FROM accounts WHERE tenant_id = $1 AND email = $2`,
			"acme", "alice@example.com").Scan(&hash)
		Expect(err).NotTo(HaveOccurred())

		ok, err := dbprep.NewArgon2idHasher().Verify("s3cret", hash)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue(), "seeded hash should verify through the real login path")
	})

	It("re-seeding the same account rotates the credentials", func() {
		seeder := dbprep.NewSeeder(env.pool)
		Expect(seeder.Seed(env.ctx, dbprep.Account{
			TenantID: "acme",
			Email:    "alice@example.com",
			Password: "rotated",
		})).To(Succeed())

		var count int
		err := env.pool.QueryRow(env.ctx,
			`SELECT count(*) FROM accounts WHERE email = $1`, "alice@example.com").Scan(&count)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(1))

		var hash string
		err = env.pool.QueryRow(env.ctx,
			`SELECT password_hash FROM accounts WHERE tenant_id = $1 AND email = $2`,
			"acme", "alice@example.com").Scan(&hash)
		Expect(err).NotTo(HaveOccurred())

		ok, err := dbprep.NewArgon2idHasher().Verify("rotated", hash)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("resets all tables but keeps the schema", func() {
		Expect(dbprep.Reset(env.ctx, env.pool, dbprep.ResetOptions{})).To(Succeed())

		var count int
		err := env.pool.QueryRow(env.ctx, `SELECT count(*) FROM accounts`).Scan(&count)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(BeZero())

		// The migrator's bookkeeping survives the reset.
		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(1)))
		Expect(dirty).To(BeFalse())
	})
})
