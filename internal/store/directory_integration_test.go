// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/wsrelay/wsrelay/internal/store"
	"github.com/wsrelay/wsrelay/internal/tenant"
)

var _ = Describe("PostgresDirectory", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		connStr   string
		pool      *pgxpool.Pool
		dir       *store.PostgresDirectory
	)

	BeforeAll(func() {
		ctx = context.Background()

		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("wsrelay_test"),
			postgres.WithUsername("wsrelay"),
			postgres.WithPassword("wsrelay"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = container.Terminate(ctx) })

		connStr, err = container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		m, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Up()).To(Succeed())
		Expect(m.Close()).To(Succeed())

		pool, err = store.Connect(ctx, connStr)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(pool.Close)

		_, err = pool.Exec(ctx, `INSERT INTO apps
			(id, key, secret, name, capacity, enable_client_messages, enable_statistics, allowed_origins)
			VALUES
			('1', 'key-1', 'secret-1', 'First', 50, TRUE, TRUE, '{"*.example.com"}'),
			('2', 'key-2', 'secret-2', NULL, NULL, FALSE, FALSE, '{}')`)
		Expect(err).NotTo(HaveOccurred())

		dir = store.NewPostgresDirectory(pool)
	})

	It("lists every app", func() {
		apps, err := dir.All(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(apps).To(HaveLen(2))
		Expect(apps[0].ID).To(Equal("1"))
		Expect(*apps[0].Capacity).To(Equal(50))
		Expect(apps[0].AllowedOrigins).To(Equal([]string{"*.example.com"}))
		Expect(apps[1].Name).To(BeEmpty())
		Expect(apps[1].Capacity).To(BeNil())
	})

	It("finds apps by key, id and secret", func() {
		byKey, err := dir.FindByKey(ctx, "key-2")
		Expect(err).NotTo(HaveOccurred())
		Expect(byKey.ID).To(Equal("2"))

		byID, err := dir.FindByID(ctx, "1")
		Expect(err).NotTo(HaveOccurred())
		Expect(byID.Key).To(Equal("key-1"))

		bySecret, err := dir.FindBySecret(ctx, "secret-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(bySecret.ID).To(Equal("1"))
	})

	It("reports unknown apps as not found", func() {
		_, err := dir.FindByKey(ctx, "nope")
		Expect(err).To(MatchError(tenant.ErrNotFound))
	})

	It("reports no pending migrations after Up", func() {
		m, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(m.Close)

		pending, err := m.Pending()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(BeEmpty())
	})
})
