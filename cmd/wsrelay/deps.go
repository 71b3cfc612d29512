// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

package main

import (
	"context"

	"github.com/wsrelay/wsrelay/internal/config"
	"github.com/wsrelay/wsrelay/internal/observability"
	"github.com/wsrelay/wsrelay/internal/store"
	"github.com/wsrelay/wsrelay/internal/tenant"
)

// ServeDeps contains injectable dependencies for the serve command.
// Nil fields use their default implementations.
type ServeDeps struct {
	// DirectoryFactory opens the app directory for cfg. The returned
	// function releases it.
	// Default: openDirectory
	DirectoryFactory func(ctx context.Context, cfg *config.Config) (tenant.Directory, func(), error)

	// MigratorFactory creates a migrator for automatic migrations.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (Migrator, error)

	// ObservabilityServerFactory creates the metrics and health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker) ObservabilityServer
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.DirectoryFactory == nil {
		out.DirectoryFactory = openDirectory
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = newStoreMigrator
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, ready)
		}
	}
	return &out
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Pending() ([]uint, error)
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

func newStoreMigrator(url string) (Migrator, error) {
	m, err := store.NewMigrator(url)
	if err != nil {
		return nil, err //nolint:wrapcheck // already coded
	}
	return m, nil
}

// openDirectory returns the PostgreSQL directory when a database is
// configured, and the config file app list otherwise.
func openDirectory(ctx context.Context, cfg *config.Config) (tenant.Directory, func(), error) {
	if !cfg.UsesDatabase() {
		dir, err := tenant.NewStaticDirectory(cfg.Apps)
		if err != nil {
			return nil, nil, err //nolint:wrapcheck // already coded
		}
		return dir, func() {}, nil
	}

	pool, err := store.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck // already coded
	}
	return store.NewPostgresDirectory(pool), pool.Close, nil
}
