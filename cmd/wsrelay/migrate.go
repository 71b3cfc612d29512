// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

package main

import (
	"log/slog"
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/wsrelay/wsrelay/internal/config"
)

// NewMigrateCmd creates the migrate command group.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the apps table schema",
		Long: `Apply or roll back the PostgreSQL schema used by the database app
directory. The database URL comes from --database-url, DATABASE_URL or the
config file.`,
	}

	run := func(fn func(*cobra.Command, Migrator, []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			return withMigrator(newLoader(cmd), newStoreMigrator, func(m Migrator) error {
				return fn(cmd, m, args)
			})
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE:  run(migrateUp),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration, dropping stored apps",
			RunE:  run(migrateDown),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the applied version and pending migrations",
			RunE:  run(migrateStatus),
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Record VERSION as applied without running it",
			Args:  cobra.ExactArgs(1),
			RunE:  run(migrateForce),
		},
	)
	return cmd
}

// withMigrator opens a migrator for the configured database, runs fn and
// closes it.
func withMigrator(loader *config.Loader, factory func(string) (Migrator, error), fn func(Migrator) error) error {
	cfg, err := loader.Load()
	if err != nil {
		return oops.With("operation", "load config").Wrap(err)
	}
	if !cfg.UsesDatabase() {
		return oops.Code("CONFIG_INVALID").Errorf("a database URL is required (--database-url or DATABASE_URL)")
	}

	m, err := factory(cfg.Database.URL)
	if err != nil {
		return oops.With("operation", "open migrator").Wrap(err)
	}
	defer func() {
		if err := m.Close(); err != nil {
			slog.Warn("failed to close migrator", "error", err)
		}
	}()
	return fn(m)
}

func migrateUp(cmd *cobra.Command, m Migrator, _ []string) error {
	if err := m.Up(); err != nil {
		return err //nolint:wrapcheck // already coded
	}
	cmd.Println("Migrations applied")
	return nil
}

func migrateDown(cmd *cobra.Command, m Migrator, _ []string) error {
	if err := m.Down(); err != nil {
		return err //nolint:wrapcheck // already coded
	}
	cmd.Println("Migrations rolled back")
	return nil
}

func migrateStatus(cmd *cobra.Command, m Migrator, _ []string) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	pending, err := m.Pending()
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}

	status := "clean"
	if dirty {
		status = "dirty"
	}
	cmd.Printf("Version: %d (%s)\n", version, status)
	cmd.Printf("Pending: %d\n", len(pending))
	for _, v := range pending {
		cmd.Printf("  %06d\n", v)
	}
	return nil
}

func migrateForce(cmd *cobra.Command, m Migrator, args []string) error {
	version, err := parseForceVersion(args[0])
	if err != nil {
		return err
	}
	if err := m.Force(version); err != nil {
		return err //nolint:wrapcheck // already coded
	}
	cmd.Printf("Forced version %d\n", version)
	return nil
}

func parseForceVersion(arg string) (int, error) {
	v, err := strconv.Atoi(arg)
	if err != nil {
		return 0, oops.Code("INVALID_VERSION").With("version", arg).Wrap(err)
	}
	if v < 0 {
		return 0, oops.Code("INVALID_VERSION").With("version", arg).Errorf("version must be non-negative")
	}
	return v, nil
}
