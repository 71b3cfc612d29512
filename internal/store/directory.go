// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

// Package store provides the PostgreSQL app directory and its migrations.
package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/wsrelay/wsrelay/internal/tenant"
)

// poolIface is the subset of pgxpool.Pool used by the directory, so tests
// can substitute pgxmock.
type poolIface interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const selectApps = `SELECT id, key, secret, COALESCE(name, ''), capacity,
	enable_client_messages, enable_statistics, COALESCE(allowed_origins, '{}')
	FROM apps`

var _ tenant.Directory = (*PostgresDirectory)(nil)

// PostgresDirectory implements tenant.Directory over the apps table.
type PostgresDirectory struct {
	pool poolIface
}

// NewPostgresDirectory creates a directory backed by pool.
func NewPostgresDirectory(pool poolIface) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

// Connect opens and pings a connection pool.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("DATABASE_CONNECT_FAILED").Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.Code("DATABASE_CONNECT_FAILED").With("operation", "ping").Wrap(err)
	}
	return pool, nil
}

// All returns every app ordered by id.
func (d *PostgresDirectory) All(ctx context.Context) ([]tenant.App, error) {
	rows, err := d.pool.Query(ctx, selectApps+` ORDER BY id`)
	if err != nil {
		return nil, oops.Code("DIRECTORY_QUERY_FAILED").With("operation", "list apps").Wrap(err)
	}
	defer rows.Close()

	var apps []tenant.App
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, oops.Code("DIRECTORY_QUERY_FAILED").With("operation", "scan app").Wrap(err)
		}
		apps = append(apps, *app)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("DIRECTORY_QUERY_FAILED").With("operation", "iterate apps").Wrap(err)
	}
	return apps, nil
}

// FindByID looks an app up by id.
func (d *PostgresDirectory) FindByID(ctx context.Context, id string) (*tenant.App, error) {
	return d.findOne(ctx, "id", selectApps+` WHERE id = $1`, id)
}

// FindByKey looks an app up by public key.
func (d *PostgresDirectory) FindByKey(ctx context.Context, key string) (*tenant.App, error) {
	return d.findOne(ctx, "key", selectApps+` WHERE key = $1`, key)
}

// FindBySecret looks an app up by secret.
func (d *PostgresDirectory) FindBySecret(ctx context.Context, secret string) (*tenant.App, error) {
	return d.findOne(ctx, "secret", selectApps+` WHERE secret = $1`, secret)
}

func (d *PostgresDirectory) findOne(ctx context.Context, field, query, value string) (*tenant.App, error) {
	app, err := scanApp(d.pool.QueryRow(ctx, query, value))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, tenant.ErrNotFound
	}
	if err != nil {
		return nil, oops.Code("DIRECTORY_QUERY_FAILED").With("field", field).Wrap(err)
	}
	return app, nil
}

func scanApp(row pgx.Row) (*tenant.App, error) {
	var (
		app      tenant.App
		capacity pgtype.Int4
	)
	err := row.Scan(
		&app.ID,
		&app.Key,
		&app.Secret,
		&app.Name,
		&capacity,
		&app.ClientMessagesEnabled,
		&app.StatisticsEnabled,
		&app.AllowedOrigins,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by callers
	}
	if capacity.Valid {
		n := int(capacity.Int32)
		app.Capacity = &n
	}
	return &app, nil
}
