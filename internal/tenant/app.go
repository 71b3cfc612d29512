// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

// Package tenant defines apps, the isolated tenants that share a server, and
// the directories that resolve them from credentials.
package tenant

import (
	"context"
	"errors"

	"github.com/samber/oops"
)

// ErrNotFound is returned when no app matches a lookup.
var ErrNotFound = errors.New("app not found")

// App is a tenant. Apps are immutable once loaded.
type App struct {
	ID     string `koanf:"id" yaml:"id"`
	Key    string `koanf:"key" yaml:"key"`
	Secret string `koanf:"secret" yaml:"-"`
	Name   string `koanf:"name" yaml:"name,omitempty"`

	// Capacity caps concurrent connections. Nil means unlimited.
	Capacity *int `koanf:"capacity" yaml:"capacity,omitempty"`

	ClientMessagesEnabled bool `koanf:"enable_client_messages" yaml:"enable_client_messages"`
	StatisticsEnabled     bool `koanf:"enable_statistics" yaml:"enable_statistics"`

	// AllowedOrigins holds glob patterns matched against the Origin header.
	// Empty allows every origin.
	AllowedOrigins []string `koanf:"allowed_origins" yaml:"allowed_origins,omitempty"`
}

// Validate checks that the app has usable credentials and limits.
func (a *App) Validate() error {
	if a.ID == "" {
		return oops.Code("APP_INVALID").Errorf("app id is required")
	}
	if a.Key == "" {
		return oops.Code("APP_INVALID").With("app_id", a.ID).Errorf("app key is required")
	}
	if a.Secret == "" {
		return oops.Code("APP_INVALID").With("app_id", a.ID).Errorf("app secret is required")
	}
	if a.Capacity != nil && *a.Capacity < 0 {
		return oops.Code("APP_INVALID").
			With("app_id", a.ID).
			With("capacity", *a.Capacity).
			Errorf("app capacity must be non-negative")
	}
	for _, pattern := range a.AllowedOrigins {
		if _, err := compileOrigin(pattern); err != nil {
			return oops.Code("APP_INVALID").
				With("app_id", a.ID).
				With("pattern", pattern).
				Wrapf(err, "invalid allowed origin")
		}
	}
	return nil
}

// Directory resolves apps. Implementations must be safe for concurrent use.
type Directory interface {
	All(ctx context.Context) ([]App, error)
	FindByID(ctx context.Context, id string) (*App, error)
	FindByKey(ctx context.Context, key string) (*App, error)
	FindBySecret(ctx context.Context, secret string) (*App, error)
}
