// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

package tenant

import (
	"context"
	"sync"

	"github.com/samber/oops"
)

// StaticDirectory serves apps loaded from configuration. The app set can be
// swapped atomically when the configuration is reloaded.
type StaticDirectory struct {
	mu       sync.RWMutex
	apps     []App
	byID     map[string]*App
	byKey    map[string]*App
	bySecret map[string]*App
}

// NewStaticDirectory creates a directory over apps.
func NewStaticDirectory(apps []App) (*StaticDirectory, error) {
	d := &StaticDirectory{}
	if err := d.Replace(apps); err != nil {
		return nil, err
	}
	return d, nil
}

// Replace validates apps and swaps them in. On error the previous set stays.
func (d *StaticDirectory) Replace(apps []App) error {
	byID := make(map[string]*App, len(apps))
	byKey := make(map[string]*App, len(apps))
	bySecret := make(map[string]*App, len(apps))
	stored := make([]App, len(apps))
	copy(stored, apps)

	for i := range stored {
		app := &stored[i]
		if err := app.Validate(); err != nil {
			return err
		}
		if _, dup := byID[app.ID]; dup {
			return oops.Code("APP_DUPLICATE").With("app_id", app.ID).Errorf("duplicate app id %q", app.ID)
		}
		if _, dup := byKey[app.Key]; dup {
			return oops.Code("APP_DUPLICATE").With("app_id", app.ID).Errorf("duplicate app key for app %q", app.ID)
		}
		if _, dup := bySecret[app.Secret]; dup {
			return oops.Code("APP_DUPLICATE").With("app_id", app.ID).Errorf("duplicate app secret for app %q", app.ID)
		}
		byID[app.ID] = app
		byKey[app.Key] = app
		bySecret[app.Secret] = app
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.apps = stored
	d.byID = byID
	d.byKey = byKey
	d.bySecret = bySecret
	return nil
}

// All returns a copy of every app.
func (d *StaticDirectory) All(_ context.Context) ([]App, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	result := make([]App, len(d.apps))
	copy(result, d.apps)
	return result, nil
}

// FindByID returns the app with the given id.
func (d *StaticDirectory) FindByID(_ context.Context, id string) (*App, error) {
	return d.find(func() map[string]*App { return d.byID }, id)
}

// FindByKey returns the app with the given public key.
func (d *StaticDirectory) FindByKey(_ context.Context, key string) (*App, error) {
	return d.find(func() map[string]*App { return d.byKey }, key)
}

// FindBySecret returns the app with the given secret.
func (d *StaticDirectory) FindBySecret(_ context.Context, secret string) (*App, error) {
	return d.find(func() map[string]*App { return d.bySecret }, secret)
}

// find looks value up in the index chosen by index, which runs under the lock.
func (d *StaticDirectory) find(index func() map[string]*App, value string) (*App, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	app, ok := index()[value]
	if !ok || value == "" {
		return nil, ErrNotFound
	}
	clone := *app
	return &clone, nil
}
