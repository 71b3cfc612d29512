// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

package main

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wsrelay/wsrelay/internal/config"
	"github.com/wsrelay/wsrelay/internal/observability"
	"github.com/wsrelay/wsrelay/internal/tenant"
	"github.com/wsrelay/wsrelay/pkg/errutil"
)

type fakeObservability struct {
	ready   observability.ReadinessChecker
	started atomic.Bool
	stopped atomic.Bool
	metrics *observability.Metrics
}

func (f *fakeObservability) Start() (<-chan error, error) {
	f.started.Store(true)
	return make(chan error), nil
}

func (f *fakeObservability) Stop(context.Context) error {
	f.stopped.Store(true)
	return nil
}

func (f *fakeObservability) Addr() string                    { return "fake" }
func (f *fakeObservability) Metrics() *observability.Metrics { return f.metrics }

func runServe(t *testing.T, loader *config.Loader, deps *ServeDeps) (*syncBuffer, context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cmd := &cobra.Command{}
	out := &syncBuffer{}
	cmd.SetOut(out)

	done := make(chan error, 1)
	go func() { done <- runServeWithDeps(ctx, loader, cmd, deps) }()
	return out, cancel, done
}

func TestServe_StartsAndStops(t *testing.T) {
	path := writeConfig(t, testConfig)
	out, cancel, done := runServe(t, config.NewLoader(path, nil), nil)

	require.Eventually(t, func() bool { return containsStarted(out.String()) }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func containsStarted(out string) bool {
	return strings.Contains(out, "wsrelay started on 127.0.0.1:")
}

func TestServe_ObservabilityLifecycle(t *testing.T) {
	path := writeConfig(t, testConfig+"\n")
	flags := NewRootCmd().PersistentFlags()
	require.NoError(t, flags.Set("metrics-addr", "127.0.0.1:0"))

	obs := &fakeObservability{metrics: observability.NewMetrics(prometheus.NewRegistry())}
	deps := &ServeDeps{
		ObservabilityServerFactory: func(_ string, ready observability.ReadinessChecker) ObservabilityServer {
			obs.ready = ready
			return obs
		},
	}
	out, cancel, done := runServe(t, config.NewLoader(path, flags), deps)

	require.Eventually(t, func() bool { return containsStarted(out.String()) }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, obs.started.Load())
	assert.NoError(t, obs.ready(context.Background()), "ready once the relay listens")

	cancel()
	require.NoError(t, <-done)
	assert.True(t, obs.stopped.Load())
	errutil.AssertErrorCode(t, obs.ready(context.Background()), "NOT_ACCEPTING")
}

type unreachableDirectory struct{ tenant.Directory }

func (unreachableDirectory) All(context.Context) ([]tenant.App, error) {
	return nil, errors.New("connection refused")
}

func TestReadiness(t *testing.T) {
	static, err := tenant.NewStaticDirectory(nil)
	require.NoError(t, err)
	ctx := context.Background()

	var accepting atomic.Bool
	check := readiness(&accepting, static)
	errutil.AssertErrorCode(t, check(ctx), "NOT_ACCEPTING")

	accepting.Store(true)
	assert.NoError(t, check(ctx))

	check = readiness(&accepting, unreachableDirectory{static})
	errutil.AssertErrorCode(t, check(ctx), "DIRECTORY_UNAVAILABLE")
}

func TestServe_DirectoryFailure(t *testing.T) {
	path := writeConfig(t, testConfig)
	deps := &ServeDeps{
		DirectoryFactory: func(context.Context, *config.Config) (tenant.Directory, func(), error) {
			return nil, nil, errors.New("database unreachable")
		},
	}
	_, _, done := runServe(t, config.NewLoader(path, nil), deps)

	err := <-done
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database unreachable")
}

func TestServe_AutoMigrate(t *testing.T) {
	path := writeConfig(t, testConfig+"database:\n  url: postgres://u@localhost/db\n  auto_migrate: true\n")
	migrator := &fakeMigrator{upErr: errors.New("migration 1 failed")}
	deps := &ServeDeps{
		MigratorFactory: func(string) (Migrator, error) { return migrator, nil },
		DirectoryFactory: func(context.Context, *config.Config) (tenant.Directory, func(), error) {
			t.Error("directory opened after failed migration")
			return nil, nil, errors.New("unreachable")
		},
	}
	_, _, done := runServe(t, config.NewLoader(path, nil), deps)

	err := <-done
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration 1 failed")
	assert.Equal(t, 1, migrator.upCalls)
	assert.True(t, migrator.closed)
}

func TestServe_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "log:\n  format: xml\n")
	_, _, done := runServe(t, config.NewLoader(path, nil), nil)

	err := <-done
	require.Error(t, err)
}
