// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/wsrelay/wsrelay/internal/auth"
	"github.com/wsrelay/wsrelay/internal/channel"
	"github.com/wsrelay/wsrelay/internal/config"
	"github.com/wsrelay/wsrelay/internal/logging"
	"github.com/wsrelay/wsrelay/internal/observability"
	"github.com/wsrelay/wsrelay/internal/protocol"
	"github.com/wsrelay/wsrelay/internal/server"
	"github.com/wsrelay/wsrelay/internal/stats"
	"github.com/wsrelay/wsrelay/internal/tenant"
	"github.com/wsrelay/wsrelay/internal/trigger"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket relay",
		Long: `Run the websocket endpoint (/app/{key}) and the event trigger API
(/apps/{appId}/events) until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), newLoader(cmd), cmd, nil)
		},
	}
}

// runServeWithDeps runs the relay with injectable dependencies. If deps is
// nil, default implementations are used.
func runServeWithDeps(ctx context.Context, loader *config.Loader, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loader.Load()
	if err != nil {
		return oops.With("operation", "load config").Wrap(err)
	}

	logging.SetDefault(logging.Options{
		Service: "wsrelay",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	})
	slog.Info("starting wsrelay",
		"addr", cfg.Server.Addr,
		"config", loader.Path(),
		"database", cfg.UsesDatabase(),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.UsesDatabase() && cfg.Database.AutoMigrate {
		if err := autoMigrate(deps, cfg.Database.URL); err != nil {
			return err
		}
	}

	directory, closeDirectory, err := deps.DirectoryFactory(ctx, cfg)
	if err != nil {
		return oops.With("operation", "open app directory").Wrap(err)
	}
	defer closeDirectory()

	if static, ok := directory.(*tenant.StaticDirectory); ok {
		watchApps(ctx, loader, static)
	}

	var ready atomic.Bool
	var metrics *observability.Metrics
	var obsServer ObservabilityServer
	if cfg.Server.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Server.MetricsAddr, readiness(&ready, directory))
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		metrics = obsServer.Metrics()
	}

	registry := channel.NewRegistry()
	aggregator := stats.NewAggregator(directory, registry, newSink(cfg.Statistics), metrics)
	scheduler, err := stats.NewScheduler(aggregator, cfg.Statistics.Schedule)
	if err != nil {
		stopObservability(obsServer, cfg)
		return err //nolint:wrapcheck // already coded
	}

	schedCtx, stopScheduler := context.WithCancel(context.WithoutCancel(ctx))
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		scheduler.Run(schedCtx)
	}()

	dispatcher := protocol.NewDispatcher(registry, auth.ChannelVerifier{})
	manager := server.NewManager(directory, registry, dispatcher, aggregator, metrics, server.ManagerConfig{
		ActivityTimeout:  cfg.Server.ActivityTimeout,
		ClientEventRate:  cfg.Server.ClientEventRate,
		ClientEventBurst: cfg.Server.ClientEventBurst,
	})
	api := trigger.NewHandler(directory,
		auth.RequestVerifier{MaxSkew: cfg.Server.AuthMaxSkew},
		trigger.NewService(registry, aggregator, metrics),
	)
	srv := server.NewServer(cfg.Server.Addr, manager, api, server.Options{
		SendQueue:      cfg.Server.SendQueue,
		MaxMessageSize: cfg.Server.MaxMessageSize,
		IdleTimeout:    cfg.Server.ActivityTimeout + cfg.Server.IdleGrace,
	})

	srvErrChan, err := srv.Start()
	if err != nil {
		stopScheduler()
		<-schedDone
		stopObservability(obsServer, cfg)
		return oops.With("operation", "start server").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, srvErrChan, "relay")
	ready.Store(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("wsrelay started on " + srv.Addr())
	slog.Info("wsrelay ready", "addr", srv.Addr())

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	ready.Store(false)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		slog.Warn("error stopping relay server", "error", err)
	}
	stopScheduler()
	<-schedDone
	stopObservability(obsServer, cfg)

	slog.Info("shutdown complete")
	return nil
}

func autoMigrate(deps *ServeDeps, url string) error {
	m, err := deps.MigratorFactory(url)
	if err != nil {
		return oops.With("operation", "auto-migrate").Wrap(err)
	}
	defer func() {
		if err := m.Close(); err != nil {
			slog.Warn("failed to close migrator", "error", err)
		}
	}()
	if err := m.Up(); err != nil {
		return oops.With("operation", "auto-migrate").Wrap(err)
	}
	slog.Info("database migrations applied")
	return nil
}

// watchApps hot-reloads the static app list when the config file changes.
// Edits that fail validation keep the previous list.
func watchApps(ctx context.Context, loader *config.Loader, dir *tenant.StaticDirectory) {
	err := loader.Watch(ctx, func(cfg *config.Config) {
		if cfg.UsesDatabase() {
			slog.Warn("database configured at runtime; restart to switch directories")
			return
		}
		if err := dir.Replace(cfg.Apps); err != nil {
			slog.Warn("app reload rejected", "error", err)
			return
		}
		slog.Info("apps reloaded", "count", len(cfg.Apps))
	})
	if err != nil {
		slog.Warn("config file not watched", "path", loader.Path(), "error", err)
	}
}

func newSink(cfg config.StatisticsConfig) stats.Sink {
	if cfg.URL == "" {
		return stats.LogSink{}
	}
	return stats.NewHTTPSink(cfg.URL, stats.WithRetry(cfg.RetryBase, cfg.MaxRetries))
}

// readiness reports ready while the relay accepts connections and the
// directory answers.
func readiness(accepting *atomic.Bool, directory tenant.Directory) observability.ReadinessChecker {
	return func(ctx context.Context) error {
		if !accepting.Load() {
			return oops.Code("NOT_ACCEPTING").Errorf("relay is not accepting connections")
		}
		if _, err := directory.All(ctx); err != nil {
			return oops.Code("DIRECTORY_UNAVAILABLE").Wrapf(err, "app directory unavailable")
		}
		return nil
	}
}

func stopObservability(obs ObservabilityServer, cfg *config.Config) {
	if obs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := obs.Stop(ctx); err != nil {
		slog.Warn("error stopping observability server", "error", err)
	}
}

// monitorServerErrors cancels ctx when a server reports an error. It
// returns when the channel closes or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
