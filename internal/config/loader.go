// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

package config

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/wsrelay/wsrelay/internal/xdg"
	"github.com/wsrelay/wsrelay/pkg/errutil"
)

// envKeys maps environment variables to configuration keys. Later entries
// win, so WSRELAY_DATABASE_URL overrides DATABASE_URL.
var envKeys = []struct {
	name string
	key  string
}{
	{"DATABASE_URL", "database.url"},
	{"WSRELAY_DATABASE_URL", "database.url"},
	{"WSRELAY_ADDR", "server.addr"},
	{"WSRELAY_METRICS_ADDR", "server.metrics_addr"},
	{"WSRELAY_LOG_FORMAT", "log.format"},
	{"WSRELAY_LOG_LEVEL", "log.level"},
	{"WSRELAY_STATISTICS_URL", "statistics.url"},
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"addr":           "server.addr",
	"metrics-addr":   "server.metrics_addr",
	"log-format":     "log.format",
	"log-level":      "log.level",
	"database-url":   "database.url",
	"stats-url":      "statistics.url",
	"stats-schedule": "statistics.schedule",
}

// RegisterFlags defines the flags Load understands on flags.
func RegisterFlags(flags *pflag.FlagSet) {
	d := Defaults()
	flags.String("addr", d.Server.Addr, "websocket and HTTP API listen address")
	flags.String("metrics-addr", d.Server.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	flags.String("log-format", d.Log.Format, "log format (json or text)")
	flags.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	flags.String("database-url", "", "PostgreSQL URL for the app directory (default: apps from config file)")
	flags.String("stats-url", "", "statistics collector URL (default: log snapshots)")
	flags.String("stats-schedule", d.Statistics.Schedule, "statistics flush schedule")
}

// Loader reads configuration and can watch the file for changes.
type Loader struct {
	path     string
	explicit bool
	flags    *pflag.FlagSet

	// lookupEnv defaults to os.LookupEnv.
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader for path. An empty path uses the XDG default,
// which may be absent; an explicit path must exist. flags may be nil.
func NewLoader(path string, flags *pflag.FlagSet) *Loader {
	l := &Loader{path: path, explicit: path != "", flags: flags, lookupEnv: os.LookupEnv}
	if path == "" {
		l.path = xdg.ConfigFile()
	}
	return l
}

// Path returns the configuration file path.
func (l *Loader) Path() string {
	return l.path
}

func (l *Loader) fileExists() (bool, error) {
	_, err := os.Stat(l.path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, oops.Code("CONFIG_UNREADABLE").With("path", l.path).Wrap(err)
}

// Load builds a validated configuration.
func (l *Loader) Load() (*Config, error) {
	k := koanf.New(".")

	exists, err := l.fileExists()
	if err != nil {
		return nil, err
	}
	switch {
	case exists:
		if err := k.Load(file.Provider(l.path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_UNREADABLE").With("path", l.path).Wrap(err)
		}
	case l.explicit:
		return nil, oops.Code("CONFIG_NOT_FOUND").With("path", l.path).Errorf("config file not found")
	}

	for _, e := range envKeys {
		if v, ok := l.lookupEnv(e.name); ok && v != "" {
			if err := k.Set(e.key, v); err != nil {
				return nil, oops.Code("CONFIG_INVALID").With("env", e.name).Wrap(err)
			}
		}
	}

	if l.flags != nil {
		provider := posflag.ProviderWithFlag(l.flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(l.flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_INVALID").Wrap(err)
		}
	}

	cfg := Defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("path", l.path).Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch reloads the configuration whenever the file changes and passes
// every valid result to onChange. Invalid edits are logged and ignored. It
// returns immediately; watching stops when ctx is cancelled. A missing file
// is not watched.
func (l *Loader) Watch(ctx context.Context, onChange func(*Config)) error {
	exists, err := l.fileExists()
	if err != nil || !exists {
		return err
	}

	provider := file.Provider(l.path)
	err = provider.Watch(func(_ interface{}, watchErr error) {
		if watchErr != nil {
			errutil.LogError(slog.Default(), "config watch failed", watchErr, "path", l.path)
			return
		}
		cfg, loadErr := l.Load()
		if loadErr != nil {
			errutil.LogError(slog.Default(), "config reload rejected", loadErr, "path", l.path)
			return
		}
		slog.Info("config reloaded", "path", l.path)
		onChange(cfg)
	})
	if err != nil {
		return oops.Code("CONFIG_WATCH_FAILED").With("path", l.path).Wrap(err)
	}

	go func() {
		<-ctx.Done()
		if err := provider.Unwatch(); err != nil {
			slog.Debug("config unwatch failed", "error", err)
		}
	}()
	return nil
}
