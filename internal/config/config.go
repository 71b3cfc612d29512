// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

// Package config loads wsrelay configuration from defaults, a YAML file,
// the environment and command-line flags, in that order of precedence.
package config

import (
	"time"

	"github.com/samber/oops"

	"github.com/wsrelay/wsrelay/internal/logging"
	"github.com/wsrelay/wsrelay/internal/tenant"
)

// Config is the complete wsrelay configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Log        LogConfig        `koanf:"log"`
	Statistics StatisticsConfig `koanf:"statistics"`
	Database   DatabaseConfig   `koanf:"database"`

	// Apps is the static tenant list, used when no database is configured.
	Apps []tenant.App `koanf:"apps"`
}

// ServerConfig covers the websocket and HTTP API listener.
type ServerConfig struct {
	Addr        string `koanf:"addr"`
	MetricsAddr string `koanf:"metrics_addr"`

	// ActivityTimeout is announced to clients as their heartbeat interval.
	ActivityTimeout time.Duration `koanf:"activity_timeout"`
	// IdleGrace is added to ActivityTimeout before a silent connection is
	// closed.
	IdleGrace time.Duration `koanf:"idle_grace"`

	SendQueue      int   `koanf:"send_queue"`
	MaxMessageSize int64 `koanf:"max_message_size"`

	// ClientEventRate is client events per second per connection; 0
	// disables limiting.
	ClientEventRate  float64 `koanf:"client_event_rate"`
	ClientEventBurst int     `koanf:"client_event_burst"`

	AuthMaxSkew     time.Duration `koanf:"auth_max_skew"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LogConfig selects log output.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// StatisticsConfig configures statistics reporting.
type StatisticsConfig struct {
	Schedule string `koanf:"schedule"`
	// URL receives snapshots. Empty logs them instead.
	URL        string        `koanf:"url"`
	RetryBase  time.Duration `koanf:"retry_base"`
	MaxRetries uint64        `koanf:"max_retries"`
}

// DatabaseConfig selects the PostgreSQL app directory.
type DatabaseConfig struct {
	URL         string `koanf:"url"`
	AutoMigrate bool   `koanf:"auto_migrate"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:             ":6001",
			MetricsAddr:      "127.0.0.1:9100",
			ActivityTimeout:  30 * time.Second,
			IdleGrace:        30 * time.Second,
			SendQueue:        256,
			MaxMessageSize:   10 * 1024,
			ClientEventRate:  10,
			ClientEventBurst: 10,
			AuthMaxSkew:      600 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
		Log: LogConfig{Format: "json", Level: "info"},
		Statistics: StatisticsConfig{
			Schedule:   "@every 60s",
			RetryBase:  200 * time.Millisecond,
			MaxRetries: 3,
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	errb := oops.Code("CONFIG_INVALID")

	if c.Server.Addr == "" {
		return errb.Errorf("server.addr is required")
	}
	if c.Server.ActivityTimeout < time.Second {
		return errb.With("activity_timeout", c.Server.ActivityTimeout).Errorf("server.activity_timeout must be at least 1s")
	}
	if c.Server.IdleGrace < 0 {
		return errb.Errorf("server.idle_grace must not be negative")
	}
	if c.Server.SendQueue <= 0 {
		return errb.With("send_queue", c.Server.SendQueue).Errorf("server.send_queue must be positive")
	}
	if c.Server.MaxMessageSize <= 0 {
		return errb.Errorf("server.max_message_size must be positive")
	}
	if c.Server.ClientEventRate < 0 {
		return errb.Errorf("server.client_event_rate must not be negative")
	}
	if c.Server.ClientEventRate > 0 && c.Server.ClientEventBurst <= 0 {
		return errb.Errorf("server.client_event_burst must be positive when rate limiting is enabled")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return errb.With("format", c.Log.Format).Errorf("log.format must be 'json' or 'text'")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return errb.Wrapf(err, "log.level")
	}
	if c.Statistics.Schedule == "" {
		return errb.Errorf("statistics.schedule is required")
	}
	if c.Database.URL == "" {
		for i := range c.Apps {
			if err := c.Apps[i].Validate(); err != nil {
				return errb.With("index", i).Wrapf(err, "apps")
			}
		}
	}
	return nil
}

// UsesDatabase reports whether apps come from PostgreSQL.
func (c *Config) UsesDatabase() bool {
	return c.Database.URL != ""
}
