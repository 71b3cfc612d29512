// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

// Package server runs the websocket endpoint: it admits connections, feeds
// their frames to the protocol dispatcher and tears them down.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"golang.org/x/time/rate"

	"github.com/wsrelay/wsrelay/internal/channel"
	"github.com/wsrelay/wsrelay/internal/observability"
	"github.com/wsrelay/wsrelay/internal/protocol"
	"github.com/wsrelay/wsrelay/internal/tenant"
	"github.com/wsrelay/wsrelay/internal/wire"
	"github.com/wsrelay/wsrelay/pkg/errutil"
)

// maxSocketIDAttempts bounds regeneration after socket id collisions.
const maxSocketIDAttempts = 5

// AppLookup resolves apps by public key.
type AppLookup interface {
	FindByKey(ctx context.Context, key string) (*tenant.App, error)
}

// StatsRecorder receives connection and message events.
type StatsRecorder interface {
	Connection(appID string)
	Disconnection(appID string)
	WebSocketMessage(appID string)
}

// Registry is the subset of the channel registry the manager needs.
type Registry interface {
	Admit(sub channel.Subscriber, capacity *int) error
	Release(sub channel.Subscriber)
}

// Dispatcher applies parsed commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, conn protocol.Conn, cmd protocol.Command) error
}

// ManagerConfig tunes connection behavior.
type ManagerConfig struct {
	ActivityTimeout  time.Duration
	ClientEventRate  float64
	ClientEventBurst int
}

// Handshake is what the client presents when connecting.
type Handshake struct {
	AppKey string
	Origin string
}

// Manager owns the lifecycle of every connection.
type Manager struct {
	apps       AppLookup
	registry   Registry
	dispatcher Dispatcher
	stats      StatsRecorder
	metrics    *observability.Metrics
	cfg        ManagerConfig

	newSocketID func() string

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// NewManager creates a manager. metrics may be nil.
func NewManager(apps AppLookup, registry Registry, dispatcher Dispatcher, stats StatsRecorder,
	metrics *observability.Metrics, cfg ManagerConfig,
) *Manager {
	if cfg.ActivityTimeout <= 0 {
		cfg.ActivityTimeout = wire.ActivityTimeout * time.Second
	}
	return &Manager{
		apps:        apps,
		registry:    registry,
		dispatcher:  dispatcher,
		stats:       stats,
		metrics:     metrics,
		cfg:         cfg,
		newSocketID: NewSocketID,
		conns:       make(map[*Conn]struct{}),
	}
}

// Open admits a new connection over t. On failure the error frame is sent,
// t is closed and the coded error is returned.
func (m *Manager) Open(ctx context.Context, hs Handshake, t Transport) (*Conn, error) {
	conn, err := m.admit(ctx, hs, t)
	if err != nil {
		m.reject(ctx, hs, t, err)
		return nil, err
	}

	t.Send(wire.ConnectionEstablished(conn.socketID, int(m.cfg.ActivityTimeout/time.Second)))

	m.mu.Lock()
	m.conns[conn] = struct{}{}
	m.mu.Unlock()

	m.stats.Connection(conn.TenantID())
	m.metrics.ConnectionOpened(conn.TenantID())
	slog.InfoContext(ctx, "connection established",
		"conn_id", conn.id.String(),
		"app_id", conn.TenantID(),
		"socket_id", conn.socketID,
	)
	return conn, nil
}

func (m *Manager) admit(ctx context.Context, hs Handshake, t Transport) (*Conn, error) {
	app, err := m.apps.FindByKey(ctx, hs.AppKey)
	if errors.Is(err, tenant.ErrNotFound) {
		return nil, oops.Code("UNKNOWN_APP_KEY").With("app_key", hs.AppKey).Errorf("unknown app key")
	}
	if err != nil {
		return nil, oops.Code("DIRECTORY_UNAVAILABLE").With("app_key", hs.AppKey).Wrap(err)
	}

	if !app.AllowsOrigin(hs.Origin) {
		return nil, oops.Code("ORIGIN_NOT_ALLOWED").
			With("app_id", app.ID).
			With("origin", hs.Origin).
			Errorf("origin not allowed")
	}

	conn := &Conn{id: newConnID(), app: app, transport: t}
	if m.cfg.ClientEventRate > 0 {
		conn.limiter = rate.NewLimiter(rate.Limit(m.cfg.ClientEventRate), m.cfg.ClientEventBurst)
	}

	for range maxSocketIDAttempts {
		conn.socketID = m.newSocketID()
		err = m.registry.Admit(conn, app.Capacity)
		if !errutil.HasCode(err, "SOCKET_ID_IN_USE") {
			break
		}
	}
	if err != nil {
		return nil, err //nolint:wrapcheck // already coded
	}
	return conn, nil
}

// reject reports a failed handshake. Every handshake failure closes the
// connection.
func (m *Manager) reject(ctx context.Context, hs Handshake, t Transport, err error) {
	failure := protocol.Classify(err)
	if failure.Code == protocol.CodeInternal {
		errutil.LogError(slog.Default(), "handshake failed", err, "app_key", hs.AppKey)
	} else {
		slog.InfoContext(ctx, "connection rejected",
			"app_key", hs.AppKey,
			"origin", hs.Origin,
			"code", failure.Code,
			"reason", errutil.Code(err),
		)
	}
	m.metrics.ConnectionRejected(fmt.Sprint(errutil.Code(err)))

	t.Send(wire.Error(failure.Code, failure.Message))
	t.Close()
}

// HandleMessage processes one frame from conn. Protocol failures are
// reported to the sender; fatal ones close the connection. The message is
// counted whatever the outcome.
func (m *Manager) HandleMessage(ctx context.Context, conn *Conn, raw []byte) {
	defer m.stats.WebSocketMessage(conn.TenantID())
	defer m.metrics.Message(observability.SourceWebSocket)

	err := m.dispatch(ctx, conn, raw)
	if err == nil {
		return
	}

	failure := protocol.Classify(err)
	if failure.Code == protocol.CodeInternal {
		errutil.LogError(slog.Default(), "message handling failed", err,
			"conn_id", conn.id.String(),
			"socket_id", conn.socketID,
		)
	} else {
		slog.DebugContext(ctx, "message rejected",
			"socket_id", conn.socketID,
			"code", failure.Code,
			"error", err,
		)
	}
	conn.Send(wire.Error(failure.Code, failure.Message))
	if failure.Fatal {
		m.Close(conn)
	}
}

// dispatch runs the dispatcher, turning a panic into an error so one bad
// message cannot take the connection's reader down.
func (m *Manager) dispatch(ctx context.Context, conn *Conn, raw []byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = oops.Code("DISPATCH_PANIC").
				With("socket_id", conn.socketID).
				Errorf("panic while handling message: %v", rec)
		}
	}()
	return m.dispatcher.Dispatch(ctx, conn, protocol.Parse(raw))
}

// Close tears conn down. It is safe to call more than once.
func (m *Manager) Close(conn *Conn) {
	conn.closeOnce.Do(func() {
		m.mu.Lock()
		delete(m.conns, conn)
		m.mu.Unlock()

		m.registry.Release(conn)
		m.stats.Disconnection(conn.TenantID())
		m.metrics.ConnectionClosed(conn.TenantID())
		conn.transport.Close()

		slog.Info("connection closed",
			"conn_id", conn.id.String(),
			"app_id", conn.TenantID(),
			"socket_id", conn.socketID,
		)
	})
}

// CloseAll closes every open connection, telling clients to reconnect.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	conns := make([]*Conn, 0, len(m.conns))
	for c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.Send(wire.Error(protocol.CodeInternal, "Server shutting down"))
		m.Close(c)
	}
}

// Count returns the number of open connections.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}
