// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

package server

import (
	"sync"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/wsrelay/wsrelay/internal/tenant"
)

// Transport carries frames to a client.
type Transport interface {
	// Send enqueues frame without blocking and reports whether it was
	// accepted.
	Send(frame []byte) bool
	// Close flushes queued frames and closes the connection. It is safe to
	// call more than once.
	Close()
}

// Conn is an admitted client connection bound to one app.
type Conn struct {
	id        ulid.ULID
	socketID  string
	app       *tenant.App
	transport Transport
	limiter   *rate.Limiter

	closeOnce sync.Once
}

// ID returns the connection's log identifier.
func (c *Conn) ID() ulid.ULID { return c.id }

// SocketID returns the Pusher socket id.
func (c *Conn) SocketID() string { return c.socketID }

// TenantID returns the app id.
func (c *Conn) TenantID() string { return c.app.ID }

// App returns the app the connection belongs to.
func (c *Conn) App() *tenant.App { return c.app }

// Send enqueues frame on the transport.
func (c *Conn) Send(frame []byte) bool {
	if frame == nil {
		return false
	}
	return c.transport.Send(frame)
}

// AllowClientEvent consumes one token from the client event budget.
func (c *Conn) AllowClientEvent() bool {
	if c.limiter == nil {
		return true
	}
	return c.limiter.Allow()
}
