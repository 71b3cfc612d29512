// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wsrelay/wsrelay/internal/lifecycle"
)

// Options tunes the websocket endpoint.
type Options struct {
	SendQueue      int
	MaxMessageSize int64
	// IdleTimeout closes connections that send nothing for this long.
	IdleTimeout time.Duration
}

// Server serves the websocket endpoint and, when given, the HTTP API.
type Server struct {
	manager  *Manager
	opts     Options
	handler  http.Handler
	upgrader websocket.Upgrader
	http     *lifecycle.HTTPService
	ctx      context.Context //nolint:containedctx // lifetime of upgraded connections
	cancel   context.CancelFunc
}

// NewServer creates a server. api handles POST /apps/{appId}/events and may
// be nil.
func NewServer(addr string, manager *Manager, api http.Handler, opts Options) *Server {
	if opts.SendQueue <= 0 {
		opts.SendQueue = 256
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 10 * 1024
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		manager: manager,
		opts:    opts,
		// Origins are checked per app during admission.
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		ctx:      ctx,
		cancel:   cancel,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /app/{key}", s.handleWebSocket)
	if api != nil {
		mux.Handle("POST /apps/{appId}/events", api)
	}
	s.handler = mux
	s.http = lifecycle.NewHTTPService("relay", addr, mux)
	return s
}

// Handler returns the HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		slog.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	t := newWSTransport(ws, s.opts.SendQueue)
	go t.writePump()

	hs := Handshake{AppKey: r.PathValue("key"), Origin: r.Header.Get("Origin")}
	conn, err := s.manager.Open(s.ctx, hs, t)
	if err != nil {
		return
	}
	readPump(s.ctx, s.manager, conn, ws, s.opts.MaxMessageSize, s.opts.IdleTimeout)
}

// Start begins serving. The returned channel receives a serve error, and is
// closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	return s.http.Start() //nolint:wrapcheck // already coded
}

// Stop stops accepting requests and waits for in-flight API requests, then
// closes every websocket connection. Stopping a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	running, err := s.http.Shutdown(ctx)
	if !running {
		return nil
	}
	s.manager.CloseAll()
	s.cancel()
	return err //nolint:wrapcheck // already coded
}

// Addr returns the listening address, or "" when never started.
func (s *Server) Addr() string {
	return s.http.Addr()
}
