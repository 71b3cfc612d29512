// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

// Package lifecycle runs the relay's HTTP listeners: the public relay
// endpoint and the observability endpoint share one start and shutdown path.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/samber/oops"
)

const readHeaderTimeout = 10 * time.Second

// HTTPService serves a handler on a TCP address. It can be started once per
// shutdown and is safe for concurrent use.
type HTTPService struct {
	name    string
	addr    string
	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	srv      *http.Server
}

// NewHTTPService creates a service named name for log and error context.
// addr is "host:port"; port 0 picks a free port.
func NewHTTPService(name, addr string, handler http.Handler) *HTTPService {
	return &HTTPService{name: name, addr: addr, handler: handler}
}

// Start listens and serves in the background. The returned channel receives
// an unexpected serve error and is closed once serving ends.
func (s *HTTPService) Start() (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return nil, oops.Code("ALREADY_RUNNING").With("service", s.name).Errorf("%s server already running", s.name)
	}
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, oops.Code("LISTEN_FAILED").With("service", s.name).With("addr", s.addr).Wrap(err)
	}
	srv := &http.Server{Handler: s.handler, ReadHeaderTimeout: readHeaderTimeout}
	s.listener, s.srv = listener, srv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "service", s.name, "error", err)
			errCh <- err
		}
	}()

	slog.Info("server started", "service", s.name, "addr", listener.Addr().String())
	return errCh, nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx ends, then closes whatever is left. It reports whether the
// service was running; stopping a stopped service is a no-op.
func (s *HTTPService) Shutdown(ctx context.Context) (bool, error) {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()

	if srv == nil {
		return false, nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close() //nolint:errcheck // already failing; Close only reports listener errors
		return true, oops.Code("SHUTDOWN_FAILED").With("service", s.name).Wrap(err)
	}
	slog.Info("server stopped", "service", s.name)
	return true, nil
}

// Addr returns the bound address, or "" before the first Start.
func (s *HTTPService) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
