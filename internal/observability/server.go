// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

// Package observability serves the relay's Prometheus metrics and health
// probes on a listener separate from client traffic.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wsrelay/wsrelay/internal/lifecycle"
	"github.com/wsrelay/wsrelay/pkg/errutil"
)

// readinessTimeout bounds one readiness check.
const readinessTimeout = 2 * time.Second

// ReadinessChecker returns nil when the relay accepts websocket connections
// and can resolve apps, or the reason it cannot.
type ReadinessChecker func(ctx context.Context) error

// Server exposes /metrics, /healthz/liveness and /healthz/readiness.
type Server struct {
	http     *lifecycle.HTTPService
	registry *prometheus.Registry
	metrics  *Metrics
	check    ReadinessChecker
}

// NewServer creates a server listening on addr. A nil check is always ready.
func NewServer(addr string, check ReadinessChecker) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Server{registry: registry, metrics: NewMetrics(registry), check: check}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("GET /healthz/liveness", s.handleLiveness)
	mux.HandleFunc("GET /healthz/readiness", s.handleReadiness)
	s.http = lifecycle.NewHTTPService("observability", addr, mux)
	return s
}

// Metrics returns the relay metrics registered on this server.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Start begins serving. See lifecycle.HTTPService.Start.
func (s *Server) Start() (<-chan error, error) {
	return s.http.Start() //nolint:wrapcheck // already coded
}

// Stop shuts the listener down. Stopping a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	_, err := s.http.Shutdown(ctx)
	return err //nolint:wrapcheck // already coded
}

// Addr returns the listening address, or "" when never started.
func (s *Server) Addr() string { return s.http.Addr() }

type probeResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	Code   string `json:"code,omitempty"`
}

func writeProbe(w http.ResponseWriter, status int, body probeResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // probe client may be gone
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeProbe(w, http.StatusOK, probeResponse{Status: "alive"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.check == nil {
		writeProbe(w, http.StatusOK, probeResponse{Status: "ready"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	if err := s.check(ctx); err != nil {
		resp := probeResponse{Status: "not_ready", Reason: err.Error()}
		if code := errutil.Code(err); code != nil {
			resp.Code = fmt.Sprint(code)
		}
		writeProbe(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeProbe(w, http.StatusOK, probeResponse{Status: "ready"})
}
