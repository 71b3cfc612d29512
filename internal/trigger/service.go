// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

// Package trigger implements the HTTP API that lets a backend publish events
// to channels.
package trigger

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/wsrelay/wsrelay/internal/channel"
	"github.com/wsrelay/wsrelay/internal/observability"
	"github.com/wsrelay/wsrelay/internal/wire"
)

// Registry finds channels and fans frames out to them.
type Registry interface {
	Find(tenantID, name string) *channel.Channel
	BroadcastToEveryoneExcept(ch *channel.Channel, frame []byte, except string) int
}

// StatsRecorder counts API messages.
type StatsRecorder interface {
	APIMessage(appID string)
}

// Service publishes triggered events.
type Service struct {
	registry Registry
	stats    StatsRecorder
	metrics  *observability.Metrics
}

// NewService creates a trigger service. metrics may be nil.
func NewService(registry Registry, stats StatsRecorder, metrics *observability.Metrics) *Service {
	return &Service{registry: registry, stats: stats, metrics: metrics}
}

// Trigger delivers req to each of its channels in order, skipping the
// connection named by req.SocketID. Channels listed twice are delivered
// twice. Every listed channel counts as one API message, whether or not it
// has subscribers. It returns the total number of deliveries.
func (s *Service) Trigger(ctx context.Context, appID string, req *Request) int {
	total := 0
	for _, name := range req.Channels {
		delivered := 0
		if ch := s.registry.Find(appID, name); ch != nil {
			delivered = s.registry.BroadcastToEveryoneExcept(ch, wire.Event(name, req.Name, json.RawMessage(req.Data), ""), req.SocketID)
		}
		total += delivered

		slog.DebugContext(ctx, "api message",
			"app_id", appID,
			"channel", name,
			"event", req.Name,
			"delivered", delivered,
		)
		s.stats.APIMessage(appID)
		s.metrics.Message(observability.SourceAPI)
	}
	return total
}
