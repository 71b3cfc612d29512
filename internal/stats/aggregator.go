// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

// Package stats aggregates per-app connection and message counters and
// periodically reports them to a sink.
package stats

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/wsrelay/wsrelay/internal/observability"
	"github.com/wsrelay/wsrelay/internal/tenant"
	"github.com/wsrelay/wsrelay/pkg/errutil"
)

// AppFinder resolves apps by id.
type AppFinder interface {
	FindByID(ctx context.Context, id string) (*tenant.App, error)
}

// ConnectionCounter reports live connections per app.
type ConnectionCounter interface {
	ConnectionCount(tenantID string) int
}

// Sink receives snapshots.
type Sink interface {
	Send(ctx context.Context, snapshot Snapshot) error
}

// Aggregator collects statistics for every app. It is safe for concurrent
// use.
type Aggregator struct {
	apps    AppFinder
	counter ConnectionCounter
	sink    Sink
	metrics *observability.Metrics

	mu    sync.Mutex
	stats map[string]*Statistic
}

// NewAggregator creates an aggregator. metrics may be nil.
func NewAggregator(apps AppFinder, counter ConnectionCounter, sink Sink, metrics *observability.Metrics) *Aggregator {
	return &Aggregator{
		apps:    apps,
		counter: counter,
		sink:    sink,
		metrics: metrics,
		stats:   make(map[string]*Statistic),
	}
}

func (a *Aggregator) update(appID string, fn func(*Statistic)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.stats[appID]
	if !ok {
		s = &Statistic{}
		a.stats[appID] = s
	}
	fn(s)
}

// Connection records an admitted connection. It must be called after the
// connection is registered with the counter.
func (a *Aggregator) Connection(appID string) { a.observe(appID) }

// Disconnection records a closed connection. It must be called after the
// connection is released from the counter.
func (a *Aggregator) Disconnection(appID string) { a.observe(appID) }

func (a *Aggregator) observe(appID string) {
	a.update(appID, func(s *Statistic) { s.observe(a.counter.ConnectionCount(appID)) })
}

// WebSocketMessage records a message received over a websocket.
func (a *Aggregator) WebSocketMessage(appID string) {
	a.update(appID, func(s *Statistic) { s.WebSocketMessages++ })
}

// APIMessage records an event broadcast through the HTTP API.
func (a *Aggregator) APIMessage(appID string) {
	a.update(appID, func(s *Statistic) { s.APIMessages++ })
}

// Statistic returns a copy of an app's current counters.
func (a *Aggregator) Statistic(appID string) Statistic {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.stats[appID]; ok {
		return *s
	}
	return Statistic{}
}

// Flush reports every active app with statistics enabled and starts a new
// window for it. Counters are reset when the sink rejects a snapshot, but a
// snapshot cut short by ctx is restored for the next flush and no further
// apps are reported. It returns the number of snapshots the sink accepted.
func (a *Aggregator) Flush(ctx context.Context) int {
	a.mu.Lock()
	ids := make([]string, 0, len(a.stats))
	for id, s := range a.stats {
		if s.active() {
			ids = append(ids, id)
		}
	}
	a.mu.Unlock()
	sort.Strings(ids)

	sent := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		app, err := a.apps.FindByID(ctx, id)
		if errors.Is(err, tenant.ErrNotFound) {
			a.forget(id)
			continue
		}
		if err != nil {
			errutil.LogError(slog.Default(), "statistics app lookup failed", err, "app_id", id)
			continue
		}
		if !app.StatisticsEnabled {
			continue
		}

		snapshot := a.cut(app)
		if err := a.sink.Send(ctx, snapshot); err != nil {
			if ctx.Err() != nil {
				a.update(id, func(s *Statistic) { s.restore(snapshot) })
				slog.WarnContext(ctx, "statistics delivery interrupted, window kept", "app_id", id)
				break
			}
			errutil.LogError(slog.Default(), "statistics delivery failed", err, "app_id", id)
			a.metrics.StatsFlush(false)
			continue
		}
		a.metrics.StatsFlush(true)
		sent++
	}
	return sent
}

// cut snapshots app's counters and resets them to the live connection count
// in one step.
func (a *Aggregator) cut(app *tenant.App) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.stats[app.ID]
	if !ok {
		s = &Statistic{}
		a.stats[app.ID] = s
	}
	live := a.counter.ConnectionCount(app.ID)
	snapshot := Snapshot{
		AppID:              app.ID,
		Secret:             app.Secret,
		PeakConnections:    s.PeakConnections,
		WebSocketMessages:  s.WebSocketMessages,
		APIMessages:        s.APIMessages,
		CurrentConnections: live,
	}
	s.reset(live)
	return snapshot
}

func (a *Aggregator) forget(appID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.stats, appID)
}
