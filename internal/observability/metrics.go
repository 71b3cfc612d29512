// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Message sources.
const (
	SourceWebSocket   = "websocket"
	SourceAPI         = "api"
	SourceClientEvent = "client_event"
)

// droppedFrames counts outbound frames discarded because a subscriber's
// queue was full. It is package-level so transports can record drops without
// a Server.
var droppedFrames = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "wsrelay_dropped_frames_total",
	Help: "Total number of outbound frames dropped for slow consumers",
})

// RecordDroppedFrame increments the dropped frame counter.
func RecordDroppedFrame() {
	droppedFrames.Inc()
}

// Metrics contains the relay's Prometheus metrics. A nil *Metrics records
// nothing.
type Metrics struct {
	ConnectionsTotal  *prometheus.CounterVec
	ActiveConnections *prometheus.GaugeVec
	MessagesTotal     *prometheus.CounterVec
	StatsFlushesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the relay metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wsrelay_connections_total",
				Help: "Total number of websocket handshakes by result",
			},
			[]string{"result"},
		),
		ActiveConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wsrelay_active_connections",
				Help: "Currently open websocket connections by app",
			},
			[]string{"app_id"},
		),
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wsrelay_messages_total",
				Help: "Total number of messages by source",
			},
			[]string{"source"},
		),
		StatsFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wsrelay_stats_flushes_total",
				Help: "Total number of statistics snapshots sent by status",
			},
			[]string{"status"},
		),
	}

	reg.MustRegister(m.ConnectionsTotal)
	reg.MustRegister(m.ActiveConnections)
	reg.MustRegister(m.MessagesTotal)
	reg.MustRegister(m.StatsFlushesTotal)
	reg.MustRegister(droppedFrames)

	return m
}

// ConnectionOpened records an admitted connection.
func (m *Metrics) ConnectionOpened(appID string) {
	if m == nil {
		return
	}
	m.ConnectionsTotal.WithLabelValues("admitted").Inc()
	m.ActiveConnections.WithLabelValues(appID).Inc()
}

// ConnectionRejected records a failed handshake. reason is an error code.
func (m *Metrics) ConnectionRejected(reason string) {
	if m == nil {
		return
	}
	m.ConnectionsTotal.WithLabelValues(reason).Inc()
}

// ConnectionClosed records a connection teardown.
func (m *Metrics) ConnectionClosed(appID string) {
	if m == nil {
		return
	}
	m.ActiveConnections.WithLabelValues(appID).Dec()
}

// Message records a handled message from source.
func (m *Metrics) Message(source string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(source).Inc()
}

// StatsFlush records a statistics snapshot delivery.
func (m *Metrics) StatsFlush(ok bool) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "failure"
	}
	m.StatsFlushesTotal.WithLabelValues(status).Inc()
}
