// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

package stats

// Statistic holds one app's counters for the current reporting window.
type Statistic struct {
	PeakConnections    int
	CurrentConnections int
	WebSocketMessages  int
	APIMessages        int
}

// observe records live, the counter's connection count after a connect or
// disconnect.
func (s *Statistic) observe(live int) {
	s.CurrentConnections = max(live, 0)
	s.PeakConnections = max(s.PeakConnections, s.CurrentConnections)
}

// active reports whether the window saw anything worth reporting.
func (s *Statistic) active() bool {
	return s.PeakConnections > 0 || s.CurrentConnections > 0 ||
		s.WebSocketMessages > 0 || s.APIMessages > 0
}

// reset starts a new window with live open connections.
func (s *Statistic) reset(live int) {
	s.CurrentConnections = live
	s.PeakConnections = live
	s.WebSocketMessages = 0
	s.APIMessages = 0
}

// restore folds an undelivered snapshot back into the window so its counts
// are reported by a later flush.
func (s *Statistic) restore(snapshot Snapshot) {
	s.PeakConnections = max(s.PeakConnections, snapshot.PeakConnections)
	s.WebSocketMessages += snapshot.WebSocketMessages
	s.APIMessages += snapshot.APIMessages
}

// Snapshot is the report sent for one app at the end of a window.
type Snapshot struct {
	AppID              string `json:"app_id"`
	Secret             string `json:"secret"`
	PeakConnections    int    `json:"peak_connections"`
	WebSocketMessages  int    `json:"websocket_message_count"`
	APIMessages        int    `json:"api_message_count"`
	CurrentConnections int    `json:"current_connections"`
}
