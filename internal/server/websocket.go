// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wsrelay/wsrelay/internal/observability"
)

// writeTimeout bounds a single frame write.
const writeTimeout = 10 * time.Second

// wsTransport queues outbound frames for a write pump so that a slow client
// never blocks a broadcaster.
type wsTransport struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once
}

func newWSTransport(ws *websocket.Conn, queue int) *wsTransport {
	return &wsTransport{
		ws:   ws,
		send: make(chan []byte, queue),
		done: make(chan struct{}),
	}
}

// Send enqueues frame. It never blocks: frames for a full queue are dropped.
func (t *wsTransport) Send(frame []byte) bool {
	select {
	case <-t.done:
		return false
	default:
	}

	select {
	case t.send <- frame:
		return true
	default:
		observability.RecordDroppedFrame()
		slog.Warn("frame dropped: send queue full", "remote", t.ws.RemoteAddr().String())
		return false
	}
}

// Close stops accepting frames; the write pump flushes what is queued and
// closes the socket.
func (t *wsTransport) Close() {
	t.closeOnce.Do(func() { close(t.done) })
}

// writePump writes queued frames until the transport is closed.
func (t *wsTransport) writePump() {
	defer func() { _ = t.ws.Close() }()

	for {
		select {
		case frame := <-t.send:
			if err := t.write(frame); err != nil {
				slog.Debug("websocket write failed", "error", err)
				t.Close()
				return
			}
		case <-t.done:
			t.drain()
			deadline := time.Now().Add(time.Second)
			//nolint:errcheck // peer may already be gone
			t.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}

func (t *wsTransport) drain() {
	for {
		select {
		case frame := <-t.send:
			if err := t.write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (t *wsTransport) write(frame []byte) error {
	if err := t.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err //nolint:wrapcheck // logged by caller
	}
	return t.ws.WriteMessage(websocket.TextMessage, frame) //nolint:wrapcheck // logged by caller
}

// readPump feeds client frames to the manager until the socket fails or the
// client stays silent past idle. It closes conn on exit.
func readPump(ctx context.Context, m *Manager, conn *Conn, ws *websocket.Conn, maxMessageSize int64, idle time.Duration) {
	defer m.Close(conn)

	ws.SetReadLimit(maxMessageSize)
	extend := func() error { return ws.SetReadDeadline(time.Now().Add(idle)) }
	if err := extend(); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error { return extend() })

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				slog.Debug("websocket read failed", "socket_id", conn.SocketID(), "error", err)
			}
			return
		}
		if err := extend(); err != nil {
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		m.HandleMessage(ctx, conn, data)
	}
}
