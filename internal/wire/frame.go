// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

// Package wire defines the Pusher protocol frames exchanged with clients.
package wire

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// Protocol event names.
const (
	EventConnectionEstablished = "pusher:connection_established"
	EventError                 = "pusher:error"
	EventPing                  = "pusher:ping"
	EventPong                  = "pusher:pong"
	EventSubscribe             = "pusher:subscribe"
	EventUnsubscribe           = "pusher:unsubscribe"
	EventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	EventMemberAdded           = "pusher_internal:member_added"
	EventMemberRemoved         = "pusher_internal:member_removed"
)

// ClientEventPrefix marks events originated by clients.
const ClientEventPrefix = "client-"

// ActivityTimeout is the heartbeat interval, in seconds, announced to clients.
const ActivityTimeout = 30

// Frame is a single protocol message.
type Frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	UserID  string          `json:"user_id,omitempty"`
}

// IsClientEvent reports whether name is a client-originated event.
func IsClientEvent(name string) bool {
	return strings.HasPrefix(name, ClientEventPrefix)
}

// Encode serializes the frame.
func (f Frame) Encode() []byte {
	b, err := json.Marshal(f)
	if err != nil {
		// Data always comes from a decoded message or a value marshaled here,
		// so this only fires on a programming error.
		slog.Error("failed to encode frame", "event", f.Event, "channel", f.Channel, "error", err)
		return nil
	}
	return b
}

// stringData encodes v as JSON and wraps the result in a JSON string, which
// is how Pusher carries most system payloads.
func stringData(v any) json.RawMessage {
	inner, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode frame data", "error", err)
		inner = []byte("{}")
	}
	outer, err := json.Marshal(string(inner))
	if err != nil {
		return json.RawMessage(`"{}"`)
	}
	return outer
}

// ConnectionEstablished builds the handshake frame sent after admission.
func ConnectionEstablished(socketID string, activityTimeout int) []byte {
	return Frame{
		Event: EventConnectionEstablished,
		Data: stringData(struct {
			SocketID        string `json:"socket_id"`
			ActivityTimeout int    `json:"activity_timeout"`
		}{socketID, activityTimeout}),
	}.Encode()
}

// Error builds a pusher:error frame.
func Error(code int, message string) []byte {
	data, _ := json.Marshal(struct { //nolint:errchkjson // string and int fields always marshal
		Message string `json:"message"`
		Code    int    `json:"code"`
	}{message, code})
	return Frame{Event: EventError, Data: data}.Encode()
}

// Pong answers a pusher:ping.
func Pong() []byte {
	return Frame{Event: EventPong, Data: json.RawMessage(`{}`)}.Encode()
}

// PresenceData is the member roster returned when joining a presence channel.
type PresenceData struct {
	IDs   []string                   `json:"ids"`
	Hash  map[string]json.RawMessage `json:"hash"`
	Count int                        `json:"count"`
}

// SubscriptionSucceeded acknowledges a subscription. presence is nil for
// public and private channels.
func SubscriptionSucceeded(channel string, presence *PresenceData) []byte {
	var data json.RawMessage
	if presence == nil {
		data = stringData(struct{}{})
	} else {
		data = stringData(struct {
			Presence *PresenceData `json:"presence"`
		}{presence})
	}
	return Frame{Event: EventSubscriptionSucceeded, Channel: channel, Data: data}.Encode()
}

// MemberAdded announces a presence member's first connection to a channel.
func MemberAdded(channel, userID string, info json.RawMessage) []byte {
	return Frame{
		Event:   EventMemberAdded,
		Channel: channel,
		Data: stringData(struct {
			UserID   string          `json:"user_id"`
			UserInfo json.RawMessage `json:"user_info,omitempty"`
		}{userID, info}),
	}.Encode()
}

// MemberRemoved announces that a presence member's last connection left.
func MemberRemoved(channel, userID string) []byte {
	return Frame{
		Event:   EventMemberRemoved,
		Channel: channel,
		Data: stringData(struct {
			UserID string `json:"user_id"`
		}{userID}),
	}.Encode()
}

// Event builds a channel event as delivered to subscribers. userID is set for
// client events sent by presence members and left empty otherwise.
func Event(channel, event string, data json.RawMessage, userID string) []byte {
	return Frame{Event: event, Channel: channel, Data: data, UserID: userID}.Encode()
}
