// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

// Package protocol parses client frames and applies them to the channel
// registry.
package protocol

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/wsrelay/wsrelay/internal/wire"
)

// Command is a parsed client frame. The set of implementations is closed.
type Command interface {
	command()
}

// Subscribe asks to join a channel.
type Subscribe struct {
	Channel     string
	Auth        string
	ChannelData string
}

// Unsubscribe asks to leave a channel.
type Unsubscribe struct {
	Channel string
}

// Ping is a client heartbeat.
type Ping struct{}

// Pong answers a server heartbeat.
type Pong struct{}

// ClientEvent is a client-originated event for the other subscribers of a
// channel.
type ClientEvent struct {
	Event   string
	Channel string
	Data    json.RawMessage
}

// Malformed is a frame that could not be understood.
type Malformed struct {
	Reason string
}

func (Subscribe) command()   {}
func (Unsubscribe) command() {}
func (Ping) command()        {}
func (Pong) command()        {}
func (ClientEvent) command() {}
func (Malformed) command()   {}

type envelope struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type subscriptionData struct {
	Channel     string `json:"channel"`
	Auth        string `json:"auth"`
	ChannelData string `json:"channel_data"`
}

// Parse decodes a raw frame. It never fails; frames it cannot use come back
// as Malformed.
func Parse(raw []byte) Command {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Malformed{Reason: "invalid JSON"}
	}
	if env.Event == "" {
		return Malformed{Reason: "missing event"}
	}

	switch env.Event {
	case wire.EventPing:
		return Ping{}
	case wire.EventPong:
		return Pong{}
	case wire.EventSubscribe:
		var data subscriptionData
		if err := decodeData(env.Data, &data); err != nil {
			return Malformed{Reason: "invalid subscribe data"}
		}
		if data.Channel == "" {
			return Malformed{Reason: "missing channel"}
		}
		return Subscribe(data)
	case wire.EventUnsubscribe:
		var data subscriptionData
		if err := decodeData(env.Data, &data); err != nil || data.Channel == "" {
			return Malformed{Reason: "invalid unsubscribe data"}
		}
		return Unsubscribe{Channel: data.Channel}
	}

	if wire.IsClientEvent(env.Event) {
		if env.Channel == "" {
			return Malformed{Reason: "client event without channel"}
		}
		return ClientEvent{Event: env.Event, Channel: env.Channel, Data: env.Data}
	}
	if strings.HasPrefix(env.Event, "pusher:") {
		return Malformed{Reason: "unsupported event " + env.Event}
	}
	return Malformed{Reason: "unknown event " + env.Event}
}

// decodeData accepts both an object and a JSON string holding an object.
func decodeData(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err //nolint:wrapcheck // caller maps to Malformed
		}
		raw = []byte(s)
	}
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	return json.Unmarshal(raw, v) //nolint:wrapcheck // caller maps to Malformed
}
