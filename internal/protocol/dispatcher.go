// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/samber/oops"

	"github.com/wsrelay/wsrelay/internal/channel"
	"github.com/wsrelay/wsrelay/internal/tenant"
	"github.com/wsrelay/wsrelay/internal/wire"
)

// Conn is a connection as seen by the dispatcher.
type Conn interface {
	channel.Subscriber
	App() *tenant.App
	// AllowClientEvent consumes one client event from the connection's rate
	// budget and reports whether it was available.
	AllowClientEvent() bool
}

// ChannelAuthorizer verifies private and presence subscription tokens.
type ChannelAuthorizer interface {
	VerifyChannel(app *tenant.App, socketID, channel, channelData, token string) error
}

// Registry is the subset of the channel registry the dispatcher needs.
type Registry interface {
	Subscribe(sub channel.Subscriber, name string, member *channel.Member) (*channel.Subscription, error)
	Unsubscribe(sub channel.Subscriber, name string)
	BroadcastToOthers(sub channel.Subscriber, name string, frame []byte) int
	MemberID(sub channel.Subscriber, name string) (string, bool)
}

// Dispatcher applies parsed commands on behalf of a connection.
type Dispatcher struct {
	registry   Registry
	authorizer ChannelAuthorizer
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(registry Registry, authorizer ChannelAuthorizer) *Dispatcher {
	return &Dispatcher{registry: registry, authorizer: authorizer}
}

// Dispatch applies cmd for conn. Returned errors are coded and are reported
// to the sender only; see Classify.
func (d *Dispatcher) Dispatch(ctx context.Context, conn Conn, cmd Command) error {
	switch c := cmd.(type) {
	case Subscribe:
		return d.subscribe(ctx, conn, c)
	case Unsubscribe:
		d.registry.Unsubscribe(conn, c.Channel)
		return nil
	case Ping:
		conn.Send(wire.Pong())
		return nil
	case Pong:
		return nil
	case ClientEvent:
		return d.clientEvent(ctx, conn, c)
	case Malformed:
		return oops.Code("MALFORMED_MESSAGE").
			With("socket_id", conn.SocketID()).
			With("reason", c.Reason).
			Errorf("malformed message: %s", c.Reason)
	default:
		return oops.Code("MALFORMED_MESSAGE").Errorf("unhandled command %T", cmd)
	}
}

func (d *Dispatcher) subscribe(ctx context.Context, conn Conn, cmd Subscribe) error {
	if err := channel.ValidateName(cmd.Channel); err != nil {
		return err //nolint:wrapcheck // already coded
	}

	kind := channel.KindOf(cmd.Channel)
	var member *channel.Member
	if kind.RequiresAuth() {
		signed := ""
		if kind == channel.Presence {
			signed = cmd.ChannelData
		}
		if err := d.authorizer.VerifyChannel(conn.App(), conn.SocketID(), cmd.Channel, signed, cmd.Auth); err != nil {
			slog.DebugContext(ctx, "subscription rejected",
				"app_id", conn.TenantID(),
				"socket_id", conn.SocketID(),
				"channel", cmd.Channel,
			)
			return err //nolint:wrapcheck // already coded
		}
	}
	if kind == channel.Presence {
		m, err := parseMember(cmd.ChannelData)
		if err != nil {
			return err
		}
		member = m
	}

	sub, err := d.registry.Subscribe(conn, cmd.Channel, member)
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	conn.Send(wire.SubscriptionSucceeded(cmd.Channel, sub.Presence))

	slog.DebugContext(ctx, "subscribed",
		"app_id", conn.TenantID(),
		"socket_id", conn.SocketID(),
		"channel", cmd.Channel,
		"existing", sub.Existing,
	)
	return nil
}

// parseMember reads presence channel_data. user_id may be a string or a
// number.
func parseMember(channelData string) (*channel.Member, error) {
	errb := oops.Code("PRESENCE_MEMBER_REQUIRED")

	var data struct {
		UserID   json.RawMessage `json:"user_id"`
		UserInfo json.RawMessage `json:"user_info"`
	}
	if err := json.Unmarshal([]byte(channelData), &data); err != nil {
		return nil, errb.Wrapf(err, "invalid channel_data")
	}

	raw := bytes.TrimSpace(data.UserID)
	var userID string
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		return nil, errb.Errorf("channel_data has no user_id")
	case raw[0] == '"':
		if err := json.Unmarshal(raw, &userID); err != nil {
			return nil, errb.Wrapf(err, "invalid user_id")
		}
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, errb.Wrapf(err, "invalid user_id")
		}
		if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
			return nil, errb.Wrapf(err, "invalid user_id")
		}
		userID = n.String()
	}
	if userID == "" {
		return nil, errb.Errorf("channel_data has an empty user_id")
	}
	return &channel.Member{UserID: userID, Info: data.UserInfo}, nil
}

func (d *Dispatcher) clientEvent(ctx context.Context, conn Conn, cmd ClientEvent) error {
	if !conn.App().ClientMessagesEnabled {
		slog.DebugContext(ctx, "client event dropped: client messages disabled",
			"app_id", conn.TenantID(),
			"socket_id", conn.SocketID(),
			"event", cmd.Event,
		)
		return nil
	}
	if !conn.AllowClientEvent() {
		return oops.Code("CLIENT_EVENT_RATE_LIMITED").
			With("socket_id", conn.SocketID()).
			With("event", cmd.Event).
			Errorf("client event rate limit exceeded")
	}

	userID, _ := d.registry.MemberID(conn, cmd.Channel)
	frame := wire.Event(cmd.Channel, cmd.Event, cmd.Data, userID)
	delivered := d.registry.BroadcastToOthers(conn, cmd.Channel, frame)

	slog.InfoContext(ctx, "client event",
		"app_id", conn.TenantID(),
		"socket_id", conn.SocketID(),
		"channel", cmd.Channel,
		"event", cmd.Event,
		"delivered", delivered,
	)
	return nil
}
