// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

package protocol_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wsrelay/wsrelay/internal/auth"
	"github.com/wsrelay/wsrelay/internal/channel"
	"github.com/wsrelay/wsrelay/internal/protocol"
	"github.com/wsrelay/wsrelay/internal/tenant"
	"github.com/wsrelay/wsrelay/internal/wire"
	"github.com/wsrelay/wsrelay/pkg/errutil"
)

type fakeConn struct {
	socketID string
	app      *tenant.App
	limited  bool

	mu     sync.Mutex
	frames []wire.Frame
}

func (c *fakeConn) SocketID() string       { return c.socketID }
func (c *fakeConn) TenantID() string       { return c.app.ID }
func (c *fakeConn) App() *tenant.App       { return c.app }
func (c *fakeConn) AllowClientEvent() bool { return !c.limited }

func (c *fakeConn) Send(frame []byte) bool {
	var f wire.Frame
	if err := json.Unmarshal(frame, &f); err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return true
}

func (c *fakeConn) last() wire.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return wire.Frame{}
	}
	return c.frames[len(c.frames)-1]
}

func (c *fakeConn) events(name string) []wire.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []wire.Frame
	for _, f := range c.frames {
		if f.Event == name {
			out = append(out, f)
		}
	}
	return out
}

type fixture struct {
	registry   *channel.Registry
	dispatcher *protocol.Dispatcher
	app        *tenant.App
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry := channel.NewRegistry()
	return &fixture{
		registry:   registry,
		dispatcher: protocol.NewDispatcher(registry, auth.ChannelVerifier{}),
		app:        &tenant.App{ID: "1", Key: "key", Secret: "secret", ClientMessagesEnabled: true},
	}
}

func (f *fixture) conn(t *testing.T, socketID string) *fakeConn {
	t.Helper()
	c := &fakeConn{socketID: socketID, app: f.app}
	require.NoError(t, f.registry.Admit(c, nil))
	return c
}

func (f *fixture) dispatch(t *testing.T, c *fakeConn, raw string) error {
	t.Helper()
	return f.dispatcher.Dispatch(context.Background(), c, protocol.Parse([]byte(raw)))
}

func subscribeFrame(t *testing.T, channelName, token, channelData string) string {
	t.Helper()
	data, err := json.Marshal(map[string]string{"channel": channelName, "auth": token, "channel_data": channelData})
	require.NoError(t, err)
	return `{"event":"pusher:subscribe","data":` + string(data) + `}`
}

func TestDispatcher_Ping(t *testing.T) {
	f := newFixture(t)
	c := f.conn(t, "1.1")

	require.NoError(t, f.dispatch(t, c, `{"event":"pusher:ping","data":{}}`))
	assert.Equal(t, wire.EventPong, c.last().Event)
}

func TestDispatcher_SubscribePublic(t *testing.T) {
	f := newFixture(t)
	c := f.conn(t, "1.1")

	require.NoError(t, f.dispatch(t, c, `{"event":"pusher:subscribe","data":{"channel":"news"}}`))
	assert.Equal(t, wire.EventSubscriptionSucceeded, c.last().Event)
	assert.Equal(t, "news", c.last().Channel)
	assert.Equal(t, 1, f.registry.SubscriberCount("1", "news"))

	require.NoError(t, f.dispatch(t, c, `{"event":"pusher:unsubscribe","data":{"channel":"news"}}`))
	assert.Nil(t, f.registry.Find("1", "news"))
}

func TestDispatcher_SubscribeInvalidName(t *testing.T) {
	f := newFixture(t)
	c := f.conn(t, "1.1")

	err := f.dispatch(t, c, `{"event":"pusher:subscribe","data":{"channel":"bad name"}}`)
	errutil.AssertErrorCode(t, err, "INVALID_CHANNEL")
}

func TestDispatcher_SubscribePrivate(t *testing.T) {
	f := newFixture(t)
	c := f.conn(t, "1.1")

	t.Run("bad signature is rejected", func(t *testing.T) {
		err := f.dispatch(t, c, subscribeFrame(t, "private-a", "key:deadbeef", ""))
		errutil.AssertErrorCode(t, err, "SUBSCRIPTION_UNAUTHORIZED")
		assert.Nil(t, f.registry.Find("1", "private-a"))
	})

	t.Run("valid signature joins", func(t *testing.T) {
		token := auth.ChannelToken(f.app, "1.1", "private-a", "")
		require.NoError(t, f.dispatch(t, c, subscribeFrame(t, "private-a", token, "")))
		assert.Equal(t, wire.EventSubscriptionSucceeded, c.last().Event)
	})
}

func TestDispatcher_SubscribePresence(t *testing.T) {
	f := newFixture(t)
	alice := f.conn(t, "1.1")
	bob := f.conn(t, "1.2")

	join := func(c *fakeConn, data string) error {
		token := auth.ChannelToken(f.app, c.socketID, "presence-room", data)
		return f.dispatch(t, c, subscribeFrame(t, "presence-room", token, data))
	}

	require.NoError(t, join(alice, `{"user_id":"alice","user_info":{"name":"Alice"}}`))
	require.NoError(t, join(bob, `{"user_id":42}`))

	ack := bob.last()
	assert.Equal(t, wire.EventSubscriptionSucceeded, ack.Event)
	var s string
	require.NoError(t, json.Unmarshal(ack.Data, &s))
	var data struct {
		Presence wire.PresenceData `json:"presence"`
	}
	require.NoError(t, json.Unmarshal([]byte(s), &data))
	assert.Equal(t, []string{"42", "alice"}, data.Presence.IDs)

	added := alice.events(wire.EventMemberAdded)
	require.Len(t, added, 1)
	assert.Equal(t, "presence-room", added[0].Channel)

	t.Run("missing user id", func(t *testing.T) {
		c := f.conn(t, "1.3")
		errutil.AssertErrorCode(t, join(c, `{"user_info":{}}`), "PRESENCE_MEMBER_REQUIRED")
	})

	t.Run("channel data must match signature", func(t *testing.T) {
		c := f.conn(t, "1.4")
		token := auth.ChannelToken(f.app, "1.4", "presence-room", `{"user_id":"x"}`)
		err := f.dispatch(t, c, subscribeFrame(t, "presence-room", token, `{"user_id":"admin"}`))
		errutil.AssertErrorCode(t, err, "SUBSCRIPTION_UNAUTHORIZED")
	})
}

func TestDispatcher_ClientEvent(t *testing.T) {
	f := newFixture(t)
	sender := f.conn(t, "1.1")
	receiver := f.conn(t, "1.2")
	for _, c := range []*fakeConn{sender, receiver} {
		require.NoError(t, f.dispatch(t, c, `{"event":"pusher:subscribe","data":{"channel":"news"}}`))
	}
	const msg = `{"event":"client-typing","channel":"news","data":{"x":1}}`

	t.Run("delivered to others only", func(t *testing.T) {
		require.NoError(t, f.dispatch(t, sender, msg))
		got := receiver.events("client-typing")
		require.Len(t, got, 1)
		assert.JSONEq(t, `{"x":1}`, string(got[0].Data))
		assert.Empty(t, got[0].UserID)
		assert.Empty(t, sender.events("client-typing"))
	})

	t.Run("unknown channel is a no-op", func(t *testing.T) {
		require.NoError(t, f.dispatch(t, sender, `{"event":"client-typing","channel":"missing","data":{}}`))
	})

	t.Run("rate limited", func(t *testing.T) {
		sender.limited = true
		defer func() { sender.limited = false }()
		errutil.AssertErrorCode(t, f.dispatch(t, sender, msg), "CLIENT_EVENT_RATE_LIMITED")
		assert.Len(t, receiver.events("client-typing"), 1)
	})

	t.Run("dropped when app disables client messages", func(t *testing.T) {
		f.app.ClientMessagesEnabled = false
		defer func() { f.app.ClientMessagesEnabled = true }()
		require.NoError(t, f.dispatch(t, sender, msg))
		assert.Len(t, receiver.events("client-typing"), 1)
	})
}

func TestDispatcher_ClientEventCarriesPresenceUser(t *testing.T) {
	f := newFixture(t)
	sender := f.conn(t, "1.1")
	receiver := f.conn(t, "1.2")
	for _, c := range []*fakeConn{sender, receiver} {
		data := `{"user_id":"` + c.socketID + `"}`
		token := auth.ChannelToken(f.app, c.socketID, "presence-room", data)
		require.NoError(t, f.dispatch(t, c, subscribeFrame(t, "presence-room", token, data)))
	}

	require.NoError(t, f.dispatch(t, sender, `{"event":"client-wave","channel":"presence-room","data":{}}`))
	got := receiver.events("client-wave")
	require.Len(t, got, 1)
	assert.Equal(t, "1.1", got[0].UserID)
}

func TestDispatcher_Malformed(t *testing.T) {
	f := newFixture(t)
	c := f.conn(t, "1.1")
	errutil.AssertErrorCode(t, f.dispatch(t, c, `not json`), "MALFORMED_MESSAGE")
}
