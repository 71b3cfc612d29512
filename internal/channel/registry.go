// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

// Package channel tracks admitted connections and their channel
// subscriptions per tenant, and fans frames out to subscribers.
package channel

import (
	"log/slog"
	"sync"

	"github.com/samber/oops"

	"github.com/wsrelay/wsrelay/internal/wire"
)

// Subscription is the result of joining a channel.
type Subscription struct {
	Channel *Channel
	// Existing is true when the connection was already subscribed.
	Existing bool
	// Presence holds the member roster for presence channels.
	Presence *wire.PresenceData
}

type connEntry struct {
	sub      Subscriber
	channels map[string]struct{}
}

type tenantState struct {
	mu       sync.Mutex
	channels map[string]*Channel
	conns    map[string]*connEntry // by socket id
	// removed is set once the state is dropped from the registry; holders of
	// a stale pointer must look the tenant up again.
	removed bool
}

// Registry holds every tenant's channels and admitted connections. Each
// tenant has its own lock; a process-wide index keeps socket ids unique.
// Locks are taken tenant first, then the tenant map or the socket id index.
// A tenant's state is dropped when its last connection is released.
type Registry struct {
	mu      sync.RWMutex
	tenants map[string]*tenantState

	idsMu     sync.Mutex
	socketIDs map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tenants:   make(map[string]*tenantState),
		socketIDs: make(map[string]struct{}),
	}
}

// tenant returns the state for id, creating it when create is set.
func (r *Registry) tenant(id string, create bool) *tenantState {
	r.mu.RLock()
	ts, ok := r.tenants[id]
	r.mu.RUnlock()
	if ok || !create {
		return ts
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ts, ok = r.tenants[id]; ok {
		return ts
	}
	ts = &tenantState{
		channels: make(map[string]*Channel),
		conns:    make(map[string]*connEntry),
	}
	r.tenants[id] = ts
	return ts
}

// Admit registers sub as an open connection of its tenant. The capacity check
// and registration happen atomically, so concurrent admissions never exceed
// capacity. A nil capacity is unlimited.
func (r *Registry) Admit(sub Subscriber, capacity *int) error {
	for {
		ts := r.tenant(sub.TenantID(), true)
		ts.mu.Lock()
		if ts.removed {
			ts.mu.Unlock()
			continue
		}
		err := r.admitLocked(ts, sub, capacity)
		ts.mu.Unlock()
		return err
	}
}

// admitLocked requires ts.mu.
func (r *Registry) admitLocked(ts *tenantState, sub Subscriber, capacity *int) error {
	if capacity != nil && len(ts.conns) >= *capacity {
		return oops.Code("OVER_CAPACITY").
			With("app_id", sub.TenantID()).
			With("capacity", *capacity).
			Errorf("app is over capacity")
	}

	r.idsMu.Lock()
	if _, taken := r.socketIDs[sub.SocketID()]; taken {
		r.idsMu.Unlock()
		return oops.Code("SOCKET_ID_IN_USE").
			With("socket_id", sub.SocketID()).
			Errorf("socket id already in use")
	}
	r.socketIDs[sub.SocketID()] = struct{}{}
	r.idsMu.Unlock()

	ts.conns[sub.SocketID()] = &connEntry{sub: sub, channels: make(map[string]struct{})}
	return nil
}

// Subscribe adds sub to the named channel, creating the channel if needed.
// Presence channels require member. The first connection of a presence
// member announces it to the other subscribers.
func (r *Registry) Subscribe(sub Subscriber, name string, member *Member) (*Subscription, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	kind := KindOf(name)
	if kind == Presence && (member == nil || member.UserID == "") {
		return nil, oops.Code("PRESENCE_MEMBER_REQUIRED").
			With("channel", name).
			Errorf("presence channel requires a user id")
	}

	ts := r.tenant(sub.TenantID(), false)
	if ts == nil {
		return nil, oops.Code("NOT_ADMITTED").
			With("socket_id", sub.SocketID()).
			Errorf("connection is not admitted")
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()

	entry, ok := ts.conns[sub.SocketID()]
	if !ok {
		return nil, oops.Code("NOT_ADMITTED").
			With("socket_id", sub.SocketID()).
			Errorf("connection is not admitted")
	}

	ch, ok := ts.channels[name]
	if !ok {
		ch = newChannel(sub.TenantID(), name)
		ts.channels[name] = ch
	}

	result := &Subscription{Channel: ch}
	if _, already := ch.subscribers[sub.SocketID()]; already {
		result.Existing = true
	} else {
		ch.subscribers[sub.SocketID()] = sub
		entry.channels[name] = struct{}{}
		if kind == Presence {
			joinPresence(ch, sub.SocketID(), member)
		}
	}

	if kind == Presence {
		result.Presence = ch.roster()
	}
	return result, nil
}

// joinPresence records socketID as a connection of member and announces the
// member on its first connection. Caller holds the tenant lock.
func joinPresence(ch *Channel, socketID string, member *Member) {
	ch.memberOf[socketID] = member.UserID
	ref, ok := ch.members[member.UserID]
	if ok {
		ref.refs++
		return
	}
	ch.members[member.UserID] = &memberRef{info: member.Info, refs: 1}

	frame := wire.MemberAdded(ch.name, member.UserID, member.Info)
	for _, other := range ch.snapshot(socketID) {
		deliver(other, frame)
	}
}

// Unsubscribe removes sub from the named channel. Unknown channels and
// connections that are not subscribed are ignored.
func (r *Registry) Unsubscribe(sub Subscriber, name string) {
	ts := r.tenant(sub.TenantID(), false)
	if ts == nil {
		return
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.unsubscribe(sub.SocketID(), name)
}

// unsubscribe removes socketID from the named channel. Caller holds ts.mu.
func (ts *tenantState) unsubscribe(socketID, name string) {
	if entry, ok := ts.conns[socketID]; ok {
		delete(entry.channels, name)
	}

	ch, ok := ts.channels[name]
	if !ok {
		return
	}
	if _, subscribed := ch.subscribers[socketID]; !subscribed {
		return
	}
	delete(ch.subscribers, socketID)

	if ch.kind == Presence {
		leavePresence(ch, socketID)
	}
	if len(ch.subscribers) == 0 {
		delete(ts.channels, name)
	}
}

// leavePresence drops socketID's member reference and announces the member's
// departure when its last connection leaves. Caller holds the tenant lock.
func leavePresence(ch *Channel, socketID string) {
	userID, ok := ch.memberOf[socketID]
	if !ok {
		return
	}
	delete(ch.memberOf, socketID)

	ref := ch.members[userID]
	ref.refs--
	if ref.refs > 0 {
		return
	}
	delete(ch.members, userID)

	frame := wire.MemberRemoved(ch.name, userID)
	for _, other := range ch.snapshot("") {
		deliver(other, frame)
	}
}

// Find returns the named channel of a tenant, or nil.
func (r *Registry) Find(tenantID, name string) *Channel {
	ts := r.tenant(tenantID, false)
	if ts == nil {
		return nil
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.channels[name]
}

// RemoveFromAllChannels unsubscribes sub from every channel it joined. Safe
// to call more than once.
func (r *Registry) RemoveFromAllChannels(sub Subscriber) {
	ts := r.tenant(sub.TenantID(), false)
	if ts == nil {
		return
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.removeFromAll(sub.SocketID())
}

// removeFromAll requires ts.mu.
func (ts *tenantState) removeFromAll(socketID string) {
	entry, ok := ts.conns[socketID]
	if !ok {
		return
	}
	for name := range entry.channels {
		ts.unsubscribe(socketID, name)
	}
}

// Release tears sub down: it leaves every channel, frees its admission slot
// and its socket id. Safe to call more than once.
func (r *Registry) Release(sub Subscriber) {
	ts := r.tenant(sub.TenantID(), false)
	if ts == nil {
		return
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()

	entry, ok := ts.conns[sub.SocketID()]
	if !ok || entry.sub != sub {
		return
	}
	ts.removeFromAll(sub.SocketID())
	delete(ts.conns, sub.SocketID())

	r.idsMu.Lock()
	delete(r.socketIDs, sub.SocketID())
	r.idsMu.Unlock()

	if len(ts.conns) == 0 && len(ts.channels) == 0 {
		r.mu.Lock()
		if r.tenants[sub.TenantID()] == ts {
			delete(r.tenants, sub.TenantID())
		}
		r.mu.Unlock()
		ts.removed = true
	}
}

// TenantCount returns the number of tenants with live state.
func (r *Registry) TenantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tenants)
}

// BroadcastToEveryoneExcept delivers frame once to every current subscriber
// of ch except the connection with socket id except. An empty except
// excludes nobody. It returns the number of subscribers that accepted the
// frame.
func (r *Registry) BroadcastToEveryoneExcept(ch *Channel, frame []byte, except string) int {
	if ch == nil {
		return 0
	}
	return r.broadcast(ch.tenantID, ch.name, frame, except)
}

// BroadcastToOthers delivers frame to the subscribers of the named channel in
// sub's tenant, except sub itself. Unknown channels are ignored.
func (r *Registry) BroadcastToOthers(sub Subscriber, name string, frame []byte) int {
	return r.broadcast(sub.TenantID(), name, frame, sub.SocketID())
}

func (r *Registry) broadcast(tenantID, name string, frame []byte, except string) int {
	ts := r.tenant(tenantID, false)
	if ts == nil {
		return 0
	}

	ts.mu.Lock()
	ch, ok := ts.channels[name]
	var subs []Subscriber
	if ok {
		subs = ch.snapshot(except)
	}
	ts.mu.Unlock()

	delivered := 0
	for _, sub := range subs {
		if deliver(sub, frame) {
			delivered++
		}
	}
	return delivered
}

// deliver sends frame to sub, isolating the caller from a misbehaving
// subscriber.
func deliver(sub Subscriber, frame []byte) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("subscriber panicked during delivery",
				"socket_id", sub.SocketID(),
				"app_id", sub.TenantID(),
				"panic", rec,
			)
			ok = false
		}
	}()
	return sub.Send(frame)
}

// ConnectionCount returns the number of admitted connections of a tenant.
func (r *Registry) ConnectionCount(tenantID string) int {
	ts := r.tenant(tenantID, false)
	if ts == nil {
		return 0
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.conns)
}

// ChannelCount returns the number of live channels of a tenant.
func (r *Registry) ChannelCount(tenantID string) int {
	ts := r.tenant(tenantID, false)
	if ts == nil {
		return 0
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.channels)
}

// SubscriberCount returns the number of subscribers of a tenant's channel.
func (r *Registry) SubscriberCount(tenantID, name string) int {
	ts := r.tenant(tenantID, false)
	if ts == nil {
		return 0
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ch, ok := ts.channels[name]; ok {
		return len(ch.subscribers)
	}
	return 0
}

// Members returns the presence roster of a tenant's channel, or nil when the
// channel is absent or not a presence channel.
func (r *Registry) Members(tenantID, name string) *wire.PresenceData {
	ts := r.tenant(tenantID, false)
	if ts == nil {
		return nil
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ch, ok := ts.channels[name]
	if !ok || ch.kind != Presence {
		return nil
	}
	return ch.roster()
}

// MemberID returns the presence user id sub joined the named channel as.
func (r *Registry) MemberID(sub Subscriber, name string) (string, bool) {
	ts := r.tenant(sub.TenantID(), false)
	if ts == nil {
		return "", false
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ch, ok := ts.channels[name]
	if !ok || ch.kind != Presence {
		return "", false
	}
	id, ok := ch.memberOf[sub.SocketID()]
	return id, ok
}
