// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

package channel

import (
	"encoding/json"
	"sort"

	"github.com/wsrelay/wsrelay/internal/wire"
)

// Subscriber is a connection as seen by the registry.
type Subscriber interface {
	SocketID() string
	TenantID() string
	// Send enqueues frame without blocking and reports whether it was
	// accepted.
	Send(frame []byte) bool
}

// Member identifies a presence channel user.
type Member struct {
	UserID string
	Info   json.RawMessage
}

type memberRef struct {
	info json.RawMessage
	refs int
}

// Channel is a named broadcast group within a tenant. Its state is guarded by
// the owning tenant's lock; callers only read its identity.
type Channel struct {
	name     string
	kind     Kind
	tenantID string

	subscribers map[string]Subscriber // by socket id
	members     map[string]*memberRef // by user id, presence only
	memberOf    map[string]string     // socket id -> user id, presence only
}

func newChannel(tenantID, name string) *Channel {
	ch := &Channel{
		name:        name,
		kind:        KindOf(name),
		tenantID:    tenantID,
		subscribers: make(map[string]Subscriber),
	}
	if ch.kind == Presence {
		ch.members = make(map[string]*memberRef)
		ch.memberOf = make(map[string]string)
	}
	return ch
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Kind returns the channel kind.
func (c *Channel) Kind() Kind { return c.kind }

// TenantID returns the owning tenant.
func (c *Channel) TenantID() string { return c.tenantID }

// roster returns presence data with ids sorted for stable output.
func (c *Channel) roster() *wire.PresenceData {
	data := &wire.PresenceData{
		IDs:   make([]string, 0, len(c.members)),
		Hash:  make(map[string]json.RawMessage, len(c.members)),
		Count: len(c.members),
	}
	for id, m := range c.members {
		data.IDs = append(data.IDs, id)
		data.Hash[id] = m.info
	}
	sort.Strings(data.IDs)
	return data
}

// snapshot returns the subscribers other than except.
func (c *Channel) snapshot(except string) []Subscriber {
	subs := make([]Subscriber, 0, len(c.subscribers))
	for id, sub := range c.subscribers {
		if except != "" && id == except {
			continue
		}
		subs = append(subs, sub)
	}
	return subs
}
