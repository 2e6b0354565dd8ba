// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpptest

import (
	"github.com/arborpub/arbor/jid"
)

// Registry is a user registry double. The zero value treats every JID
// as registered; adding JIDs switches it to allow-list mode.
type Registry struct {
	users map[string]bool
}

// Add marks the bare form of j as a registered user.
func (r *Registry) Add(j jid.JID) {
	if r.users == nil {
		r.users = make(map[string]bool)
	}
	r.users[j.Bare().String()] = true
}

// IsRegistered implements the service's registry contract.
func (r *Registry) IsRegistered(j jid.JID) bool {
	if r.users == nil {
		return true
	}
	return r.users[j.Bare().String()]
}

// Rosters is a roster double mapping owner and contact bare JIDs to
// roster groups. A contact present with no groups is still subscribed.
type Rosters struct {
	contacts map[string]map[string][]string
}

// Subscribe records that contact has a presence subscription to owner,
// optionally placing the contact in the named groups.
func (r *Rosters) Subscribe(owner, contact jid.JID, groups ...string) {
	if r.contacts == nil {
		r.contacts = make(map[string]map[string][]string)
	}
	o := owner.Bare().String()
	if r.contacts[o] == nil {
		r.contacts[o] = make(map[string][]string)
	}
	r.contacts[o][contact.Bare().String()] = groups
}

// SubscribedToPresence implements the service's roster contract.
func (r *Rosters) SubscribedToPresence(owner, contact jid.JID) bool {
	_, ok := r.contacts[owner.Bare().String()][contact.Bare().String()]
	return ok
}

// Groups implements the service's roster contract.
func (r *Rosters) Groups(owner, contact jid.JID) []string {
	return r.contacts[owner.Bare().String()][contact.Bare().String()]
}
