// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"github.com/arborpub/arbor/jid"
	"github.com/arborpub/arbor/stanza"
)

// AccessModel controls who may subscribe to a node and retrieve its
// items.
type AccessModel string

// The access models defined by the pubsub protocol.
const (
	// AccessOpen lets any entity subscribe and retrieve items.
	AccessOpen AccessModel = "open"

	// AccessPresence admits entities with a presence subscription to at
	// least one node owner.
	AccessPresence AccessModel = "presence"

	// AccessRoster admits entities in one of the allowed roster groups
	// of a node owner.
	AccessRoster AccessModel = "roster"

	// AccessAuthorize admits any entity but holds the subscription
	// pending until an owner approves it.
	AccessAuthorize AccessModel = "authorize"

	// AccessWhitelist admits only entities an owner added to the node.
	AccessWhitelist AccessModel = "whitelist"
)

func parseAccessModel(s string) (AccessModel, bool) {
	switch AccessModel(s) {
	case AccessOpen, AccessPresence, AccessRoster, AccessAuthorize, AccessWhitelist:
		return AccessModel(s), true
	}
	return "", false
}

// authorizationRequired reports whether a new subscription starts out
// pending owner approval.
func (a AccessModel) authorizationRequired() bool {
	return a == AccessAuthorize
}

// canSubscribe reports whether the owner of a prospective subscription
// passes the access model. The caller holds the node lock.
func (a AccessModel) canSubscribe(n *Node, owner jid.JID) bool {
	switch a {
	case AccessPresence:
		for _, o := range n.ownerList() {
			if n.svc.rosters.SubscribedToPresence(o, owner) {
				return true
			}
		}
		return false
	case AccessRoster:
		for _, o := range n.ownerList() {
			groups := n.svc.rosters.Groups(o, owner)
			for _, g := range groups {
				for _, allowed := range n.cfg.RosterGroupsAllowed {
					if g == allowed {
						return true
					}
				}
			}
		}
		return false
	case AccessWhitelist:
		switch n.affiliationOf(owner) {
		case AffiliationOwner, AffiliationPublisher, AffiliationMember:
			return true
		}
		return false
	default:
		// Open and authorize models accept any subscription request;
		// authorize holds it pending.
		return true
	}
}

// canRetrieveItems reports whether the subscriber may read the node's
// items. The caller holds the node lock.
func (a AccessModel) canRetrieveItems(n *Node, owner jid.JID) bool {
	if a == AccessAuthorize {
		for _, sub := range n.subscriptionsFor(owner) {
			if sub.State == Subscribed {
				return true
			}
		}
		return n.isOwner(owner)
	}
	return a.canSubscribe(n, owner)
}

// refusal returns the error reply sent when the access model turns a
// request down.
func (a AccessModel) refusal() Error {
	switch a {
	case AccessPresence:
		return Error{
			Err:  stanza.Error{Type: stanza.Auth, Condition: stanza.NotAuthorized},
			Cond: CondPresenceSubRequired,
		}
	case AccessRoster:
		return Error{
			Err:  stanza.Error{Type: stanza.Auth, Condition: stanza.NotAuthorized},
			Cond: CondNotInRosterGroup,
		}
	case AccessWhitelist:
		return Error{
			Err:  stanza.Error{Type: stanza.Cancel, Condition: stanza.NotAllowed},
			Cond: CondClosedNode,
		}
	default:
		return Error{
			Err:  stanza.Error{Type: stanza.Auth, Condition: stanza.NotAuthorized},
			Cond: CondNotSubscribed,
		}
	}
}
