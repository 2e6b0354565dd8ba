// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"github.com/arborpub/arbor/jid"
)

// PublisherModel controls who may publish items to a node.
type PublisherModel string

// The publisher models defined by the pubsub protocol.
const (
	// PublishersOnly admits owners and entities with a publisher
	// affiliation.
	PublishersOnly PublisherModel = "publishers"

	// SubscribersMayPublish additionally admits entities with an active
	// subscription.
	SubscribersMayPublish PublisherModel = "subscribers"

	// OpenPublisher admits any entity that is not an outcast.
	OpenPublisher PublisherModel = "open"
)

func parsePublisherModel(s string) (PublisherModel, bool) {
	switch PublisherModel(s) {
	case PublishersOnly, SubscribersMayPublish, OpenPublisher:
		return PublisherModel(s), true
	}
	return "", false
}

// canPublish reports whether the owner JID may publish to the node.
// The caller holds the node lock.
func (p PublisherModel) canPublish(n *Node, owner jid.JID) bool {
	aff := n.affiliationOf(owner)
	if aff == AffiliationOutcast {
		return false
	}
	switch p {
	case SubscribersMayPublish:
		if aff == AffiliationOwner || aff == AffiliationPublisher {
			return true
		}
		for _, sub := range n.subscriptionsFor(owner) {
			if sub.State == Subscribed {
				return true
			}
		}
		return false
	case OpenPublisher:
		return true
	default:
		return aff == AffiliationOwner || aff == AffiliationPublisher
	}
}
