// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"github.com/arborpub/arbor/jid"
)

// Affiliation is a long-lived relationship between an entity and a node.
type Affiliation string

// The affiliations defined by the pubsub protocol, from most to least
// privileged.
const (
	// AffiliationOwner may configure and delete the node and manage the
	// affiliations and subscriptions of other entities.
	AffiliationOwner Affiliation = "owner"

	// AffiliationPublisher may publish and retract items.
	AffiliationPublisher Affiliation = "publisher"

	// AffiliationMember may subscribe and retrieve items.
	AffiliationMember Affiliation = "member"

	// AffiliationNone is the default relationship of entities that have
	// no other standing with the node.
	AffiliationNone Affiliation = "none"

	// AffiliationOutcast may not subscribe, retrieve items, or publish.
	AffiliationOutcast Affiliation = "outcast"
)

// Affiliate relates one entity, identified by its bare JID, to a node.
// The entity's subscriptions are tracked by the node itself and keyed by
// the same bare JID.
type Affiliate struct {
	JID         jid.JID
	Affiliation Affiliation
}
