// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package storage defines the persistence contract consumed by the
// publish-subscribe service.
//
// The service keeps its full data model in memory and treats a Backend
// as a durable mirror: nodes, affiliations, and subscriptions are
// written through as they change, while published items flow through a
// background batcher. Implementations must tolerate repeated writes of
// the same record.
package storage // import "github.com/arborpub/arbor/storage"

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrNodeNotFound is returned by item writes against a node that does
// not exist in the backend, for example because it was deleted after
// the write was queued.
var ErrNodeNotFound = errors.New("storage: node not found")

// NodeRecord is the durable form of a single pubsub node. Config holds
// the node's configuration as a submitted form would carry it, keyed by
// field var.
type NodeRecord struct {
	NodeID  string
	Leaf    bool
	Parent  string
	Creator string
	Config  map[string][]string
}

// AffiliationRecord relates a bare JID to a node.
type AffiliationRecord struct {
	NodeID      string
	JID         string
	Affiliation string
}

// SubscriptionRecord is the durable form of a single subscription.
// Owner is the bare JID that owns the subscription; JID is the address
// events are delivered to and may carry a resource. Options holds the
// subscription configuration keyed by field var.
type SubscriptionRecord struct {
	NodeID  string
	SubID   string
	Owner   string
	JID     string
	State   string
	Type    string
	Options map[string][]string
}

// ItemRecord is the durable form of a published item. Payload is the
// serialized XML of the item's child element and may be empty.
type ItemRecord struct {
	NodeID    string
	ItemID    string
	Publisher string
	Payload   []byte
	Created   time.Time
}

// Backend is implemented by persistence providers.
//
// Load methods return records in the order they were written, oldest
// first; callers rely on this to restore item history in publication
// order. Upsert methods replace any previous record with the same
// identity: (NodeID) for nodes, (NodeID, JID) for affiliations,
// (NodeID, SubID) for subscriptions, and (NodeID, ItemID) for items.
// UpsertItem reports ErrNodeNotFound when the owning node does not
// exist. Delete methods are idempotent and succeed when the record is
// already gone.
type Backend interface {
	LoadNodes(ctx context.Context) ([]NodeRecord, error)
	UpsertNode(ctx context.Context, rec NodeRecord) error
	DeleteNode(ctx context.Context, nodeID string) error

	LoadAffiliations(ctx context.Context, nodeID string) ([]AffiliationRecord, error)
	UpsertAffiliation(ctx context.Context, rec AffiliationRecord) error
	DeleteAffiliation(ctx context.Context, nodeID, jid string) error

	LoadSubscriptions(ctx context.Context, nodeID string) ([]SubscriptionRecord, error)
	UpsertSubscription(ctx context.Context, rec SubscriptionRecord) error
	DeleteSubscription(ctx context.Context, nodeID, subID string) error

	LoadItems(ctx context.Context, nodeID string) ([]ItemRecord, error)
	UpsertItem(ctx context.Context, rec ItemRecord) error
	DeleteItem(ctx context.Context, nodeID, itemID string) error
}
