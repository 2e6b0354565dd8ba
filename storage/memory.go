// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package storage

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
)

// Memory is a Backend that keeps all records in process memory. It is
// safe for concurrent use and is the backend used in tests and by
// deployments that do not need durability.
type Memory struct {
	mu    sync.RWMutex
	order []string
	nodes map[string]NodeRecord
	affs  map[string][]AffiliationRecord
	subs  map[string][]SubscriptionRecord
	items map[string][]ItemRecord
}

var _ Backend = (*Memory)(nil)

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		nodes: make(map[string]NodeRecord),
		affs:  make(map[string][]AffiliationRecord),
		subs:  make(map[string][]SubscriptionRecord),
		items: make(map[string][]ItemRecord),
	}
}

func cloneValues(m map[string][]string) map[string][]string {
	if m == nil {
		return nil
	}
	out := make(map[string][]string, len(m))
	for k, v := range m {
		vals := make([]string, len(v))
		copy(vals, v)
		out[k] = vals
	}
	return out
}

func cloneNode(rec NodeRecord) NodeRecord {
	rec.Config = cloneValues(rec.Config)
	return rec
}

func cloneSub(rec SubscriptionRecord) SubscriptionRecord {
	rec.Options = cloneValues(rec.Options)
	return rec
}

func cloneItem(rec ItemRecord) ItemRecord {
	if rec.Payload != nil {
		p := make([]byte, len(rec.Payload))
		copy(p, rec.Payload)
		rec.Payload = p
	}
	return rec
}

// LoadNodes implements Backend.
func (m *Memory) LoadNodes(_ context.Context) ([]NodeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]NodeRecord, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, cloneNode(m.nodes[id]))
	}
	return out, nil
}

// UpsertNode implements Backend.
func (m *Memory) UpsertNode(_ context.Context, rec NodeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[rec.NodeID]; !ok {
		m.order = append(m.order, rec.NodeID)
	}
	m.nodes[rec.NodeID] = cloneNode(rec)
	return nil
}

// DeleteNode implements Backend. Dependent affiliation, subscription,
// and item records are removed with the node.
func (m *Memory) DeleteNode(_ context.Context, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[nodeID]; !ok {
		return nil
	}
	delete(m.nodes, nodeID)
	for i, id := range m.order {
		if id == nodeID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	delete(m.affs, nodeID)
	delete(m.subs, nodeID)
	delete(m.items, nodeID)
	return nil
}

// LoadAffiliations implements Backend.
func (m *Memory) LoadAffiliations(_ context.Context, nodeID string) ([]AffiliationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]AffiliationRecord, len(m.affs[nodeID]))
	copy(out, m.affs[nodeID])
	return out, nil
}

// UpsertAffiliation implements Backend.
func (m *Memory) UpsertAffiliation(_ context.Context, rec AffiliationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := m.affs[rec.NodeID]
	for i, a := range recs {
		if a.JID == rec.JID {
			recs[i] = rec
			return nil
		}
	}
	m.affs[rec.NodeID] = append(recs, rec)
	return nil
}

// DeleteAffiliation implements Backend.
func (m *Memory) DeleteAffiliation(_ context.Context, nodeID, jid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := m.affs[nodeID]
	for i, a := range recs {
		if a.JID == jid {
			m.affs[nodeID] = append(recs[:i], recs[i+1:]...)
			break
		}
	}
	return nil
}

// LoadSubscriptions implements Backend.
func (m *Memory) LoadSubscriptions(_ context.Context, nodeID string) ([]SubscriptionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.subs[nodeID]
	out := make([]SubscriptionRecord, 0, len(recs))
	for _, s := range recs {
		out = append(out, cloneSub(s))
	}
	return out, nil
}

// UpsertSubscription implements Backend.
func (m *Memory) UpsertSubscription(_ context.Context, rec SubscriptionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := m.subs[rec.NodeID]
	for i, s := range recs {
		if s.SubID == rec.SubID {
			recs[i] = cloneSub(rec)
			return nil
		}
	}
	m.subs[rec.NodeID] = append(recs, cloneSub(rec))
	return nil
}

// DeleteSubscription implements Backend.
func (m *Memory) DeleteSubscription(_ context.Context, nodeID, subID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := m.subs[nodeID]
	for i, s := range recs {
		if s.SubID == subID {
			m.subs[nodeID] = append(recs[:i], recs[i+1:]...)
			break
		}
	}
	return nil
}

// LoadItems implements Backend. Items are returned in publication
// order, oldest first; republishing an item id moves it to the end.
func (m *Memory) LoadItems(_ context.Context, nodeID string) ([]ItemRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.items[nodeID]
	out := make([]ItemRecord, 0, len(recs))
	for _, it := range recs {
		out = append(out, cloneItem(it))
	}
	return out, nil
}

// UpsertItem implements Backend.
func (m *Memory) UpsertItem(_ context.Context, rec ItemRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[rec.NodeID]; !ok {
		return errors.Wrapf(ErrNodeNotFound, "write item %q to %q", rec.ItemID, rec.NodeID)
	}
	recs := m.items[rec.NodeID]
	for i, it := range recs {
		if it.ItemID == rec.ItemID {
			recs = append(recs[:i], recs[i+1:]...)
			break
		}
	}
	m.items[rec.NodeID] = append(recs, cloneItem(rec))
	return nil
}

// DeleteItem implements Backend.
func (m *Memory) DeleteItem(_ context.Context, nodeID, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := m.items[nodeID]
	for i, it := range recs {
		if it.ItemID == itemID {
			m.items[nodeID] = append(recs[:i], recs[i+1:]...)
			break
		}
	}
	return nil
}
