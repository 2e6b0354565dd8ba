// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpptest

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/arborpub/arbor/storage"
)

// Backend wraps the in-memory storage backend with scripted failures
// and a record of item traffic, for driving the persistence batcher in
// tests.
type Backend struct {
	*storage.Memory

	mu          sync.Mutex
	failWrites  int
	failLoads   int
	itemWrites  []string
	itemDeletes []string
}

// NewBackend returns a Backend over a fresh in-memory store.
func NewBackend() *Backend {
	return &Backend{Memory: storage.NewMemory()}
}

// FailWrites makes the next n destructive calls fail: item writes and
// deletes, and node deletes.
func (b *Backend) FailWrites(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failWrites = n
}

// DeleteNode implements storage.Backend.
func (b *Backend) DeleteNode(ctx context.Context, nodeID string) error {
	if err := b.failWrite(); err != nil {
		return err
	}
	return b.Memory.DeleteNode(ctx, nodeID)
}

// FailLoads makes the next n LoadNodes calls fail.
func (b *Backend) FailLoads(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failLoads = n
}

func (b *Backend) failWrite() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWrites > 0 {
		b.failWrites--
		return errors.New("xmpptest: scripted write failure")
	}
	return nil
}

// LoadNodes implements storage.Backend.
func (b *Backend) LoadNodes(ctx context.Context) ([]storage.NodeRecord, error) {
	b.mu.Lock()
	fail := b.failLoads > 0
	if fail {
		b.failLoads--
	}
	b.mu.Unlock()
	if fail {
		return nil, errors.New("xmpptest: scripted load failure")
	}
	return b.Memory.LoadNodes(ctx)
}

// UpsertItem implements storage.Backend.
func (b *Backend) UpsertItem(ctx context.Context, rec storage.ItemRecord) error {
	if err := b.failWrite(); err != nil {
		return err
	}
	if err := b.Memory.UpsertItem(ctx, rec); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.itemWrites = append(b.itemWrites, rec.NodeID+" "+rec.ItemID)
	return nil
}

// DeleteItem implements storage.Backend.
func (b *Backend) DeleteItem(ctx context.Context, nodeID, itemID string) error {
	if err := b.failWrite(); err != nil {
		return err
	}
	if err := b.Memory.DeleteItem(ctx, nodeID, itemID); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.itemDeletes = append(b.itemDeletes, nodeID+" "+itemID)
	return nil
}

// ItemWrites returns "nodeID itemID" pairs for each successful item
// write, in order.
func (b *Backend) ItemWrites() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.itemWrites))
	copy(out, b.itemWrites)
	return out
}

// ItemDeletes returns "nodeID itemID" pairs for each successful item
// delete, in order.
func (b *Backend) ItemDeletes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.itemDeletes))
	copy(out, b.itemDeletes)
	return out
}
