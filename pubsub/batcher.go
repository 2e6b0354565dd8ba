// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/arborpub/arbor/storage"
)

// batcher moves published item writes off the dispatch path. Adds and
// removes are queued in FIFO order and drained by a single worker on a
// fixed interval, up to a batch size per queue per flush. Failed
// operations are re-queued at the tail and retried on a later flush.
type batcher struct {
	backend storage.Backend
	log     zerolog.Logger
	size    int
	every   time.Duration

	mu      sync.Mutex
	adds    []storage.ItemRecord
	removes []storage.ItemRecord

	stop chan struct{}
	done chan struct{}
}

func newBatcher(backend storage.Backend, log zerolog.Logger, every time.Duration, size int) *batcher {
	return &batcher{
		backend: backend,
		log:     log,
		size:    size,
		every:   every,
	}
}

func (b *batcher) start() {
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	go b.run()
}

func (b *batcher) run() {
	defer close(b.done)
	t := time.NewTicker(b.every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			b.flush(context.Background(), true)
		case <-b.stop:
			return
		}
	}
}

// shutdown stops the worker and drains both queues once. Failures during
// the final drain are logged and dropped so that shutdown always
// completes.
func (b *batcher) shutdown(ctx context.Context) {
	if b.stop != nil {
		close(b.stop)
		<-b.done
	}
	for b.pendingRemoves() > 0 || b.pendingAdds() > 0 {
		b.flush(ctx, false)
	}
}

// queueAdd queues an item write. A pending write of the same item is
// superseded: it is dropped and the new record joins the tail.
func (b *batcher) queueAdd(rec storage.ItemRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.adds = dropItem(b.adds, rec.NodeID, rec.ItemID)
	b.adds = append(b.adds, rec)
}

// queueRemove queues an item delete. When a write of the same item is
// still pending it is cancelled instead, since the item never reached the
// backend.
func (b *batcher) queueRemove(rec storage.ItemRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	trimmed := dropItem(b.adds, rec.NodeID, rec.ItemID)
	if len(trimmed) != len(b.adds) {
		b.adds = trimmed
		return
	}
	b.removes = append(b.removes, rec)
}

// cancelNode drops every queued operation against a node. It is called
// when the node is deleted.
func (b *batcher) cancelNode(nodeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.adds = dropNode(b.adds, nodeID)
	b.removes = dropNode(b.removes, nodeID)
}

func (b *batcher) pendingAdds() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.adds)
}

func (b *batcher) pendingRemoves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.removes)
}

// flush drains each queue up to the batch size, removes first so that a
// retract enqueued before a republish of the same item cannot undo it.
func (b *batcher) flush(ctx context.Context, requeue bool) {
	for _, rec := range b.take(&b.removes) {
		if err := b.backend.DeleteItem(ctx, rec.NodeID, rec.ItemID); err != nil {
			b.log.Error().Err(err).Str("node", rec.NodeID).Str("item", rec.ItemID).
				Msg("deleting published item from backend")
			if requeue {
				b.mu.Lock()
				b.removes = append(b.removes, rec)
				b.mu.Unlock()
			}
		}
	}
	for _, rec := range b.take(&b.adds) {
		err := b.backend.UpsertItem(ctx, rec)
		switch {
		case errors.Is(err, storage.ErrNodeNotFound):
			// The node went away after the write was queued.
			b.log.Debug().Str("node", rec.NodeID).Str("item", rec.ItemID).
				Msg("dropping item write for missing node")
		case err != nil:
			b.log.Error().Err(err).Str("node", rec.NodeID).Str("item", rec.ItemID).
				Msg("saving published item to backend")
			if requeue {
				b.mu.Lock()
				b.adds = append(b.adds, rec)
				b.mu.Unlock()
			}
		}
	}
}

// take pops up to the batch size records off the head of a queue.
func (b *batcher) take(q *[]storage.ItemRecord) []storage.ItemRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.size
	if n > len(*q) {
		n = len(*q)
	}
	taken := append([]storage.ItemRecord(nil), (*q)[:n]...)
	*q = (*q)[n:]
	return taken
}

func dropItem(q []storage.ItemRecord, nodeID, itemID string) []storage.ItemRecord {
	out := q[:0]
	for _, rec := range q {
		if rec.NodeID == nodeID && rec.ItemID == itemID {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func dropNode(q []storage.ItemRecord, nodeID string) []storage.ItemRecord {
	out := q[:0]
	for _, rec := range q {
		if rec.NodeID == nodeID {
			continue
		}
		out = append(out, rec)
	}
	return out
}
