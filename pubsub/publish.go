// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"bytes"
	"context"
	"encoding/xml"
	"strconv"

	"github.com/rs/xid"
	"mellium.im/xmlstream"

	"github.com/arborpub/arbor/stanza"
)

// payloadChildren counts the top level elements of a captured item
// payload and returns the payload trimmed of surrounding whitespace, or
// nil when it holds no element.
func payloadChildren(raw []byte) ([]byte, int) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, 0
	}
	d := xml.NewDecoder(bytes.NewReader(trimmed))
	depth, count := 0, 0
	for {
		tok, err := d.Token()
		if err != nil {
			break
		}
		switch tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				count++
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	if count == 0 {
		return nil, 0
	}
	return trimmed, count
}

// itemsReply builds the payload of an item retrieval result.
func itemsReply(nodeID string, items []*Item, withPayload bool) xml.TokenReader {
	inner := make([]xml.TokenReader, 0, len(items))
	for _, it := range items {
		inner = append(inner, it.tokenReader(withPayload))
	}
	return wrapPubSub(xmlstream.Wrap(xmlstream.MultiReader(inner...), xml.StartElement{
		Name: xml.Name{Local: "items"},
		Attr: nodeAttrs(nodeID),
	}))
}

// handlePublish publishes a batch of items to a leaf node and fans the
// event notifications out to its subscribers.
func (s *Service) handlePublish(ctx context.Context, iq stanza.IQ, q *pubsubQuery) {
	if q.Publish.Node == "" {
		// Publishing never addresses the root collection.
		s.sendError(ctx, iq, badRequest(CondNodeIDRequired))
		return
	}
	n, ok := s.Node(q.Publish.Node)
	if !ok {
		s.sendError(ctx, iq, errItemNotFound)
		return
	}
	from := iq.From
	owner := from.Bare()

	n.mu.Lock()
	if !n.cfg.PublisherModel.canPublish(n, owner) && !s.isAdmin(from) {
		n.mu.Unlock()
		s.sendError(ctx, iq, errForbidden)
		return
	}
	if !n.leaf {
		n.mu.Unlock()
		s.sendError(ctx, iq, unsupported("publish"))
		return
	}
	if len(q.Publish.Items) == 0 && n.cfg.itemRequired() {
		n.mu.Unlock()
		s.sendError(ctx, iq, badRequest(CondItemRequired))
		return
	}
	if len(q.Publish.Items) > 0 && !n.cfg.itemRequired() {
		n.mu.Unlock()
		s.sendError(ctx, iq, badRequest(CondItemForbidden))
		return
	}
	now := s.now()
	batch := make([]*Item, 0, len(q.Publish.Items))
	for _, wi := range q.Publish.Items {
		payload, children := payloadChildren(wi.Payload)
		if children == 0 && n.cfg.DeliverPayloads {
			n.mu.Unlock()
			s.sendError(ctx, iq, badRequest(CondPayloadRequired))
			return
		}
		if children > 1 {
			n.mu.Unlock()
			s.sendError(ctx, iq, badRequest(CondInvalidPayload))
			return
		}
		id := wi.ID
		if id == "" {
			id = xid.New().String()
		}
		batch = append(batch, &Item{
			NodeID:    n.id,
			ID:        id,
			Publisher: from,
			Payload:   payload,
			Created:   now,
		})
	}
	msgs := n.publish(ctx, batch)
	reply := iq.Result(nil)
	n.deliver(ctx, append([]xml.TokenReader{reply}, msgs...)...)
}

// handleRetract deletes published items from a leaf node. Any failed
// check aborts the whole request before anything is deleted.
func (s *Service) handleRetract(ctx context.Context, iq stanza.IQ, q *pubsubQuery) {
	if q.Retract.Node == "" {
		s.sendError(ctx, iq, badRequest(CondNodeIDRequired))
		return
	}
	n, ok := s.Node(q.Retract.Node)
	if !ok {
		s.sendError(ctx, iq, errItemNotFound)
		return
	}
	if len(q.Retract.Items) == 0 {
		s.sendError(ctx, iq, badRequest(CondItemRequired))
		return
	}

	n.mu.Lock()
	if !n.leaf || !n.cfg.PersistItems {
		n.mu.Unlock()
		s.sendError(ctx, iq, unsupported("persistent-items"))
		return
	}
	batch := make([]*Item, 0, len(q.Retract.Items))
	for _, wi := range q.Retract.Items {
		if wi.ID == "" {
			n.mu.Unlock()
			s.sendError(ctx, iq, badRequest(CondItemRequired))
			return
		}
		it := n.itemByID(wi.ID)
		if it == nil {
			n.mu.Unlock()
			s.sendError(ctx, iq, errItemNotFound)
			return
		}
		if !it.Publisher.Bare().Equal(iq.From.Bare()) && !n.isOwner(iq.From) {
			n.mu.Unlock()
			s.sendError(ctx, iq, errForbidden)
			return
		}
		batch = append(batch, it)
	}
	msgs := n.deleteItems(ctx, batch)
	reply := iq.Result(nil)
	n.deliver(ctx, append([]xml.TokenReader{reply}, msgs...)...)
}

// handleItems answers an item retrieval request against a leaf node.
func (s *Service) handleItems(ctx context.Context, iq stanza.IQ, q *pubsubQuery) {
	if q.Items.Node == "" {
		s.sendError(ctx, iq, badRequest(CondNodeIDRequired))
		return
	}
	n, ok := s.Node(q.Items.Node)
	if !ok {
		s.sendError(ctx, iq, errItemNotFound)
		return
	}
	if !n.leaf {
		s.sendError(ctx, iq, unsupported("retrieve-items"))
		return
	}
	owner := iq.From.Bare()

	n.mu.Lock()
	if !n.cfg.AccessModel.canRetrieveItems(n, owner) {
		refusal := n.cfg.AccessModel.refusal()
		n.mu.Unlock()
		s.sendError(ctx, iq, refusal)
		return
	}
	if n.affiliationOf(owner) == AffiliationOutcast {
		n.mu.Unlock()
		s.sendError(ctx, iq, errForbidden)
		return
	}
	// With multi-subscriptions the request names the subscription whose
	// keyword filter shapes the result; without them there is nothing to
	// locate.
	var sub *Subscription
	if s.multiSubs {
		if q.Items.SubID == "" {
			n.mu.Unlock()
			s.sendError(ctx, iq, badRequest(CondSubIDRequired))
			return
		}
		sub = n.subscription(q.Items.SubID)
		if sub == nil {
			n.mu.Unlock()
			s.sendError(ctx, iq, notAcceptable(CondInvalidSubID))
			return
		}
	}
	if sub != nil && !sub.isActive() {
		n.mu.Unlock()
		s.sendError(ctx, iq, Error{
			Err:  stanza.Error{Type: stanza.Auth, Condition: stanza.NotAuthorized},
			Cond: CondNotSubscribed,
		})
		return
	}

	// A valid max_items attribute takes precedence over explicitly
	// requested items, which in turn beat the default of all items.
	max := -1
	if q.Items.MaxItems != "" {
		v, err := strconv.Atoi(q.Items.MaxItems)
		if err != nil || v < 0 {
			s.log.Warn().Str("node", n.id).Str("max_items", q.Items.MaxItems).
				Msg("unusable max_items, returning all items")
		} else {
			max = v
		}
	}
	var items []*Item
	forcePayload := false
	switch {
	case max == 0:
	case max > 0:
		items = n.itemsTail(max)
	case len(q.Items.Items) > 0:
		// Explicitly requested items carry their payload no matter the
		// node configuration; unknown IDs are silently omitted.
		forcePayload = true
		for _, wi := range q.Items.Items {
			if it := n.itemByID(wi.ID); it != nil {
				items = append(items, it)
			}
		}
	default:
		items = n.itemsTail(0)
	}
	if sub != nil && sub.Keyword != "" {
		matched := make([]*Item, 0, len(items))
		for _, it := range items {
			if sub.matchesKeyword(it) {
				matched = append(matched, it)
			}
		}
		items = matched
	}
	withPayload := forcePayload || n.cfg.DeliverPayloads
	reply := itemsReply(n.id, items, withPayload)
	n.mu.Unlock()
	s.sendResult(ctx, iq, reply)
}
