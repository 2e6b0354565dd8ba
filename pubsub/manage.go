// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"context"
	"encoding/xml"
	"strings"

	"mellium.im/xmlstream"

	"github.com/arborpub/arbor/form"
	"github.com/arborpub/arbor/internal/attr"
	"github.com/arborpub/arbor/jid"
	"github.com/arborpub/arbor/stanza"
)

// instantIDLen is the length of generated identifiers for instant nodes.
const instantIDLen = 15

// resolveNode resolves the node a request addresses. An absent node
// attribute addresses the root collection when the service supports
// collections. Errors are replied to directly; the caller bails out when
// ok is false.
func (s *Service) resolveNode(ctx context.Context, iq stanza.IQ, nodeID string) (*Node, bool) {
	if nodeID == "" {
		if s.collections {
			return s.root, true
		}
		s.sendError(ctx, iq, badRequest(CondNodeIDRequired))
		return nil, false
	}
	n, ok := s.Node(nodeID)
	if !ok {
		s.sendError(ctx, iq, errItemNotFound)
		return nil, false
	}
	return n, true
}

// handleCreate creates a leaf or collection node (§XEP-0060 create).
func (s *Service) handleCreate(ctx context.Context, iq stanza.IQ, q *pubsubQuery) {
	from := iq.From
	if !s.canCreateNodes(from) {
		s.sendError(ctx, iq, errForbidden)
		return
	}
	config := s.sentConfigForm(q.Configure)
	leaf := q.Create.Type != "collection"
	if leaf && config != nil {
		if v, ok := config.GetString(fieldNodeType); ok && v == "collection" {
			leaf = false
		}
	}
	if !leaf && !s.collections {
		s.sendError(ctx, iq, unsupported("collections"))
		return
	}

	parent := s.root
	if config != nil {
		if v, ok := config.GetString(fieldCollection); ok && v != "" {
			p, found := s.Node(v)
			if !found {
				s.sendError(ctx, iq, errItemNotFound)
				return
			}
			if p.leaf {
				s.sendError(ctx, iq, errNotAccept)
				return
			}
			parent = p
		}
	}

	requested := q.Create.Node
	instant := requested == ""
	if instant && !s.instant {
		s.sendError(ctx, iq, notAcceptable(CondNodeIDRequired))
		return
	}

	if leaf && parent != s.root {
		parent.mu.Lock()
		allowed := true
		switch parent.cfg.AssociationPolicy {
		case AssociateOwners:
			allowed = parent.isOwner(from)
		case AssociateWhitelist:
			allowed = false
			for _, j := range parent.cfg.AssociationWhitelist {
				if j.Bare().Equal(from.Bare()) {
					allowed = true
					break
				}
			}
		}
		max := parent.cfg.MaxLeafNodes
		parent.mu.Unlock()
		if !allowed {
			s.sendError(ctx, iq, errForbidden)
			return
		}
		if max > 0 && parent.childCount() >= max {
			s.sendError(ctx, iq, Error{Err: errConflict, Cond: CondMaxNodesExceeded})
			return
		}
	}

	var n *Node
	nodeID := requested
	for {
		if instant {
			nodeID = attr.RandomLen(instantIDLen)
		}
		if s.collections {
			if prefix := parent.id + "/"; !strings.HasPrefix(nodeID, prefix) {
				nodeID = prefix + nodeID
			}
		}
		var ok bool
		n, ok = s.insertNode(ctx, nodeID, leaf, from, parent, config)
		if ok {
			break
		}
		if !instant {
			s.sendError(ctx, iq, errConflict)
			return
		}
	}

	if n.id != requested {
		s.sendResult(ctx, iq, wrapPubSub(xmlstream.Wrap(nil, xml.StartElement{
			Name: xml.Name{Local: "create"},
			Attr: []xml.Attr{{Name: xml.Name{Local: "node"}, Value: n.id}},
		})))
		return
	}
	s.sendResult(ctx, iq, nil)
}

// handleConfigureGet returns the node's configuration form to an owner.
func (s *Service) handleConfigureGet(ctx context.Context, iq stanza.IQ, cfgEl *wireConfigure) {
	n, ok := s.resolveNode(ctx, iq, cfgEl.Node)
	if !ok {
		return
	}
	n.mu.Lock()
	if !n.isOwner(iq.From) {
		n.mu.Unlock()
		s.sendError(ctx, iq, errForbidden)
		return
	}
	d := n.cfg.configForm(form.TypeForm, n.leaf, n.ownerList(), n.publisherList())
	n.mu.Unlock()
	s.sendResult(ctx, iq, wrapOwner(xmlstream.Wrap(d.TokenReader(), xml.StartElement{
		Name: xml.Name{Local: "configure"},
		Attr: nodeAttrs(n.id),
	})))
}

// handleConfigureSet applies a submitted configuration form.
func (s *Service) handleConfigureSet(ctx context.Context, iq stanza.IQ, cfgEl *wireConfigure) {
	n, ok := s.resolveNode(ctx, iq, cfgEl.Node)
	if !ok {
		return
	}
	d := s.sentConfigForm(cfgEl)
	if d == nil {
		s.sendError(ctx, iq, errBadRequest)
		return
	}
	if d.Type == form.TypeCancel {
		s.sendResult(ctx, iq, nil)
		return
	}
	if values, ok := d.GetStrings(fieldOwner); ok {
		if len(parseJIDList(values, s.log)) == 0 {
			// The node must keep at least one owner.
			s.sendError(ctx, iq, errNotAccept)
			return
		}
	}
	n.mu.Lock()
	if !n.isOwner(iq.From) {
		n.mu.Unlock()
		s.sendError(ctx, iq, errForbidden)
		return
	}
	n.applyConfigForm(ctx, d)
	var msgs []xml.TokenReader
	if n.cfg.NotifyConfig {
		msgs = n.notifyAll(func() xml.TokenReader { return eventConfiguration(n.id) })
	}
	n.deliver(ctx, append([]xml.TokenReader{iq.Result(nil)}, msgs...)...)
}

// handleDefault returns the default node configuration of the service.
func (s *Service) handleDefault(ctx context.Context, iq stanza.IQ, typ string) {
	leaf := typ != "collection"
	if !leaf && !s.collections {
		s.sendError(ctx, iq, unsupported("collections"))
		return
	}
	cfg := s.leafDefaults
	if !leaf {
		cfg = s.collectionDefaults
	}
	d := cfg.configForm(form.TypeForm, leaf, nil, nil)
	s.sendResult(ctx, iq, wrapOwner(xmlstream.Wrap(d.TokenReader(), xml.StartElement{
		Name: xml.Name{Local: "default"},
	})))
}

// handleDelete removes a node, notifying its subscribers.
func (s *Service) handleDelete(ctx context.Context, iq stanza.IQ, nodeID string) {
	n, ok := s.resolveNode(ctx, iq, nodeID)
	if !ok {
		return
	}
	if n == s.root {
		s.sendError(ctx, iq, errNotAllowed)
		return
	}
	n.mu.Lock()
	if !n.isOwner(iq.From) {
		n.mu.Unlock()
		s.sendError(ctx, iq, errForbidden)
		return
	}
	if err := s.backend.DeleteNode(ctx, n.id); err != nil {
		n.mu.Unlock()
		s.log.Error().Err(err).Str("node", n.id).Msg("deleting node from backend")
		s.sendError(ctx, iq, errInternal)
		return
	}
	msgs := n.notifyAll(func() xml.TokenReader { return eventDelete(n.id) })
	n.deliver(ctx, append([]xml.TokenReader{iq.Result(nil)}, msgs...)...)
	s.removeNode(n)
}

func entitiesStart(nodeID string) xml.StartElement {
	return xml.StartElement{
		Name: xml.Name{Local: "entities"},
		Attr: nodeAttrs(nodeID),
	}
}

// entityElement builds a single <entity/> element of an owner entities
// reply.
func entityElement(j jid.JID, aff Affiliation, state SubState, subID string) xml.TokenReader {
	attrs := []xml.Attr{
		{Name: xml.Name{Local: "jid"}, Value: j.String()},
		{Name: xml.Name{Local: "affiliation"}, Value: string(aff)},
		{Name: xml.Name{Local: "subscription"}, Value: string(state)},
	}
	if subID != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "subid"}, Value: subID})
	}
	return xmlstream.Wrap(nil, xml.StartElement{
		Name: xml.Name{Local: "entity"},
		Attr: attrs,
	})
}

// handleEntitiesGet streams the node's affiliates to an owner, one entry
// per subscription for entities that hold any.
func (s *Service) handleEntitiesGet(ctx context.Context, iq stanza.IQ, nodeID string) {
	n, ok := s.resolveNode(ctx, iq, nodeID)
	if !ok {
		return
	}
	n.mu.Lock()
	if !n.isOwner(iq.From) {
		n.mu.Unlock()
		s.sendError(ctx, iq, errForbidden)
		return
	}
	var entities []xml.TokenReader
	for _, af := range n.affiliatesInOrder() {
		subs := n.subscriptionsFor(af.JID)
		if len(subs) == 0 {
			entities = append(entities, entityElement(af.JID, af.Affiliation, SubNone, ""))
			continue
		}
		for _, sub := range subs {
			subID := ""
			if s.multiSubs {
				subID = sub.ID
			}
			entities = append(entities, entityElement(sub.JID, af.Affiliation, sub.State, subID))
		}
	}
	n.mu.Unlock()
	s.sendResult(ctx, iq, wrapOwner(xmlstream.Wrap(
		xmlstream.MultiReader(entities...), entitiesStart(n.id),
	)))
}

// handleEntitiesModify applies affiliation and subscription transitions
// from an owner's entities submission. An attempt to strip the node's
// only owner is skipped and reported back with the entity's state before
// the request; transitions for other entities still apply.
func (s *Service) handleEntitiesModify(ctx context.Context, iq stanza.IQ, nodeID string, entities []wireEntity) {
	n, ok := s.resolveNode(ctx, iq, nodeID)
	if !ok {
		return
	}
	n.mu.Lock()
	if !n.isOwner(iq.From) {
		n.mu.Unlock()
		s.sendError(ctx, iq, errForbidden)
		return
	}
	var failed []xml.TokenReader
	var msgs []xml.TokenReader
	// With multi-subscriptions the entry's subid picks the subscription;
	// otherwise the delivery address does.
	lookup := func(j jid.JID, subID string) *Subscription {
		if s.multiSubs {
			if subID == "" {
				return nil
			}
			return n.subscription(subID)
		}
		return n.subscriptionByJID(j)
	}
	for _, e := range entities {
		j, err := jid.Parse(e.JID)
		if err != nil {
			s.log.Warn().Str("jid", e.JID).Msg("skipping entity with unparseable address")
			failed = append(failed, entityElement(jid.JID{}, Affiliation(e.Affiliation), SubState(e.Subscription), ""))
			continue
		}
		if e.Affiliation != "" && string(n.affiliationOf(j)) != e.Affiliation {
			if n.affiliationOf(j) == AffiliationOwner && len(n.ownerList()) == 1 {
				state := SubNone
				if sub := n.subscriptionByJID(j); sub != nil {
					state = sub.State
				}
				failed = append(failed, entityElement(j, AffiliationOwner, state, ""))
				continue
			}
			switch e.Affiliation {
			case string(AffiliationOwner):
				n.setAffiliation(ctx, j, AffiliationOwner)
			case string(AffiliationPublisher):
				n.setAffiliation(ctx, j, AffiliationPublisher)
			case string(AffiliationNone):
				n.setAffiliation(ctx, j, AffiliationNone)
			default:
				n.setAffiliation(ctx, j, AffiliationOutcast)
			}
		}
		switch SubState(e.Subscription) {
		case SubNone:
			if sub := lookup(j, e.SubID); sub != nil {
				n.cancelSubscription(ctx, sub)
			}
		case Subscribed:
			sub := lookup(j, e.SubID)
			if sub == nil {
				sub = n.addSubscription(ctx, j, j, nil)
			}
			if sub.State != Subscribed {
				msgs = append(msgs, n.approveSubscription(ctx, sub, true)...)
			}
		}
	}
	if len(failed) > 0 {
		echo := wrapOwner(xmlstream.Wrap(xmlstream.MultiReader(failed...), entitiesStart(n.id)))
		n.deliver(ctx, append([]xml.TokenReader{iq.Error(errNotAccept, echo)}, msgs...)...)
		return
	}
	n.deliver(ctx, append([]xml.TokenReader{iq.Result(nil)}, msgs...)...)
}

// handlePurge removes every item from a persistent leaf node.
func (s *Service) handlePurge(ctx context.Context, iq stanza.IQ, nodeID string) {
	n, ok := s.resolveNode(ctx, iq, nodeID)
	if !ok {
		return
	}
	n.mu.Lock()
	if !n.isOwner(iq.From) {
		n.mu.Unlock()
		s.sendError(ctx, iq, errForbidden)
		return
	}
	if !n.leaf {
		n.mu.Unlock()
		s.sendError(ctx, iq, unsupported("purge-nodes"))
		return
	}
	if !n.cfg.PersistItems {
		n.mu.Unlock()
		s.sendError(ctx, iq, unsupported("persistent-items"))
		return
	}
	msgs := n.purge(ctx)
	n.deliver(ctx, append([]xml.TokenReader{iq.Result(nil)}, msgs...)...)
}
