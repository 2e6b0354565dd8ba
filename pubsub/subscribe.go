// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"context"
	"encoding/xml"

	"mellium.im/xmlstream"

	"github.com/arborpub/arbor/form"
	"github.com/arborpub/arbor/jid"
	"github.com/arborpub/arbor/stanza"
)

var errNotSubscribed = Error{
	Err:  stanza.Error{Type: stanza.Cancel, Condition: stanza.UnexpectedRequest},
	Cond: CondNotSubscribed,
}

// handleSubscribe creates a subscription to a node, or echoes the state
// of an existing one when the node does not admit another.
func (s *Service) handleSubscribe(ctx context.Context, iq stanza.IQ, q *pubsubQuery) {
	n, ok := s.resolveNode(ctx, iq, q.Subscribe.Node)
	if !ok {
		return
	}
	subscriber, err := jid.Parse(q.Subscribe.JID)
	if err != nil {
		s.sendError(ctx, iq, badRequest(CondInvalidJID))
		return
	}
	owner := subscriber.Bare()
	if !iq.From.Bare().Equal(owner) && !s.isAdmin(iq.From) {
		s.sendError(ctx, iq, badRequest(CondInvalidJID))
		return
	}
	if !s.registry.IsRegistered(subscriber) {
		s.sendError(ctx, iq, errForbidden)
		return
	}
	var opts *form.Data
	if q.Options != nil {
		opts = q.Options.Form
	}

	n.mu.Lock()
	if n.affiliationOf(owner) == AffiliationOutcast {
		n.mu.Unlock()
		s.sendError(ctx, iq, errForbidden)
		return
	}
	if !n.cfg.Subscribe && !s.isAdmin(iq.From) {
		n.mu.Unlock()
		s.sendError(ctx, iq, errNotAllowed)
		return
	}
	if !n.cfg.AccessModel.canSubscribe(n, owner) {
		refusal := n.cfg.AccessModel.refusal()
		n.mu.Unlock()
		s.sendError(ctx, iq, refusal)
		return
	}
	if !n.leaf {
		// A subscriber may hold one nodes subscription and, subject to
		// the multi-subscription setting, items subscriptions besides it.
		requested := SubNodes
		if opts != nil {
			if v, ok := opts.GetString(fieldSubType); ok && SubType(v) == SubItems {
				requested = SubItems
			}
		}
		for _, sub := range n.subscriptionsFor(owner) {
			if sub.Type != requested {
				continue
			}
			if requested == SubNodes {
				n.mu.Unlock()
				s.sendError(ctx, iq, errConflict)
				return
			}
			if !s.multiSubs {
				reply := wrapPubSub(subscriptionElement(n.id, sub, false))
				n.mu.Unlock()
				s.sendResult(ctx, iq, reply)
				return
			}
		}
	} else if !s.multiSubs {
		if sub := n.subscriptionByJID(subscriber); sub != nil {
			reply := wrapPubSub(subscriptionElement(n.id, sub, false))
			n.mu.Unlock()
			s.sendResult(ctx, iq, reply)
			return
		}
	}

	sub := n.addSubscription(ctx, owner, subscriber, opts)
	var msgs []xml.TokenReader
	if sub.State == SubPending {
		msgs = n.authorizationRequests(sub)
	} else if msg := n.lastPublishedMessage(sub); msg != nil {
		msgs = append(msgs, msg)
	}
	gated := n.cfg.PresenceBasedDelivery || sub.needsPresence()
	reply := iq.Result(wrapPubSub(subscriptionElement(n.id, sub, s.multiSubs)))
	n.deliver(ctx, append([]xml.TokenReader{reply}, msgs...)...)
	if gated {
		s.presenceSubscriptionRequired(ctx, owner)
	}
}

// findSubscription resolves the subscription a request addresses. With
// multi-subscriptions the subscription ID is authoritative; otherwise the
// jid attribute identifies it. The caller holds the node lock; on failure
// the lock is released, the error replied, and ok is false.
func (s *Service) findSubscription(ctx context.Context, iq stanza.IQ, n *Node, jidAttr, subID string) (*Subscription, bool) {
	if s.multiSubs {
		if subID == "" {
			n.mu.Unlock()
			s.sendError(ctx, iq, badRequest(CondSubIDRequired))
			return nil, false
		}
		sub := n.subscription(subID)
		if sub == nil {
			n.mu.Unlock()
			s.sendError(ctx, iq, notAcceptable(CondInvalidSubID))
			return nil, false
		}
		return sub, true
	}
	if jidAttr == "" {
		n.mu.Unlock()
		s.sendError(ctx, iq, badRequest(CondJIDRequired))
		return nil, false
	}
	j, err := jid.Parse(jidAttr)
	if err != nil {
		n.mu.Unlock()
		s.sendError(ctx, iq, badRequest(CondInvalidJID))
		return nil, false
	}
	sub := n.subscriptionByJID(j)
	if sub == nil {
		n.mu.Unlock()
		s.sendError(ctx, iq, errNotSubscribed)
		return nil, false
	}
	if subID != "" && subID != sub.ID {
		n.mu.Unlock()
		s.sendError(ctx, iq, notAcceptable(CondInvalidSubID))
		return nil, false
	}
	return sub, true
}

// handleUnsubscribe cancels a subscription.
func (s *Service) handleUnsubscribe(ctx context.Context, iq stanza.IQ, q *pubsubQuery) {
	n, ok := s.resolveNode(ctx, iq, q.Unsubscribe.Node)
	if !ok {
		return
	}
	n.mu.Lock()
	sub, ok := s.findSubscription(ctx, iq, n, q.Unsubscribe.JID, q.Unsubscribe.SubID)
	if !ok {
		return
	}
	if !sub.canModify(iq.From) && !s.isAdmin(iq.From) {
		n.mu.Unlock()
		s.sendError(ctx, iq, errForbidden)
		return
	}
	gated := n.cfg.PresenceBasedDelivery || sub.needsPresence()
	owner := sub.Owner
	n.cancelSubscription(ctx, sub)
	n.mu.Unlock()
	s.sendResult(ctx, iq, nil)
	if gated {
		s.presenceSubscriptionNotRequired(ctx, owner)
	}
}

// handleOptionsGet returns a subscription's options form.
func (s *Service) handleOptionsGet(ctx context.Context, iq stanza.IQ, q *pubsubQuery) {
	n, ok := s.resolveNode(ctx, iq, q.Options.Node)
	if !ok {
		return
	}
	n.mu.Lock()
	sub, ok := s.findSubscription(ctx, iq, n, q.Options.JID, q.Options.SubID)
	if !ok {
		return
	}
	if !sub.canModify(iq.From) && !s.isAdmin(iq.From) {
		n.mu.Unlock()
		s.sendError(ctx, iq, errForbidden)
		return
	}
	reply := wrapPubSub(xmlstream.Wrap(sub.optionsForm().TokenReader(), optionsStart(n.id, sub, s.multiSubs)))
	n.mu.Unlock()
	s.sendResult(ctx, iq, reply)
}

// handleOptionsSet applies a submitted options form to a subscription.
func (s *Service) handleOptionsSet(ctx context.Context, iq stanza.IQ, q *pubsubQuery) {
	n, ok := s.resolveNode(ctx, iq, q.Options.Node)
	if !ok {
		return
	}
	if q.Options.Form == nil {
		s.sendError(ctx, iq, errBadRequest)
		return
	}
	n.mu.Lock()
	sub, ok := s.findSubscription(ctx, iq, n, q.Options.JID, q.Options.SubID)
	if !ok {
		return
	}
	if !sub.canModify(iq.From) && !s.isAdmin(iq.From) {
		n.mu.Unlock()
		s.sendError(ctx, iq, errForbidden)
		return
	}
	if q.Options.Form.Type == form.TypeCancel {
		n.mu.Unlock()
		s.sendResult(ctx, iq, nil)
		return
	}
	sub.applyOptions(q.Options.Form)
	n.persistSubscription(ctx, sub)
	gated := n.cfg.PresenceBasedDelivery || sub.needsPresence()
	owner := sub.Owner
	n.mu.Unlock()
	s.sendResult(ctx, iq, nil)
	if gated {
		s.presenceSubscriptionRequired(ctx, owner)
	} else {
		s.presenceSubscriptionNotRequired(ctx, owner)
	}
}

func optionsStart(nodeID string, sub *Subscription, withSubID bool) xml.StartElement {
	attrs := append(nodeAttrs(nodeID), xml.Attr{
		Name: xml.Name{Local: "jid"}, Value: sub.JID.String(),
	})
	if withSubID {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "subid"}, Value: sub.ID})
	}
	return xml.StartElement{Name: xml.Name{Local: "options"}, Attr: attrs}
}

// handleSubscriptions lists every subscription held by the sender's bare
// JID across all nodes.
func (s *Service) handleSubscriptions(ctx context.Context, iq stanza.IQ) {
	owner := iq.From.Bare()
	var entries []xml.TokenReader
	for _, n := range s.Nodes() {
		n.mu.Lock()
		aff := n.affiliationOf(owner)
		for _, sub := range n.subscriptionsFor(owner) {
			attrs := append(nodeAttrs(n.id),
				xml.Attr{Name: xml.Name{Local: "jid"}, Value: sub.JID.String()},
				xml.Attr{Name: xml.Name{Local: "affiliation"}, Value: string(aff)},
				xml.Attr{Name: xml.Name{Local: "subscription"}, Value: string(sub.State)},
			)
			if s.multiSubs {
				attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "subid"}, Value: sub.ID})
			}
			entries = append(entries, xmlstream.Wrap(nil, xml.StartElement{
				Name: xml.Name{Local: "subscription"},
				Attr: attrs,
			}))
		}
		n.mu.Unlock()
	}
	if len(entries) == 0 {
		s.sendError(ctx, iq, errItemNotFound)
		return
	}
	s.sendResult(ctx, iq, wrapPubSub(xmlstream.Wrap(
		xmlstream.MultiReader(entries...),
		xml.StartElement{Name: xml.Name{Local: "subscriptions"}},
	)))
}

// handleAffiliations lists every affiliation held by the sender's bare
// JID across all nodes.
func (s *Service) handleAffiliations(ctx context.Context, iq stanza.IQ) {
	owner := iq.From.Bare()
	var entries []xml.TokenReader
	for _, n := range s.Nodes() {
		n.mu.Lock()
		af := n.affiliate(owner)
		if af != nil {
			entries = append(entries, xmlstream.Wrap(nil, xml.StartElement{
				Name: xml.Name{Local: "affiliation"},
				Attr: append(nodeAttrs(n.id),
					xml.Attr{Name: xml.Name{Local: "jid"}, Value: af.JID.String()},
					xml.Attr{Name: xml.Name{Local: "affiliation"}, Value: string(af.Affiliation)},
				),
			}))
		}
		n.mu.Unlock()
	}
	if len(entries) == 0 {
		s.sendError(ctx, iq, errItemNotFound)
		return
	}
	s.sendResult(ctx, iq, wrapPubSub(xmlstream.Wrap(
		xmlstream.MultiReader(entries...),
		xml.StartElement{Name: xml.Name{Local: "affiliations"}},
	)))
}
