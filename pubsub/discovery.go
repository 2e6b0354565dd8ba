// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"context"
	"time"

	"github.com/arborpub/arbor/commands"
	"github.com/arborpub/arbor/disco"
	"github.com/arborpub/arbor/form"
	"github.com/arborpub/arbor/stanza"
)

// serviceFeatures are the protocol fragments every service instance
// implements. Fragments gated on service configuration are appended by
// discoInfo.
var serviceFeatures = [...]string{
	"access-authorize",
	"access-open",
	"access-presence",
	"access-roster",
	"access-whitelist",
	"config-node",
	"create-nodes",
	"delete-nodes",
	"get-pending",
	"item-ids",
	"last-published",
	"manage-subscriptions",
	"meta-data",
	"modify-affiliations",
	"outcast-affiliation",
	"persistent-items",
	"presence-notifications",
	"presence-subscribe",
	"publish",
	"publisher-affiliation",
	"purge-nodes",
	"retract-items",
	"retrieve-affiliations",
	"retrieve-default",
	"retrieve-items",
	"retrieve-subscriptions",
	"subscribe",
	"subscription-options",
}

// metadataForm summarizes a node for service discovery.
func (n *Node) metadataForm() *form.Data {
	n.mu.Lock()
	defer n.mu.Unlock()
	d := &form.Data{
		Type: form.TypeResult,
		Fields: []form.Field{
			{Type: form.Hidden, Var: form.FormType, Values: []string{FormTypeMetadata}},
			{Type: form.JID, Var: "pubsub#creator", Values: []string{n.creator.String()}},
			{Type: form.Text, Var: "pubsub#creation_date", Values: []string{n.created.UTC().Format(time.RFC3339)}},
		},
	}
	if n.cfg.Title != "" {
		d.Fields = append(d.Fields, form.Field{Type: form.Text, Var: fieldTitle, Values: []string{n.cfg.Title}})
	}
	if n.cfg.Description != "" {
		d.Fields = append(d.Fields, form.Field{Type: form.Text, Var: fieldDescription, Values: []string{n.cfg.Description}})
	}
	if n.cfg.Language != "" {
		d.Fields = append(d.Fields, form.Field{Type: form.Text, Var: fieldLanguage, Values: []string{n.cfg.Language}})
	}
	return d
}

// discoInfo answers a service discovery information query about the
// service itself or about one of its nodes.
func (s *Service) discoInfo(ctx context.Context, iq stanza.IQ, q disco.InfoQuery) {
	if iq.Type != stanza.GetIQ {
		s.sendError(ctx, iq, errBadRequest)
		return
	}
	if q.Node == "" {
		result := disco.InfoResult{
			Identities: []disco.Identity{{Category: "pubsub", Type: "service", Name: "Publish-Subscribe"}},
			Features: []disco.Feature{
				{Var: disco.NSInfo},
				{Var: disco.NSItems},
				{Var: commands.NS},
				{Var: NS},
			},
		}
		for _, frag := range serviceFeatures {
			result.Features = append(result.Features, disco.Feature{Var: NS + "#" + frag})
		}
		if s.collections {
			result.Features = append(result.Features, disco.Feature{Var: NS + "#collections"})
		}
		if s.instant {
			result.Features = append(result.Features, disco.Feature{Var: NS + "#instant-nodes"})
		}
		if s.multiSubs {
			result.Features = append(result.Features, disco.Feature{Var: NS + "#multi-subscribe"})
		}
		s.sendResult(ctx, iq, result.TokenReader())
		return
	}
	n, ok := s.Node(q.Node)
	if !ok {
		s.sendError(ctx, iq, errItemNotFound)
		return
	}
	typ := "leaf"
	if !n.leaf {
		typ = "collection"
	}
	result := disco.InfoResult{
		Node:       q.Node,
		Identities: []disco.Identity{{Category: "pubsub", Type: typ}},
		Features:   []disco.Feature{{Var: NS}},
		Form:       n.metadataForm(),
	}
	s.sendResult(ctx, iq, result.TokenReader())
}

// discoItems answers a service discovery items query: the top level nodes
// for the service itself, the children of a collection, or the published
// item IDs of a leaf.
func (s *Service) discoItems(ctx context.Context, iq stanza.IQ, q disco.ItemsQuery) {
	if iq.Type != stanza.GetIQ {
		s.sendError(ctx, iq, errBadRequest)
		return
	}
	n := s.root
	if q.Node != "" {
		var ok bool
		n, ok = s.Node(q.Node)
		if !ok {
			s.sendError(ctx, iq, errItemNotFound)
			return
		}
	}
	result := disco.ItemsResult{Node: q.Node}
	if n.leaf {
		n.mu.Lock()
		for _, it := range n.items {
			result.Items = append(result.Items, disco.Item{JID: s.jid, Name: it.ID})
		}
		n.mu.Unlock()
	} else {
		for _, child := range n.childrenInOrder() {
			result.Items = append(result.Items, disco.Item{
				JID:  s.jid,
				Node: child.ID(),
				Name: child.Config().Title,
			})
		}
	}
	s.sendResult(ctx, iq, result.TokenReader())
}
