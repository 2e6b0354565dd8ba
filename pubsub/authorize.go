// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"context"
	"encoding/xml"

	"github.com/arborpub/arbor/commands"
	"github.com/arborpub/arbor/form"
	"github.com/arborpub/arbor/stanza"
)

// Fields of the subscription approval form.
const (
	fieldAuthNode       = "pubsub#node"
	fieldAuthSubID      = "pubsub#subid"
	fieldAuthSubscriber = "pubsub#subscriber_jid"
	fieldAuthAllow      = "pubsub#allow"
)

// authorizationForm builds the approval form an owner fills in to resolve
// a pending subscription. The caller holds the node lock.
func (n *Node) authorizationForm(sub *Subscription) *form.Data {
	return &form.Data{
		Type:         form.TypeForm,
		Title:        "Subscription approval",
		Instructions: "Approve or deny the subscription request below.",
		Fields: []form.Field{
			{Type: form.Hidden, Var: form.FormType, Values: []string{FormTypeAuthorize}},
			{Type: form.Hidden, Var: fieldAuthSubID, Values: []string{sub.ID}},
			{Type: form.Text, Var: fieldAuthNode, Label: "Node ID", Values: []string{n.id}},
			{Type: form.JID, Var: fieldAuthSubscriber, Label: "Subscriber Address", Values: []string{sub.JID.String()}},
			{Type: form.Boolean, Var: fieldAuthAllow, Label: "Allow this JID to subscribe to this node?", Values: []string{formBool(false)}},
		},
	}
}

// authorizationRequests builds one approval request message per node
// owner for a subscription that just entered the pending state. The
// caller holds the node lock.
func (n *Node) authorizationRequests(sub *Subscription) []xml.TokenReader {
	var msgs []xml.TokenReader
	for _, owner := range n.ownerList() {
		msgs = append(msgs, n.svc.eventMessage(owner, "", n.authorizationForm(sub).TokenReader()))
	}
	return msgs
}

// pendingSubscriptions returns the subscriptions awaiting owner approval
// in insertion order. The caller holds the node lock.
func (n *Node) pendingSubscriptions() []*Subscription {
	var pending []*Subscription
	for _, sub := range n.subsInOrder() {
		if sub.State == SubPending {
			pending = append(pending, sub)
		}
	}
	return pending
}

// handleAuthorizationAnswer resolves a pending subscription from a
// submitted approval form. Malformed answers and answers naming unknown
// nodes or subscriptions are dropped.
func (s *Service) handleAuthorizationAnswer(ctx context.Context, msg stanza.Message, d *form.Data) {
	nodeID, _ := d.GetString(fieldAuthNode)
	subID, _ := d.GetString(fieldAuthSubID)
	approved, ok := d.GetBool(fieldAuthAllow)
	if !ok {
		s.log.Warn().Str("from", msg.From.String()).Str("node", nodeID).
			Msg("unrecognized allow value in completed authorization form")
		return
	}
	n, ok := s.Node(nodeID)
	if !ok {
		return
	}
	n.mu.Lock()
	sub := n.subscription(subID)
	if sub == nil || sub.State != SubPending {
		n.mu.Unlock()
		return
	}
	msgs := n.approveSubscription(ctx, sub, approved)
	n.deliver(ctx, msgs...)
}

// getPendingCommand implements the two stage ad-hoc command that lets an
// owner review pending subscription requests. The first stage returns a
// form listing nodes the requester owns that have pending subscriptions;
// submitting a node re-sends its approval requests to the requester.
func (s *Service) getPendingCommand(ctx context.Context, iq stanza.IQ, cmd commands.Command, submitted *form.Data) (commands.Response, error) {
	if submitted == nil {
		field := form.Field{
			Type:  form.List,
			Var:   fieldAuthNode,
			Label: "The node for which to process pending subscriptions",
		}
		for _, n := range s.Nodes() {
			n.mu.Lock()
			pending := n.isOwner(iq.From) && len(n.pendingSubscriptions()) > 0
			n.mu.Unlock()
			if pending {
				field.Options = append(field.Options, form.Option{Value: n.id})
			}
		}
		d := form.New(field)
		d.Title = "Pending subscription requests"
		d.Instructions = "Select the node for which to process pending subscriptions."
		return commands.Response{
			Status:  commands.StatusExecuting,
			Actions: commands.Complete | commands.Complete<<3,
			Form:    d,
		}, nil
	}
	nodeID, _ := submitted.GetString(fieldAuthNode)
	n, ok := s.Node(nodeID)
	if !ok {
		return commands.Response{}, stanza.Error{Type: stanza.Cancel, Condition: stanza.ItemNotFound}
	}
	n.mu.Lock()
	if !n.isOwner(iq.From) {
		n.mu.Unlock()
		return commands.Response{}, stanza.Error{Type: stanza.Auth, Condition: stanza.Forbidden}
	}
	var msgs []xml.TokenReader
	for _, sub := range n.pendingSubscriptions() {
		msgs = append(msgs, s.eventMessage(iq.From, "", n.authorizationForm(sub).TokenReader()))
	}
	n.deliver(ctx, msgs...)
	return commands.Response{Status: commands.StatusCompleted}, nil
}
