// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"context"
	"encoding/xml"
	"sort"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/arborpub/arbor/form"
	"github.com/arborpub/arbor/jid"
	"github.com/arborpub/arbor/stanza"
	"github.com/arborpub/arbor/storage"
)

// Node is a single node in the service's forest, either a leaf node that
// items are published to or a collection node that groups other nodes.
//
// Every node carries one mutex guarding its affiliates, subscriptions,
// items, and configuration. Handlers hold it for the duration of a check
// and the mutation it guards; prepared notifications are routed after the
// lock is released. The parent and children fields form the forest and
// are guarded by the service's forest lock instead, so that relinking a
// node never requires holding two node locks at once.
type Node struct {
	svc     *Service
	id      string
	leaf    bool
	created time.Time

	mu         sync.Mutex
	sendMu     sync.Mutex
	cfg        NodeConfig
	creator    jid.JID
	affiliates map[string]*Affiliate
	subs       map[string]*Subscription

	// Leaf state, in publication order with the oldest item first.
	items    []*Item
	byItemID map[string]*Item

	// Forest state, guarded by svc.forestMu.
	parent     *Node
	children   map[string]*Node
	childOrder []string
}

func newNode(svc *Service, id string, leaf bool, creator jid.JID, cfg NodeConfig) *Node {
	n := &Node{
		svc:        svc,
		id:         id,
		leaf:       leaf,
		created:    svc.now(),
		creator:    creator.Bare(),
		cfg:        cfg,
		affiliates: make(map[string]*Affiliate),
		subs:       make(map[string]*Subscription),
	}
	if leaf {
		n.byItemID = make(map[string]*Item)
	} else {
		n.children = make(map[string]*Node)
	}
	return n
}

// ID returns the node identifier. The root collection's identifier is the
// empty string.
func (n *Node) ID() string { return n.id }

// Leaf reports whether items can be published to the node.
func (n *Node) Leaf() bool { return n.leaf }

// Config returns a copy of the node's current configuration.
func (n *Node) Config() NodeConfig {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cfg
}

// deliver routes prepared stanzas in order. The caller must hold mu;
// deliver releases it before routing and guarantees that stanzas from
// consecutive mutations of the same node leave in mutation order.
func (n *Node) deliver(ctx context.Context, msgs ...xml.TokenReader) {
	n.sendMu.Lock()
	n.mu.Unlock()
	for _, msg := range msgs {
		if msg != nil {
			n.svc.route(ctx, msg)
		}
	}
	n.sendMu.Unlock()
}

// Affiliates and subscriptions. The caller holds the node lock.

func (n *Node) affiliate(j jid.JID) *Affiliate {
	return n.affiliates[j.Bare().String()]
}

func (n *Node) affiliationOf(j jid.JID) Affiliation {
	if af := n.affiliate(j); af != nil {
		return af.Affiliation
	}
	return AffiliationNone
}

// isOwner reports whether j manages the node. Service admins manage every
// node.
func (n *Node) isOwner(j jid.JID) bool {
	return n.affiliationOf(j) == AffiliationOwner || n.svc.isAdmin(j)
}

func (n *Node) ownerList() []jid.JID {
	var owners []jid.JID
	for _, af := range n.affiliatesInOrder() {
		if af.Affiliation == AffiliationOwner {
			owners = append(owners, af.JID)
		}
	}
	return owners
}

func (n *Node) publisherList() []jid.JID {
	var pubs []jid.JID
	for _, af := range n.affiliatesInOrder() {
		if af.Affiliation == AffiliationPublisher {
			pubs = append(pubs, af.JID)
		}
	}
	return pubs
}

func (n *Node) affiliatesInOrder() []*Affiliate {
	out := make([]*Affiliate, 0, len(n.affiliates))
	for _, af := range n.affiliates {
		out = append(out, af)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JID.String() < out[j].JID.String() })
	return out
}

// setAffiliation records the affiliation of a bare JID, creating the
// affiliate when needed, and writes it through to the backend.
func (n *Node) setAffiliation(ctx context.Context, j jid.JID, aff Affiliation) *Affiliate {
	bare := j.Bare()
	af := n.affiliates[bare.String()]
	if af == nil {
		af = &Affiliate{JID: bare}
		n.affiliates[bare.String()] = af
	}
	af.Affiliation = aff
	n.persistAffiliation(ctx, af)
	return af
}

func (n *Node) removeAffiliate(ctx context.Context, j jid.JID) {
	bare := j.Bare()
	if _, ok := n.affiliates[bare.String()]; !ok {
		return
	}
	delete(n.affiliates, bare.String())
	if err := n.svc.backend.DeleteAffiliation(ctx, n.id, bare.String()); err != nil {
		n.svc.log.Error().Err(err).Str("node", n.id).Str("jid", bare.String()).
			Msg("deleting affiliation from backend")
	}
}

func (n *Node) subscription(id string) *Subscription {
	return n.subs[id]
}

// subscriptionByJID finds the first subscription whose delivery address is
// exactly j. It is used when requests identify a subscription by JID
// rather than by subscription ID.
func (n *Node) subscriptionByJID(j jid.JID) *Subscription {
	for _, sub := range n.subsInOrder() {
		if sub.JID.Equal(j) {
			return sub
		}
	}
	return nil
}

func (n *Node) subscriptionsFor(owner jid.JID) []*Subscription {
	bare := owner.Bare()
	var out []*Subscription
	for _, sub := range n.subsInOrder() {
		if sub.Owner.Equal(bare) {
			out = append(out, sub)
		}
	}
	return out
}

// subsInOrder returns the subscriptions sorted by ID. IDs are generated
// in a sortable form, so the result is in subscription creation order.
func (n *Node) subsInOrder() []*Subscription {
	out := make([]*Subscription, 0, len(n.subs))
	for _, sub := range n.subs {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// addSubscription creates a subscription for owner delivered to the
// deliver address, applying any submitted options form. New subscriptions
// start out pending when the access model requires owner approval, unless
// the subscriber manages the node.
func (n *Node) addSubscription(ctx context.Context, owner, deliver jid.JID, opts *form.Data) *Subscription {
	sub := &Subscription{
		ID:      xid.New().String(),
		Owner:   owner.Bare(),
		JID:     deliver,
		State:   Subscribed,
		Type:    SubItems,
		Deliver: true,
		Depth:   1,
	}
	if !n.leaf {
		sub.Type = SubNodes
	}
	if n.cfg.AccessModel.authorizationRequired() && !n.isOwner(owner) {
		sub.State = SubPending
	}
	sub.applyOptions(opts)
	n.subs[sub.ID] = sub
	if n.affiliate(owner) == nil {
		n.setAffiliation(ctx, owner, AffiliationMember)
	}
	n.persistSubscription(ctx, sub)
	return sub
}

// cancelSubscription removes a subscription. Member affiliates are pruned
// along with their last subscription.
func (n *Node) cancelSubscription(ctx context.Context, sub *Subscription) {
	if _, ok := n.subs[sub.ID]; !ok {
		return
	}
	delete(n.subs, sub.ID)
	if err := n.svc.backend.DeleteSubscription(ctx, n.id, sub.ID); err != nil {
		n.svc.log.Error().Err(err).Str("node", n.id).Str("subid", sub.ID).
			Msg("deleting subscription from backend")
	}
	af := n.affiliate(sub.Owner)
	if af != nil && af.Affiliation == AffiliationMember && len(n.subscriptionsFor(sub.Owner)) == 0 {
		n.removeAffiliate(ctx, sub.Owner)
	}
}

// approveSubscription resolves a pending subscription and returns the
// state change notifications to route. A denied subscription is removed
// and reported to the subscriber with state none.
func (n *Node) approveSubscription(ctx context.Context, sub *Subscription, approved bool) []xml.TokenReader {
	var msgs []xml.TokenReader
	if approved {
		sub.State = Subscribed
		n.persistSubscription(ctx, sub)
		msgs = append(msgs, n.svc.eventMessage(sub.JID, "",
			eventSubscription(n.id, sub, n.svc.multiSubs)))
		if msg := n.lastPublishedMessage(sub); msg != nil {
			msgs = append(msgs, msg)
		}
		return msgs
	}
	n.cancelSubscription(ctx, sub)
	denied := *sub
	denied.State = SubNone
	return append(msgs, n.svc.eventMessage(sub.JID, "",
		eventSubscription(n.id, &denied, n.svc.multiSubs)))
}

// Items. The caller holds the node lock.

func (n *Node) itemByID(id string) *Item {
	return n.byItemID[id]
}

func (n *Node) lastItem() *Item {
	if len(n.items) == 0 {
		return nil
	}
	return n.items[len(n.items)-1]
}

// itemsTail returns the max most recent items in publication order, or
// all items when max is zero or negative.
func (n *Node) itemsTail(max int) []*Item {
	if max <= 0 || max >= len(n.items) {
		return n.items
	}
	return n.items[len(n.items)-max:]
}

func (n *Node) removeItem(it *Item) {
	delete(n.byItemID, it.ID)
	for i := range n.items {
		if n.items[i] == it {
			n.items = append(n.items[:i], n.items[i+1:]...)
			return
		}
	}
}

// publish appends a batch of items, republishing over any item with the
// same ID, bounds the retained history, and returns the notifications to
// route. Persistent nodes have their writes and evictions queued on the
// service batcher.
func (n *Node) publish(ctx context.Context, batch []*Item) []xml.TokenReader {
	for _, it := range batch {
		if old := n.byItemID[it.ID]; old != nil {
			n.removeItem(old)
		}
		n.items = append(n.items, it)
		n.byItemID[it.ID] = it
		if n.cfg.PersistItems {
			n.svc.batch.queueAdd(it.record())
		}
	}
	max := 1
	if n.cfg.PersistItems {
		max = n.cfg.MaxItems
	}
	if max > 0 {
		for len(n.items) > max {
			old := n.items[0]
			n.items = n.items[1:]
			delete(n.byItemID, old.ID)
			if n.cfg.PersistItems {
				n.svc.batch.queueRemove(old.record())
			}
		}
	}
	return n.notifyPublished(batch)
}

// deleteItems removes a batch of items, queues their removal from the
// backend, and returns the retraction notifications to route. Nodes
// configured not to notify on retraction return none.
func (n *Node) deleteItems(ctx context.Context, batch []*Item) []xml.TokenReader {
	ids := make([]string, 0, len(batch))
	for _, it := range batch {
		n.removeItem(it)
		ids = append(ids, it.ID)
		if n.cfg.PersistItems {
			n.svc.batch.queueRemove(it.record())
		}
	}
	if !n.cfg.NotifyRetract {
		return nil
	}
	var msgs []xml.TokenReader
	for _, sub := range n.subsInOrder() {
		if sub.Type != SubItems || !n.admitsEvent(sub) {
			continue
		}
		msgs = append(msgs, n.svc.eventMessage(sub.JID, "", eventRetract(n.id, ids)))
	}
	return msgs
}

// purge removes every item on the node, queues the removals, and returns
// the purge notifications to route.
func (n *Node) purge(ctx context.Context) []xml.TokenReader {
	removed := n.items
	n.items = nil
	n.byItemID = make(map[string]*Item)
	if n.cfg.PersistItems {
		for _, it := range removed {
			n.svc.batch.queueRemove(it.record())
		}
	}
	return n.notifyAll(func() xml.TokenReader { return eventPurge(n.id) })
}

// Notification admission. The caller holds the node lock.

// admitsEvent applies the state, delivery, and presence gates shared by
// every notification kind.
func (n *Node) admitsEvent(sub *Subscription) bool {
	if !sub.isActive() || !sub.Deliver {
		return false
	}
	if n.cfg.PresenceBasedDelivery || n.cfg.AccessModel == AccessPresence || sub.needsPresence() {
		shows := n.svc.presence.showsFor(sub.JID)
		if !sub.matchesShow(shows) {
			return false
		}
	}
	return true
}

// admits additionally applies the per-item keyword filter.
func (n *Node) admits(sub *Subscription, it *Item) bool {
	return sub.Type == SubItems && n.admitsEvent(sub) && sub.matchesKeyword(it)
}

// notifyPublished builds one notification per admitted item for every
// subscription, or a single digest message when the subscription asked
// for digests.
func (n *Node) notifyPublished(batch []*Item) []xml.TokenReader {
	withPayload := n.cfg.DeliverPayloads
	var msgs []xml.TokenReader
	for _, sub := range n.subsInOrder() {
		var admitted []*Item
		for _, it := range batch {
			if n.admits(sub, it) {
				admitted = append(admitted, it)
			}
		}
		if len(admitted) == 0 {
			continue
		}
		if sub.Digest {
			var body string
			if sub.IncludeBody && withPayload {
				body = admitted[0].payloadText()
			}
			msgs = append(msgs, n.svc.eventMessage(sub.JID, body,
				eventItems(n.id, admitted, withPayload)))
			continue
		}
		for _, it := range admitted {
			var body string
			if sub.IncludeBody && withPayload {
				body = it.payloadText()
			}
			msgs = append(msgs, n.svc.eventMessage(sub.JID, body,
				eventItems(n.id, []*Item{it}, withPayload)))
		}
	}
	return msgs
}

// notifyAll builds one notification per admitted subscription. The
// payload builder is invoked once per message because token readers are
// single use.
func (n *Node) notifyAll(payload func() xml.TokenReader) []xml.TokenReader {
	var msgs []xml.TokenReader
	for _, sub := range n.subsInOrder() {
		if !n.admitsEvent(sub) {
			continue
		}
		msgs = append(msgs, n.svc.eventMessage(sub.JID, "", payload()))
	}
	return msgs
}

// lastPublishedMessage builds the delayed delivery of the most recent
// item for a new or newly approved subscription, or nil when the node is
// not configured to send one.
func (n *Node) lastPublishedMessage(sub *Subscription) xml.TokenReader {
	if !n.leaf || !n.cfg.SendItemSubscribe || !sub.isActive() {
		return nil
	}
	last := n.lastItem()
	if last == nil {
		return nil
	}
	var body string
	if sub.IncludeBody && n.cfg.DeliverPayloads {
		body = last.payloadText()
	}
	return n.svc.eventMessage(sub.JID, body,
		eventItems(n.id, []*Item{last}, n.cfg.DeliverPayloads),
		stanza.Delay{From: n.svc.jid, Stamp: last.Created}.TokenReader(),
	)
}

// Configuration. The caller holds the node lock.

// applyConfigForm folds a submitted node_config form into the node. The
// owner and publisher fields reconcile the node's affiliations when
// present and non-empty; the other fields update the configuration. The
// updated node is written through to the backend.
func (n *Node) applyConfigForm(ctx context.Context, d *form.Data) {
	n.cfg = n.cfg.withForm(d, n.leaf, n.svc.log)
	if values, ok := d.GetStrings(fieldOwner); ok {
		if want := parseJIDList(values, n.svc.log); len(want) > 0 {
			n.reconcileAffiliation(ctx, want, AffiliationOwner)
		}
	}
	if values, ok := d.GetStrings(fieldPublisher); ok {
		if want := parseJIDList(values, n.svc.log); len(want) > 0 {
			n.reconcileAffiliation(ctx, want, AffiliationPublisher)
		}
	}
	n.persistNode(ctx)
}

// reconcileAffiliation grants aff to every listed JID and demotes
// previous holders that are no longer listed to none.
func (n *Node) reconcileAffiliation(ctx context.Context, want []jid.JID, aff Affiliation) {
	wanted := make(map[string]bool, len(want))
	for _, j := range want {
		wanted[j.Bare().String()] = true
		if n.affiliationOf(j) != aff {
			n.setAffiliation(ctx, j, aff)
		}
	}
	for _, af := range n.affiliatesInOrder() {
		if af.Affiliation == aff && !wanted[af.JID.String()] {
			n.setAffiliation(ctx, af.JID, AffiliationNone)
		}
	}
}

// configMap renders the configuration in storage form. Owner and
// publisher affiliations are stored as affiliation records instead.
func (n *Node) configMap() map[string][]string {
	d := n.cfg.configForm(form.TypeResult, n.leaf, nil, nil)
	m := make(map[string][]string, len(d.Fields))
	for _, f := range d.Fields {
		switch f.Var {
		case form.FormType, fieldOwner, fieldPublisher:
			continue
		}
		if len(f.Values) == 0 {
			continue
		}
		m[f.Var] = append([]string(nil), f.Values...)
	}
	return m
}

// Persistence write-through. The caller holds the node lock. Failures are
// logged and the in-memory state stays authoritative.

func (n *Node) record() storage.NodeRecord {
	rec := storage.NodeRecord{
		NodeID:  n.id,
		Leaf:    n.leaf,
		Creator: n.creator.String(),
		Config:  n.configMap(),
	}
	if p := n.parentNode(); p != nil {
		rec.Parent = p.id
	}
	return rec
}

func (n *Node) persistNode(ctx context.Context) {
	if err := n.svc.backend.UpsertNode(ctx, n.record()); err != nil {
		n.svc.log.Error().Err(err).Str("node", n.id).Msg("saving node to backend")
	}
}

func (n *Node) persistAffiliation(ctx context.Context, af *Affiliate) {
	rec := storage.AffiliationRecord{
		NodeID:      n.id,
		JID:         af.JID.String(),
		Affiliation: string(af.Affiliation),
	}
	if err := n.svc.backend.UpsertAffiliation(ctx, rec); err != nil {
		n.svc.log.Error().Err(err).Str("node", n.id).Str("jid", rec.JID).
			Msg("saving affiliation to backend")
	}
}

func (n *Node) persistSubscription(ctx context.Context, sub *Subscription) {
	opts := make(map[string][]string)
	for _, f := range sub.optionsForm().Fields {
		if f.Var == form.FormType || len(f.Values) == 0 {
			continue
		}
		opts[f.Var] = append([]string(nil), f.Values...)
	}
	rec := storage.SubscriptionRecord{
		NodeID:  n.id,
		SubID:   sub.ID,
		Owner:   sub.Owner.String(),
		JID:     sub.JID.String(),
		State:   string(sub.State),
		Type:    string(sub.Type),
		Options: opts,
	}
	if err := n.svc.backend.UpsertSubscription(ctx, rec); err != nil {
		n.svc.log.Error().Err(err).Str("node", n.id).Str("subid", sub.ID).
			Msg("saving subscription to backend")
	}
}

// Forest structure. These take the service forest lock and must not be
// called with it held.

func (n *Node) parentNode() *Node {
	n.svc.forestMu.RLock()
	defer n.svc.forestMu.RUnlock()
	return n.parent
}

func (n *Node) childrenInOrder() []*Node {
	n.svc.forestMu.RLock()
	defer n.svc.forestMu.RUnlock()
	out := make([]*Node, 0, len(n.childOrder))
	for _, id := range n.childOrder {
		if c, ok := n.children[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (n *Node) childCount() int {
	n.svc.forestMu.RLock()
	defer n.svc.forestMu.RUnlock()
	return len(n.children)
}
