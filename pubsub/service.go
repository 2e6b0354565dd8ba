// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"context"
	"encoding/xml"
	"hash/fnv"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/arborpub/arbor/commands"
	"github.com/arborpub/arbor/form"
	"github.com/arborpub/arbor/internal/attr"
	"github.com/arborpub/arbor/jid"
	"github.com/arborpub/arbor/stanza"
	"github.com/arborpub/arbor/storage"
)

// Router delivers outgoing stanzas to the rest of the server.
type Router interface {
	Route(ctx context.Context, stanza xml.TokenReader) error
}

// Registry answers whether a JID belongs to a registered user of the
// server. It controls who may create nodes when no explicit creator list
// is configured.
type Registry interface {
	IsRegistered(j jid.JID) bool
}

// Rosters exposes the presence subscription state and roster groups that
// the presence and roster access models check against.
type Rosters interface {
	SubscribedToPresence(owner, contact jid.JID) bool
	Groups(owner, contact jid.JID) []string
}

// allowAll is the Registry used when none is configured.
type allowAll struct{}

func (allowAll) IsRegistered(jid.JID) bool { return true }

// noRosters is the Rosters used when none is configured.
type noRosters struct{}

func (noRosters) SubscribedToPresence(jid.JID, jid.JID) bool { return false }
func (noRosters) Groups(jid.JID, jid.JID) []string           { return nil }

// Config assembles a publish-subscribe service.
type Config struct {
	// JID is the address of the service itself, usually a subdomain of
	// the chat service.
	JID jid.JID

	// Admins may manage every node regardless of affiliation.
	Admins []jid.JID

	// NodeCreators restricts node creation to the listed bare JIDs.
	// When empty, any registered user may create nodes.
	NodeCreators []jid.JID

	// CollectionNodes enables the node hierarchy: creating collection
	// nodes and addressing the root collection.
	CollectionNodes bool

	// InstantNodes lets entities create nodes without providing a node
	// ID.
	InstantNodes bool

	// MultiSubscriptions lets one entity hold several subscriptions to
	// the same node and adds subscription IDs to the wire format.
	MultiSubscriptions bool

	// FlushInterval and BatchSize tune the item persistence batcher.
	// They default to two minutes and fifty operations.
	FlushInterval time.Duration
	BatchSize     int

	// LeafDefaults and CollectionDefaults replace the built-in default
	// node configurations when set.
	LeafDefaults       *NodeConfig
	CollectionDefaults *NodeConfig

	// Logger defaults to a disabled logger.
	Logger zerolog.Logger

	// Now is the time source, defaulting to time.Now.
	Now func() time.Time

	Router   Router
	Registry Registry
	Rosters  Rosters
	Backend  storage.Backend
}

const createStripes = 32

// Service is a publish-subscribe service hosting a forest of nodes. The
// zero value is not usable; construct one with New and call Start before
// dispatching stanzas to it.
type Service struct {
	jid         jid.JID
	admins      map[string]bool
	creators    map[string]bool
	collections bool
	instant     bool
	multiSubs   bool

	leafDefaults       NodeConfig
	collectionDefaults NodeConfig

	log      zerolog.Logger
	nowFn    func() time.Time
	router   Router
	registry Registry
	rosters  Rosters
	backend  storage.Backend

	batch    *batcher
	presence *presences
	commands *commands.Manager

	// nodes maps node IDs to live nodes, including the root collection
	// under the empty ID. Insertion of new IDs is serialized on the
	// striped createMu locks; forestMu guards the parent and children
	// links of every node.
	nodes    sync.Map
	createMu [createStripes]sync.Mutex
	forestMu sync.RWMutex
	root     *Node
}

// New assembles a service from its configuration. The returned service
// does not load state or deliver anything until Start is called.
func New(cfg Config) (*Service, error) {
	if cfg.JID.String() == "" {
		return nil, errors.New("pubsub: a service JID is required")
	}
	if cfg.Router == nil {
		return nil, errors.New("pubsub: a router is required")
	}
	if cfg.Backend == nil {
		return nil, errors.New("pubsub: a storage backend is required")
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = 2 * time.Minute
	}
	size := cfg.BatchSize
	if size <= 0 {
		size = 50
	}
	svc := &Service{
		jid:         cfg.JID,
		admins:      bareSet(cfg.Admins),
		creators:    bareSet(cfg.NodeCreators),
		collections: cfg.CollectionNodes,
		instant:     cfg.InstantNodes,
		multiSubs:   cfg.MultiSubscriptions,
		log:         cfg.Logger,
		nowFn:       cfg.Now,
		router:      cfg.Router,
		registry:    cfg.Registry,
		rosters:     cfg.Rosters,
		backend:     cfg.Backend,
		presence:    newPresences(),
		commands:    commands.NewManager(),
	}
	if svc.nowFn == nil {
		svc.nowFn = time.Now
	}
	if svc.registry == nil {
		svc.registry = allowAll{}
	}
	if svc.rosters == nil {
		svc.rosters = noRosters{}
	}
	svc.leafDefaults = DefaultLeafConfig()
	if cfg.LeafDefaults != nil {
		svc.leafDefaults = *cfg.LeafDefaults
	}
	svc.collectionDefaults = DefaultCollectionConfig()
	if cfg.CollectionDefaults != nil {
		svc.collectionDefaults = *cfg.CollectionDefaults
	}
	svc.batch = newBatcher(svc.backend, svc.log, flush, size)

	svc.root = newNode(svc, "", false, svc.jid, svc.collectionDefaults)
	svc.nodes.Store("", svc.root)

	svc.commands.Register(NodeGetPending, commands.HandlerFunc(svc.getPendingCommand))
	return svc, nil
}

func bareSet(jids []jid.JID) map[string]bool {
	set := make(map[string]bool, len(jids))
	for _, j := range jids {
		set[j.Bare().String()] = true
	}
	return set
}

// Addr returns the address of the service itself.
func (s *Service) Addr() jid.JID { return s.jid }

func (s *Service) now() time.Time { return s.nowFn() }

func (s *Service) isAdmin(j jid.JID) bool {
	return s.admins[j.Bare().String()]
}

// canCreateNodes reports whether j may create nodes on the service.
func (s *Service) canCreateNodes(j jid.JID) bool {
	if s.isAdmin(j) {
		return true
	}
	if len(s.creators) > 0 {
		return s.creators[j.Bare().String()]
	}
	return s.registry.IsRegistered(j.Bare())
}

// route sends a stanza through the configured router. Routing failures
// are logged; the service has nowhere to report them.
func (s *Service) route(ctx context.Context, r xml.TokenReader) {
	if err := s.router.Route(ctx, r); err != nil {
		s.log.Error().Err(err).Msg("routing stanza")
	}
}

// Node returns the live node with the provided ID. The root collection
// has the empty ID.
func (s *Service) Node(id string) (*Node, bool) {
	v, ok := s.nodes.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Node), true
}

// Root returns the root collection node.
func (s *Service) Root() *Node { return s.root }

// Nodes returns a snapshot of every hosted node, root included, sorted
// by node ID.
func (s *Service) Nodes() []*Node {
	var out []*Node
	s.nodes.Range(func(_, v interface{}) bool {
		out = append(out, v.(*Node))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (s *Service) createLock(id string) *sync.Mutex {
	h := fnv.New32a()
	io.WriteString(h, id)
	return &s.createMu[h.Sum32()%createStripes]
}

// insertNode creates, links, and registers a new node. It returns false
// without side effects when a node with the same ID already exists.
// Concurrent creation of the same ID is serialized on a striped lock so
// that exactly one request wins.
func (s *Service) insertNode(ctx context.Context, id string, leaf bool, creator jid.JID, parent *Node, config *form.Data) (*Node, bool) {
	mu := s.createLock(id)
	mu.Lock()
	defer mu.Unlock()
	if _, exists := s.Node(id); exists {
		return nil, false
	}
	cfg := s.leafDefaults
	if !leaf {
		cfg = s.collectionDefaults
	}
	n := newNode(s, id, leaf, creator, cfg)
	if config != nil {
		n.cfg = n.cfg.withForm(config, leaf, s.log)
	}
	n.setAffiliation(ctx, creator, AffiliationOwner)

	s.forestMu.Lock()
	n.parent = parent
	parent.children[id] = n
	parent.childOrder = append(parent.childOrder, id)
	s.forestMu.Unlock()

	// Persist before publishing the node: once it is in the table a
	// concurrent configure-set may take n.mu and rewrite the config this
	// write reads.
	n.persistNode(ctx)
	s.nodes.Store(id, n)
	return n, true
}

// removeNode unlinks a node from the forest and from the node table,
// re-parenting any children onto the root collection. The backend record
// was already deleted by the caller.
func (s *Service) removeNode(n *Node) {
	s.batch.cancelNode(n.id)
	s.forestMu.Lock()
	if n.parent != nil {
		delete(n.parent.children, n.id)
		n.parent.childOrder = dropString(n.parent.childOrder, n.id)
		n.parent = nil
	}
	for id, child := range n.children {
		child.parent = s.root
		s.root.children[id] = child
		s.root.childOrder = append(s.root.childOrder, id)
	}
	n.children = nil
	n.childOrder = nil
	s.forestMu.Unlock()
	s.nodes.Delete(n.id)
}

func dropString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

// Start restores the service from the backend and starts the persistence
// batcher. The initial load is retried with exponential backoff until it
// succeeds or ctx is cancelled. After a successful restore the service
// probes the presence of every subscriber whose deliveries depend on it.
func (s *Service) Start(ctx context.Context) error {
	var snap *loadedState
	op := func() error {
		var err error
		snap, err = s.loadState(ctx)
		if err != nil {
			s.log.Error().Err(err).Msg("loading pubsub state from backend")
		}
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return errors.Wrap(err, "pubsub: loading service state")
	}
	s.applyState(ctx, snap)
	s.batch.start()
	s.probePresence(ctx)
	return nil
}

// Shutdown stops the batcher and drains any queued item operations.
func (s *Service) Shutdown(ctx context.Context) error {
	s.batch.shutdown(ctx)
	return nil
}

// loadedState is a complete read of the backend, taken before any of it
// is applied so that a failed load can be retried without leaving the
// service half restored.
type loadedState struct {
	nodes []storage.NodeRecord
	affs  map[string][]storage.AffiliationRecord
	subs  map[string][]storage.SubscriptionRecord
	items map[string][]storage.ItemRecord
}

func (s *Service) loadState(ctx context.Context) (*loadedState, error) {
	recs, err := s.backend.LoadNodes(ctx)
	if err != nil {
		return nil, err
	}
	snap := &loadedState{
		nodes: recs,
		affs:  make(map[string][]storage.AffiliationRecord, len(recs)),
		subs:  make(map[string][]storage.SubscriptionRecord, len(recs)),
		items: make(map[string][]storage.ItemRecord),
	}
	for _, rec := range recs {
		affs, err := s.backend.LoadAffiliations(ctx, rec.NodeID)
		if err != nil {
			return nil, err
		}
		snap.affs[rec.NodeID] = affs
		subs, err := s.backend.LoadSubscriptions(ctx, rec.NodeID)
		if err != nil {
			return nil, err
		}
		snap.subs[rec.NodeID] = subs
		if rec.Leaf {
			items, err := s.backend.LoadItems(ctx, rec.NodeID)
			if err != nil {
				return nil, err
			}
			snap.items[rec.NodeID] = items
		}
	}
	return snap, nil
}

// applyState rebuilds the in-memory forest from a loaded snapshot. Nodes
// are created first, then linked to their parents; records naming a
// parent that no longer exists land on the root collection.
func (s *Service) applyState(ctx context.Context, snap *loadedState) {
	for _, rec := range snap.nodes {
		var n *Node
		if rec.NodeID == "" {
			n = s.root
		} else {
			creator, err := jid.Parse(rec.Creator)
			if err != nil {
				s.log.Warn().Str("node", rec.NodeID).Str("creator", rec.Creator).
					Msg("restoring node with unparseable creator")
			}
			cfg := s.leafDefaults
			if !rec.Leaf {
				cfg = s.collectionDefaults
			}
			n = newNode(s, rec.NodeID, rec.Leaf, creator, cfg)
			s.nodes.Store(rec.NodeID, n)
		}
		if len(rec.Config) > 0 {
			n.cfg = n.cfg.withForm(storedForm(rec.Config), n.leaf, s.log)
		}
		s.restoreNodeState(n, snap)
	}
	s.forestMu.Lock()
	for _, rec := range snap.nodes {
		if rec.NodeID == "" {
			continue
		}
		n, ok := s.Node(rec.NodeID)
		if !ok {
			continue
		}
		parent := s.root
		if rec.Parent != "" {
			if p, ok := s.Node(rec.Parent); ok && !p.leaf {
				parent = p
			}
		}
		n.parent = parent
		parent.children[n.id] = n
		parent.childOrder = append(parent.childOrder, n.id)
	}
	s.forestMu.Unlock()
}

func (s *Service) restoreNodeState(n *Node, snap *loadedState) {
	for _, rec := range snap.affs[n.id] {
		j, err := jid.Parse(rec.JID)
		if err != nil {
			s.log.Warn().Str("node", n.id).Str("jid", rec.JID).
				Msg("skipping affiliation with unparseable address")
			continue
		}
		n.affiliates[j.Bare().String()] = &Affiliate{
			JID:         j.Bare(),
			Affiliation: Affiliation(rec.Affiliation),
		}
	}
	for _, rec := range snap.subs[n.id] {
		owner, err := jid.Parse(rec.Owner)
		if err != nil {
			s.log.Warn().Str("node", n.id).Str("jid", rec.Owner).
				Msg("skipping subscription with unparseable owner")
			continue
		}
		deliver, err := jid.Parse(rec.JID)
		if err != nil {
			deliver = owner
		}
		sub := &Subscription{
			ID:      rec.SubID,
			Owner:   owner.Bare(),
			JID:     deliver,
			State:   SubState(rec.State),
			Type:    SubType(rec.Type),
			Deliver: true,
			Depth:   1,
		}
		if len(rec.Options) > 0 {
			sub.applyOptions(storedForm(rec.Options))
		}
		n.subs[sub.ID] = sub
	}
	for _, rec := range snap.items[n.id] {
		publisher, err := jid.Parse(rec.Publisher)
		if err != nil {
			s.log.Warn().Str("node", n.id).Str("item", rec.ItemID).
				Msg("restoring item with unparseable publisher")
		}
		it := &Item{
			NodeID:    n.id,
			ID:        rec.ItemID,
			Publisher: publisher,
			Payload:   rec.Payload,
			Created:   rec.Created,
		}
		n.items = append(n.items, it)
		n.byItemID[it.ID] = it
	}
}

// storedForm rebuilds a submitted form from a stored value map so that
// the regular form parsing applies when restoring state.
func storedForm(m map[string][]string) *form.Data {
	d := &form.Data{Type: form.TypeSubmit}
	vars := make([]string, 0, len(m))
	for v := range m {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	for _, v := range vars {
		d.Fields = append(d.Fields, form.Field{Var: v, Values: m[v]})
	}
	return d
}

// probePresence asks for the current presence of every subscriber whose
// deliveries are presence gated, so that gating decisions are correct
// before the first presence update arrives.
func (s *Service) probePresence(ctx context.Context) {
	probed := make(map[string]bool)
	for _, n := range s.Nodes() {
		n.mu.Lock()
		for _, sub := range n.subsInOrder() {
			if !n.cfg.PresenceBasedDelivery && !sub.needsPresence() {
				continue
			}
			probed[sub.Owner.String()] = true
		}
		n.mu.Unlock()
	}
	bares := make([]string, 0, len(probed))
	for bare := range probed {
		bares = append(bares, bare)
	}
	sort.Strings(bares)
	for _, bare := range bares {
		to, err := jid.Parse(bare)
		if err != nil {
			continue
		}
		p := stanza.Presence{
			ID:   attr.RandomID(),
			To:   to,
			From: s.jid,
			Type: stanza.ProbePresence,
		}
		s.route(ctx, p.Wrap(nil))
	}
}

// presenceSubscriptionRequired asks the user for a presence subscription
// when the service has no presence for them, so that presence gated
// deliveries can be decided.
func (s *Service) presenceSubscriptionRequired(ctx context.Context, owner jid.JID) {
	bare := owner.Bare()
	if s.presence.online(bare) {
		return
	}
	p := stanza.Presence{
		ID:   attr.RandomID(),
		To:   bare,
		From: s.jid,
		Type: stanza.SubscribePresence,
	}
	s.route(ctx, p.Wrap(nil))
}

// presenceSubscriptionNotRequired drops the service's presence
// subscription to a user once no hosted node depends on their presence
// any more.
func (s *Service) presenceSubscriptionNotRequired(ctx context.Context, owner jid.JID) {
	bare := owner.Bare()
	for _, n := range s.Nodes() {
		n.mu.Lock()
		needed := n.needsPresenceFor(bare)
		n.mu.Unlock()
		if needed {
			return
		}
	}
	p := stanza.Presence{
		ID:   attr.RandomID(),
		To:   bare,
		From: s.jid,
		Type: stanza.UnsubscribePresence,
	}
	s.route(ctx, p.Wrap(nil))
}

// needsPresenceFor reports whether any subscription held by the bare JID
// depends on their presence. The caller holds the node lock.
func (n *Node) needsPresenceFor(bare jid.JID) bool {
	for _, sub := range n.subscriptionsFor(bare) {
		if n.cfg.PresenceBasedDelivery || sub.needsPresence() {
			return true
		}
	}
	return false
}

// cancelAllSubscriptions silently removes every subscription held by the
// bare JID across the whole service. It is invoked when the server
// reports that the user is gone.
func (s *Service) cancelAllSubscriptions(ctx context.Context, owner jid.JID) {
	bare := owner.Bare()
	var cleanup []jid.JID
	for _, n := range s.Nodes() {
		n.mu.Lock()
		subs := n.subscriptionsFor(bare)
		needed := n.needsPresenceFor(bare)
		for _, sub := range subs {
			n.cancelSubscription(ctx, sub)
		}
		n.mu.Unlock()
		if needed {
			cleanup = append(cleanup, bare)
		}
	}
	if len(cleanup) > 0 {
		s.presenceSubscriptionNotRequired(ctx, bare)
	}
}
