// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub_test

import (
	"context"
	"encoding/xml"
	"strconv"
	"sync"
	"testing"

	"github.com/arborpub/arbor/internal/xmpptest"
	"github.com/arborpub/arbor/jid"
	"github.com/arborpub/arbor/pubsub"
	"github.com/arborpub/arbor/stanza"
)

func TestCreateNode(t *testing.T) {
	f := newFixture(t)

	out := f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsPubSub+`"><create node="princely_musings"/></pubsub>`)
	r := wantResult(t, out)
	if r.Contains("<create") {
		t.Errorf("reply should not echo an unchanged node ID: %s", r.XML)
	}
	n, ok := f.svc.Node("princely_musings")
	if !ok {
		t.Fatal("node was not created")
	}
	if !n.Leaf() {
		t.Error("expected a leaf node")
	}

	out = f.dispatch(t, stanza.SetIQ, bob, `<pubsub xmlns="`+nsPubSub+`"><create node="princely_musings"/></pubsub>`)
	wantStanzaErr(t, out, "conflict")
}

func TestCreateNodeConcurrent(t *testing.T) {
	f := newFixture(t)

	const workers = 8
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(id string) {
			defer wg.Done()
			iq := stanza.IQ{ID: id, To: serviceJID, From: alice, Type: stanza.SetIQ}
			f.svc.ProcessIQ(context.Background(), iq, decode(`<pubsub xmlns="`+nsPubSub+`"><create node="contested"/></pubsub>`))
		}(strconv.Itoa(i))
	}
	wg.Wait()

	var won, lost int
	for _, r := range f.router.Stanzas() {
		switch {
		case r.Type == "result":
			won++
		case r.Contains("<conflict"):
			lost++
		}
	}
	if won != 1 || lost != workers-1 {
		t.Errorf("want one winner and %d conflicts, got %d and %d", workers-1, won, lost)
	}
	if _, ok := f.svc.Node("contested"); !ok {
		t.Error("the contested node was never created")
	}
}

func TestCreateConfigureConcurrent(t *testing.T) {
	f := newFixture(t)

	// The initial persist must finish before the node becomes reachable,
	// so a configure set arriving right after creation can never race it.
	const workers = 8
	var wg sync.WaitGroup
	wg.Add(workers + 1)
	go func() {
		defer wg.Done()
		iq := stanza.IQ{ID: "create", To: serviceJID, From: alice, Type: stanza.SetIQ}
		f.svc.ProcessIQ(context.Background(), iq, decode(`<pubsub xmlns="`+nsPubSub+`"><create node="racy"/></pubsub>`))
	}()
	for i := 0; i < workers; i++ {
		go func(id string) {
			defer wg.Done()
			iq := stanza.IQ{ID: id, To: serviceJID, From: alice, Type: stanza.SetIQ}
			f.svc.ProcessIQ(context.Background(), iq, decode(`<pubsub xmlns="`+nsOwner+`"><configure node="racy">`+configForm("pubsub#title", "Race "+id)+`</configure></pubsub>`))
		}(strconv.Itoa(i))
	}
	wg.Wait()

	if _, ok := f.svc.Node("racy"); !ok {
		t.Fatal("the node was never created")
	}
}

func TestCreateNodeWithConfiguration(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, alice, "princely_musings", configForm(
		"pubsub#title", "Princely Musings (Atom)",
		"pubsub#persist_items", "0",
		"pubsub#max_payload_size", "1028",
	))

	n, _ := f.svc.Node("princely_musings")
	cfg := n.Config()
	if cfg.Title != "Princely Musings (Atom)" {
		t.Errorf("title = %q", cfg.Title)
	}
	if cfg.PersistItems {
		t.Error("persist_items was not applied")
	}
	if cfg.MaxPayloadSize != 1028 {
		t.Errorf("max_payload_size = %d", cfg.MaxPayloadSize)
	}
}

func TestCreateInstantNode(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t)
		out := f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsPubSub+`"><create/></pubsub>`)
		wantStanzaErr(t, out, "not-acceptable", "nodeid-required")
	})
	t.Run("enabled", func(t *testing.T) {
		f := newFixture(t, func(cfg *pubsub.Config) { cfg.InstantNodes = true })
		out := f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsPubSub+`"><create/></pubsub>`)
		r := wantResult(t, out)

		var parsed struct {
			PubSub struct {
				Create struct {
					Node string `xml:"node,attr"`
				} `xml:"create"`
			} `xml:"pubsub"`
		}
		if err := xml.Unmarshal([]byte(r.XML), &parsed); err != nil {
			t.Fatalf("error parsing reply: %v", err)
		}
		id := parsed.PubSub.Create.Node
		if len(id) != 15 {
			t.Errorf("generated node ID %q has length %d", id, len(id))
		}
		if _, ok := f.svc.Node(id); !ok {
			t.Errorf("generated node %q does not exist", id)
		}
	})
}

func TestCreateNodeRestricted(t *testing.T) {
	t.Run("creator list", func(t *testing.T) {
		f := newFixture(t, func(cfg *pubsub.Config) { cfg.NodeCreators = []jid.JID{alice} })
		wantStanzaErr(t, f.dispatch(t, stanza.SetIQ, bob, `<pubsub xmlns="`+nsPubSub+`"><create node="blog"/></pubsub>`), "forbidden")
		f.mustCreate(t, alice, "blog", "")
	})
	t.Run("registry", func(t *testing.T) {
		reg := &xmpptest.Registry{}
		reg.Add(alice)
		f := newFixture(t, func(cfg *pubsub.Config) { cfg.Registry = reg })
		wantStanzaErr(t, f.dispatch(t, stanza.SetIQ, bob, `<pubsub xmlns="`+nsPubSub+`"><create node="blog"/></pubsub>`), "forbidden")
		f.mustCreate(t, alice, "blog", "")
	})
}

func TestCreateCollection(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t)
		out := f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsPubSub+`"><create node="home" type="collection"/></pubsub>`)
		r := wantStanzaErr(t, out, "feature-not-implemented")
		if !r.Contains(`feature="collections"`) {
			t.Errorf("missing unsupported feature: %s", r.XML)
		}
	})
	t.Run("enabled", func(t *testing.T) {
		f := newFixture(t, func(cfg *pubsub.Config) { cfg.CollectionNodes = true })

		// Node IDs gain the parent prefix, so the reply reports the
		// final ID.
		out := f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsPubSub+`"><create node="home" type="collection"/></pubsub>`)
		r := wantResult(t, out)
		if !r.Contains(`<create node="/home"`) {
			t.Fatalf("expected the prefixed node ID in the reply: %s", r.XML)
		}
		n, ok := f.svc.Node("/home")
		if !ok {
			t.Fatal("collection was not created")
		}
		if n.Leaf() {
			t.Error("expected a collection node")
		}

		// A leaf filed under the collection through the config form.
		out = f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsPubSub+`"><create node="blog"/><configure>`+configForm("pubsub#collection", "/home")+`</configure></pubsub>`)
		r = wantResult(t, out)
		if !r.Contains(`<create node="/home/blog"`) {
			t.Fatalf("expected the leaf under its parent: %s", r.XML)
		}

		// Unknown and leaf parents are rejected.
		out = f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsPubSub+`"><create node="stray"/><configure>`+configForm("pubsub#collection", "/lost")+`</configure></pubsub>`)
		wantStanzaErr(t, out, "item-not-found")
		out = f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsPubSub+`"><create node="stray"/><configure>`+configForm("pubsub#collection", "/home/blog")+`</configure></pubsub>`)
		wantStanzaErr(t, out, "not-acceptable")
	})
}

func TestCreateAssociationPolicy(t *testing.T) {
	f := newFixture(t, func(cfg *pubsub.Config) { cfg.CollectionNodes = true })
	f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsPubSub+`"><create node="home" type="collection"/><configure>`+configForm(
		"pubsub#leaf_node_association_policy", "owners",
	)+`</configure></pubsub>`)

	out := f.dispatch(t, stanza.SetIQ, bob, `<pubsub xmlns="`+nsPubSub+`"><create node="mine"/><configure>`+configForm("pubsub#collection", "/home")+`</configure></pubsub>`)
	wantStanzaErr(t, out, "forbidden")
	out = f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsPubSub+`"><create node="mine"/><configure>`+configForm("pubsub#collection", "/home")+`</configure></pubsub>`)
	wantResult(t, out)

	// Whitelisted entities may associate children even without owning
	// the collection.
	f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsPubSub+`"><create node="guests" type="collection"/><configure>`+configForm(
		"pubsub#leaf_node_association_policy", "whitelist",
		"pubsub#leaf_node_association_whitelist", bob.Bare().String(),
	)+`</configure></pubsub>`)
	out = f.dispatch(t, stanza.SetIQ, bob, `<pubsub xmlns="`+nsPubSub+`"><create node="invited"/><configure>`+configForm("pubsub#collection", "/guests")+`</configure></pubsub>`)
	wantResult(t, out)
	out = f.dispatch(t, stanza.SetIQ, carol, `<pubsub xmlns="`+nsPubSub+`"><create node="crashed"/><configure>`+configForm("pubsub#collection", "/guests")+`</configure></pubsub>`)
	wantStanzaErr(t, out, "forbidden")
}

func TestCreateMaxLeafNodes(t *testing.T) {
	f := newFixture(t, func(cfg *pubsub.Config) { cfg.CollectionNodes = true })
	f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsPubSub+`"><create node="small" type="collection"/><configure>`+configForm(
		"pubsub#leaf_nodes_max", "1",
	)+`</configure></pubsub>`)

	out := f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsPubSub+`"><create node="one"/><configure>`+configForm("pubsub#collection", "/small")+`</configure></pubsub>`)
	wantResult(t, out)
	out = f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsPubSub+`"><create node="two"/><configure>`+configForm("pubsub#collection", "/small")+`</configure></pubsub>`)
	r := wantStanzaErr(t, out, "conflict")
	if !r.Contains("<max-nodes-exceeded") {
		t.Errorf("missing max-nodes-exceeded condition: %s", r.XML)
	}
}

func TestConfigureGet(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, alice, "princely_musings", "")

	out := f.dispatch(t, stanza.GetIQ, alice, `<pubsub xmlns="`+nsOwner+`"><configure node="princely_musings"/></pubsub>`)
	r := wantResult(t, out)
	for _, want := range []string{`type="form"`, nsPubSub + "#node_config", `var="pubsub#title"`, `var="pubsub#access_model"`} {
		if !r.Contains(want) {
			t.Errorf("missing %s in configuration form: %s", want, r.XML)
		}
	}

	wantStanzaErr(t, f.dispatch(t, stanza.GetIQ, bob, `<pubsub xmlns="`+nsOwner+`"><configure node="princely_musings"/></pubsub>`), "forbidden")
	wantStanzaErr(t, f.dispatch(t, stanza.GetIQ, alice, `<pubsub xmlns="`+nsOwner+`"><configure node="missing"/></pubsub>`), "item-not-found")
}

func TestConfigureSet(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, alice, "princely_musings", "")
	f.mustSubscribe(t, "princely_musings", bob)

	out := f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsOwner+`"><configure node="princely_musings">`+configForm("pubsub#title", "Renamed")+`</configure></pubsub>`)
	wantResult(t, out)
	if len(out) != 2 {
		t.Fatalf("expected a result and one notification, got %d stanzas", len(out))
	}
	if out[1].To != bob.String() || !out[1].Contains(`<configuration node="princely_musings"`) {
		t.Errorf("expected a configuration event for the subscriber, got %s", out[1].XML)
	}
	n, _ := f.svc.Node("princely_musings")
	if n.Config().Title != "Renamed" {
		t.Errorf("title = %q", n.Config().Title)
	}

	// Quiet update when change notifications are off.
	out = f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsOwner+`"><configure node="princely_musings">`+configForm("pubsub#notify_config", "0", "pubsub#title", "Still Renamed")+`</configure></pubsub>`)
	wantResult(t, out)
	if len(out) != 1 {
		t.Fatalf("expected no notifications, got %d stanzas", len(out))
	}

	t.Run("cancel", func(t *testing.T) {
		out := f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsOwner+`"><configure node="princely_musings"><x xmlns="jabber:x:data" type="cancel"/></configure></pubsub>`)
		wantResult(t, out)
		if len(out) != 1 {
			t.Fatalf("cancelled form should not notify, got %d stanzas", len(out))
		}
	})
	t.Run("non-owner", func(t *testing.T) {
		out := f.dispatch(t, stanza.SetIQ, bob, `<pubsub xmlns="`+nsOwner+`"><configure node="princely_musings">`+configForm("pubsub#title", "Hijacked")+`</configure></pubsub>`)
		wantStanzaErr(t, out, "forbidden")
	})
	t.Run("no form", func(t *testing.T) {
		out := f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsOwner+`"><configure node="princely_musings"/></pubsub>`)
		wantStanzaErr(t, out, "bad-request")
	})
	t.Run("ownerless", func(t *testing.T) {
		out := f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsOwner+`"><configure node="princely_musings">`+configForm("pubsub#owner", "not a jid")+`</configure></pubsub>`)
		wantStanzaErr(t, out, "not-acceptable")
	})
	t.Run("short form", func(t *testing.T) {
		out := f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsOwner+`"><configure node="princely_musings" access="roster"><group>friends</group><group>family</group></configure></pubsub>`)
		wantResult(t, out)
		n, ok := f.svc.Node("princely_musings")
		if !ok {
			t.Fatal("node disappeared")
		}
		cfg := n.Config()
		if cfg.AccessModel != pubsub.AccessRoster {
			t.Errorf("access model = %q", cfg.AccessModel)
		}
		if len(cfg.RosterGroupsAllowed) != 2 || cfg.RosterGroupsAllowed[0] != "friends" {
			t.Errorf("roster groups = %v", cfg.RosterGroupsAllowed)
		}
	})
}

func TestDefaultConfiguration(t *testing.T) {
	f := newFixture(t)
	out := f.dispatch(t, stanza.GetIQ, alice, `<pubsub xmlns="`+nsOwner+`"><default/></pubsub>`)
	r := wantResult(t, out)
	for _, want := range []string{"<default", nsPubSub + "#node_config", `var="pubsub#persist_items"`} {
		if !r.Contains(want) {
			t.Errorf("missing %s in default form: %s", want, r.XML)
		}
	}

	out = f.dispatch(t, stanza.GetIQ, alice, `<pubsub xmlns="`+nsOwner+`"><default type="collection"/></pubsub>`)
	r = wantStanzaErr(t, out, "feature-not-implemented")
	if !r.Contains(`feature="collections"`) {
		t.Errorf("missing unsupported feature: %s", r.XML)
	}

	fc := newFixture(t, func(cfg *pubsub.Config) { cfg.CollectionNodes = true })
	out = fc.dispatch(t, stanza.GetIQ, alice, `<pubsub xmlns="`+nsOwner+`"><default type="collection"/></pubsub>`)
	wantResult(t, out)
}

func TestDeleteNode(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, alice, "princely_musings", "")
	f.mustSubscribe(t, "princely_musings", bob)

	wantStanzaErr(t, f.dispatch(t, stanza.SetIQ, bob, `<pubsub xmlns="`+nsOwner+`"><delete node="princely_musings"/></pubsub>`), "forbidden")

	out := f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsOwner+`"><delete node="princely_musings"/></pubsub>`)
	wantResult(t, out)
	if len(out) != 2 {
		t.Fatalf("expected a result and one notification, got %d stanzas", len(out))
	}
	if out[1].To != bob.String() || !out[1].Contains(`<delete node="princely_musings"`) {
		t.Errorf("expected a delete event for the subscriber, got %s", out[1].XML)
	}
	if _, ok := f.svc.Node("princely_musings"); ok {
		t.Error("node still exists after deletion")
	}

	// Deleting it again reports item-not-found.
	wantStanzaErr(t, f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsOwner+`"><delete node="princely_musings"/></pubsub>`), "item-not-found")
}

func TestDeleteRootCollection(t *testing.T) {
	f := newFixture(t, func(cfg *pubsub.Config) { cfg.CollectionNodes = true })
	out := f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsOwner+`"><delete/></pubsub>`)
	wantStanzaErr(t, out, "not-allowed")
}

func TestDeleteNodeBackendFailure(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, alice, "princely_musings", "")
	f.backend.FailWrites(1)
	out := f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsOwner+`"><delete node="princely_musings"/></pubsub>`)
	wantStanzaErr(t, out, "internal-server-error")
	if _, ok := f.svc.Node("princely_musings"); !ok {
		t.Error("node vanished although the backend refused the delete")
	}
}

func TestEntitiesGet(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, alice, "princely_musings", "")
	f.mustSubscribe(t, "princely_musings", bob)

	out := f.dispatch(t, stanza.GetIQ, alice, `<pubsub xmlns="`+nsOwner+`"><entities node="princely_musings"/></pubsub>`)
	r := wantResult(t, out)
	wants := []string{
		`<entity jid="alice@denmark.lit" affiliation="owner" subscription="none"`,
		`<entity jid="bob@denmark.lit/court" affiliation="member" subscription="subscribed"`,
	}
	for _, want := range wants {
		if !r.Contains(want) {
			t.Errorf("missing %s in entities reply: %s", want, r.XML)
		}
	}

	wantStanzaErr(t, f.dispatch(t, stanza.GetIQ, bob, `<pubsub xmlns="`+nsOwner+`"><entities node="princely_musings"/></pubsub>`), "forbidden")
}

func TestEntitiesModify(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, alice, "princely_musings", "")
	f.mustSubscribe(t, "princely_musings", bob)

	// Promoting bob lets him publish on a publishers-only node.
	out := f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsOwner+`"><entities node="princely_musings"><entity jid="`+bob.Bare().String()+`" affiliation="publisher"/></entities></pubsub>`)
	wantResult(t, out)
	f.mustPublish(t, "princely_musings", bob, `<item id="by-bob"><entry xmlns="urn:example:e">promoted</entry></item>`)

	// Cancelling the subscription by its delivery address.
	out = f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsOwner+`"><entities node="princely_musings"><entity jid="`+bob.String()+`" subscription="none"/></entities></pubsub>`)
	wantResult(t, out)
	out = f.dispatch(t, stanza.GetIQ, bob, `<pubsub xmlns="`+nsPubSub+`"><subscriptions/></pubsub>`)
	wantStanzaErr(t, out, "item-not-found")
}

func TestEntitiesModifyKeepsLastOwner(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, alice, "princely_musings", "")

	// Stripping the only owner fails with the entity's current state
	// echoed back, but other transitions in the request still apply.
	out := f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsOwner+`"><entities node="princely_musings">`+
		`<entity jid="`+alice.Bare().String()+`" affiliation="none"/>`+
		`<entity jid="`+carol.Bare().String()+`" affiliation="outcast"/>`+
		`</entities></pubsub>`)
	r := wantStanzaErr(t, out, "not-acceptable")
	if !r.Contains(`<entity jid="alice@denmark.lit" affiliation="owner"`) {
		t.Errorf("expected the failed entity echo, got %s", r.XML)
	}

	// Alice still manages the node while carol's outcast ban applied.
	wantResult(t, f.dispatch(t, stanza.GetIQ, alice, `<pubsub xmlns="`+nsOwner+`"><configure node="princely_musings"/></pubsub>`))
	out = f.dispatch(t, stanza.SetIQ, carol, `<pubsub xmlns="`+nsPubSub+`"><subscribe node="princely_musings" jid="`+carol.String()+`"/></pubsub>`)
	wantStanzaErr(t, out, "forbidden")
}

func TestEntitiesModifyApprovesPending(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, alice, "vetted", configForm("pubsub#access_model", "authorize"))
	out := f.dispatch(t, stanza.SetIQ, carol, `<pubsub xmlns="`+nsPubSub+`"><subscribe node="vetted" jid="`+carol.String()+`"/></pubsub>`)
	if !reply(t, out).Contains(`subscription="pending"`) {
		t.Fatalf("expected a pending subscription, got %s", out[0].XML)
	}

	out = f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsOwner+`"><entities node="vetted"><entity jid="`+carol.String()+`" subscription="subscribed"/></entities></pubsub>`)
	wantResult(t, out)
	if len(out) < 2 {
		t.Fatal("expected a subscription change notification")
	}
	if out[1].To != carol.String() || !out[1].Contains(`subscription="subscribed"`) {
		t.Errorf("expected an approval event for carol, got %s", out[1].XML)
	}
}

func TestPurgeNode(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, alice, "princely_musings", "")
	f.mustSubscribe(t, "princely_musings", bob)
	f.mustPublish(t, "princely_musings", alice, `<item id="a"><entry xmlns="urn:example:e">gone soon</entry></item>`)

	wantStanzaErr(t, f.dispatch(t, stanza.SetIQ, bob, `<pubsub xmlns="`+nsOwner+`"><purge node="princely_musings"/></pubsub>`), "forbidden")

	out := f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsOwner+`"><purge node="princely_musings"/></pubsub>`)
	wantResult(t, out)
	if len(out) != 2 || !out[1].Contains(`<purge node="princely_musings"`) {
		t.Fatalf("expected one purge event, got %v", out)
	}

	items := wantResult(t, f.dispatch(t, stanza.GetIQ, bob, `<pubsub xmlns="`+nsPubSub+`"><items node="princely_musings"/></pubsub>`))
	if items.Contains("<item ") {
		t.Errorf("items survived the purge: %s", items.XML)
	}

	// Purging the already-empty node still succeeds.
	wantResult(t, f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsOwner+`"><purge node="princely_musings"/></pubsub>`))

	// The purge cancelled the still-queued write, so nothing reaches
	// storage in either direction.
	f.shutdown(t)
	if got := f.backend.ItemWrites(); len(got) != 0 {
		t.Errorf("expected the queued write to be cancelled, got %v", got)
	}
	if got := f.backend.ItemDeletes(); len(got) != 0 {
		t.Errorf("expected no storage deletes for never-written items, got %v", got)
	}
}

func TestPurgeUnsupported(t *testing.T) {
	t.Run("collection", func(t *testing.T) {
		f := newFixture(t, func(cfg *pubsub.Config) { cfg.CollectionNodes = true })
		f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsPubSub+`"><create node="home" type="collection"/></pubsub>`)
		r := wantStanzaErr(t, f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsOwner+`"><purge node="/home"/></pubsub>`), "feature-not-implemented")
		if !r.Contains(`feature="purge-nodes"`) {
			t.Errorf("missing unsupported feature: %s", r.XML)
		}
	})
	t.Run("transient node", func(t *testing.T) {
		f := newFixture(t)
		f.mustCreate(t, alice, "volatile", configForm("pubsub#persist_items", "0"))
		r := wantStanzaErr(t, f.dispatch(t, stanza.SetIQ, alice, `<pubsub xmlns="`+nsOwner+`"><purge node="volatile"/></pubsub>`), "feature-not-implemented")
		if !r.Contains(`feature="persistent-items"`) {
			t.Errorf("missing unsupported feature: %s", r.XML)
		}
	})
}
