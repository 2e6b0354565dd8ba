// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub_test

import (
	"context"
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/arborpub/arbor/internal/xmpptest"
	"github.com/arborpub/arbor/jid"
	"github.com/arborpub/arbor/pubsub"
	"github.com/arborpub/arbor/stanza"
	"github.com/arborpub/arbor/storage"
)

const (
	nsPubSub = `http://jabber.org/protocol/pubsub`
	nsOwner  = `http://jabber.org/protocol/pubsub#owner`
	nsEvent  = `http://jabber.org/protocol/pubsub#event`
)

var (
	serviceJID = jid.MustParse("pubsub.denmark.lit")
	alice      = jid.MustParse("alice@denmark.lit/office")
	bob        = jid.MustParse("bob@denmark.lit/court")
	carol      = jid.MustParse("carol@denmark.lit/study")
)

// fixture wires a service to capturing doubles and starts it. Tests
// drive it through the Process methods and assert on routed stanzas.
type fixture struct {
	svc     *pubsub.Service
	router  *xmpptest.Router
	backend *xmpptest.Backend
	stopped bool
}

func newFixture(t *testing.T, mods ...func(*pubsub.Config)) *fixture {
	t.Helper()
	f := &fixture{router: xmpptest.NewRouter(), backend: xmpptest.NewBackend()}
	cfg := pubsub.Config{
		JID:     serviceJID,
		Router:  f.router,
		Backend: f.backend,
	}
	for _, mod := range mods {
		mod(&cfg)
	}
	svc, err := pubsub.New(cfg)
	if err != nil {
		t.Fatalf("error assembling service: %v", err)
	}
	f.svc = svc
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("error starting service: %v", err)
	}
	t.Cleanup(func() { f.shutdown(t) })
	// Drop any presence probes sent while restoring state so tests see
	// only the stanzas they caused.
	f.router.Reset()
	return f
}

func (f *fixture) shutdown(t *testing.T) {
	t.Helper()
	if f.stopped {
		return
	}
	f.stopped = true
	if err := f.svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("error shutting down service: %v", err)
	}
}

func decode(payload string) xml.TokenReader {
	return xml.NewDecoder(strings.NewReader(payload))
}

// dispatch feeds one IQ to the service and returns every stanza it
// routed in response, the reply first.
func (f *fixture) dispatch(t *testing.T, typ stanza.IQType, from jid.JID, payload string) []xmpptest.Routed {
	t.Helper()
	before := f.router.Len()
	iq := stanza.IQ{ID: "ps1", To: serviceJID, From: from, Type: typ}
	if !f.svc.ProcessIQ(context.Background(), iq, decode(payload)) {
		t.Fatalf("stanza went unhandled: %s", payload)
	}
	return f.router.Stanzas()[before:]
}

func reply(t *testing.T, out []xmpptest.Routed) xmpptest.Routed {
	t.Helper()
	if len(out) == 0 {
		t.Fatal("expected a reply")
	}
	if out[0].Name.Local != "iq" {
		t.Fatalf("expected an iq reply first, got %s", out[0].XML)
	}
	return out[0]
}

func wantResult(t *testing.T, out []xmpptest.Routed) xmpptest.Routed {
	t.Helper()
	r := reply(t, out)
	if r.Type != "result" {
		t.Fatalf("expected a result, got %s", r.XML)
	}
	return r
}

// wantStanzaErr asserts an error reply carrying each of the named
// condition elements.
func wantStanzaErr(t *testing.T, out []xmpptest.Routed, conds ...string) xmpptest.Routed {
	t.Helper()
	r := reply(t, out)
	if r.Type != "error" {
		t.Fatalf("expected an error, got %s", r.XML)
	}
	for _, cond := range conds {
		if !r.Contains("<" + cond) {
			t.Errorf("missing %s condition in error reply: %s", cond, r.XML)
		}
	}
	return r
}

// configForm renders a submitted node configuration form from var/value
// pairs.
func configForm(pairs ...string) string {
	var b strings.Builder
	b.WriteString(`<x xmlns="jabber:x:data" type="submit"><field var="FORM_TYPE"><value>` + nsPubSub + `#node_config</value></field>`)
	for i := 0; i+1 < len(pairs); i += 2 {
		b.WriteString(`<field var="` + pairs[i] + `"><value>` + pairs[i+1] + `</value></field>`)
	}
	b.WriteString(`</x>`)
	return b.String()
}

// mustCreate creates a node, optionally with a submitted configuration
// form built by configForm.
func (f *fixture) mustCreate(t *testing.T, owner jid.JID, node, configure string) {
	t.Helper()
	if configure != "" {
		configure = `<configure>` + configure + `</configure>`
	}
	out := f.dispatch(t, stanza.SetIQ, owner, `<pubsub xmlns="`+nsPubSub+`"><create node="`+node+`"/>`+configure+`</pubsub>`)
	wantResult(t, out)
}

func (f *fixture) mustSubscribe(t *testing.T, node string, sub jid.JID) {
	t.Helper()
	out := f.dispatch(t, stanza.SetIQ, sub, `<pubsub xmlns="`+nsPubSub+`"><subscribe node="`+node+`" jid="`+sub.String()+`"/></pubsub>`)
	r := wantResult(t, out)
	if !r.Contains(`subscription="subscribed"`) {
		t.Fatalf("expected an active subscription, got %s", r.XML)
	}
}

func (f *fixture) mustPublish(t *testing.T, node string, pub jid.JID, items string) []xmpptest.Routed {
	t.Helper()
	out := f.dispatch(t, stanza.SetIQ, pub, `<pubsub xmlns="`+nsPubSub+`"><publish node="`+node+`">`+items+`</publish></pubsub>`)
	wantResult(t, out)
	return out
}

func TestNewValidatesConfig(t *testing.T) {
	router := xmpptest.NewRouter()
	backend := xmpptest.NewBackend()
	cases := [...]struct {
		name string
		cfg  pubsub.Config
	}{
		{name: "no JID", cfg: pubsub.Config{Router: router, Backend: backend}},
		{name: "no router", cfg: pubsub.Config{JID: serviceJID, Backend: backend}},
		{name: "no backend", cfg: pubsub.Config{JID: serviceJID, Router: router}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := pubsub.New(tc.cfg); err == nil {
				t.Errorf("expected an error for config %+v", tc.cfg)
			}
		})
	}
}

func TestStartRestoresState(t *testing.T) {
	backend := xmpptest.NewBackend()
	ctx := context.Background()
	seed := []error{
		backend.UpsertNode(ctx, storage.NodeRecord{
			NodeID:  "princely_musings",
			Leaf:    true,
			Creator: "alice@denmark.lit",
		}),
		backend.UpsertAffiliation(ctx, storage.AffiliationRecord{
			NodeID: "princely_musings", JID: "alice@denmark.lit", Affiliation: "owner",
		}),
		backend.UpsertSubscription(ctx, storage.SubscriptionRecord{
			NodeID: "princely_musings", SubID: "sub1",
			Owner: "bob@denmark.lit", JID: "bob@denmark.lit/court",
			State: "subscribed", Type: "items",
		}),
		backend.UpsertItem(ctx, storage.ItemRecord{
			NodeID: "princely_musings", ItemID: "old",
			Publisher: "alice@denmark.lit/office",
			Payload:   []byte(`<entry xmlns="urn:example:e">before restart</entry>`),
			Created:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		}),
	}
	for _, err := range seed {
		if err != nil {
			t.Fatalf("error seeding backend: %v", err)
		}
	}

	f := newFixture(t, func(cfg *pubsub.Config) { cfg.Backend = backend })
	f.backend = backend

	n, ok := f.svc.Node("princely_musings")
	if !ok {
		t.Fatal("node was not restored")
	}
	if !n.Leaf() {
		t.Error("restored node lost its leaf flag")
	}

	// The restored owner may publish and the restored subscriber is
	// notified.
	out := f.mustPublish(t, "princely_musings", alice, `<item id="new"><entry xmlns="urn:example:e">after restart</entry></item>`)
	if len(out) != 2 {
		t.Fatalf("expected a result and one notification, got %d stanzas", len(out))
	}
	if out[1].To != "bob@denmark.lit/court" {
		t.Errorf("notification went to %s, expected the restored subscriber", out[1].To)
	}

	// The restored item is still retrievable alongside the new one.
	items := wantResult(t, f.dispatch(t, stanza.GetIQ, bob, `<pubsub xmlns="`+nsPubSub+`"><items node="princely_musings"/></pubsub>`))
	for _, id := range []string{`id="old"`, `id="new"`, "before restart"} {
		if !items.Contains(id) {
			t.Errorf("missing %s in retrieved items: %s", id, items.XML)
		}
	}
}

func TestStartRetriesFailedLoads(t *testing.T) {
	backend := xmpptest.NewBackend()
	backend.FailLoads(1)
	f := &fixture{router: xmpptest.NewRouter(), backend: backend}
	svc, err := pubsub.New(pubsub.Config{JID: serviceJID, Router: f.router, Backend: backend})
	if err != nil {
		t.Fatalf("error assembling service: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("error starting service after transient load failure: %v", err)
	}
	if err := svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("error shutting down service: %v", err)
	}
}

func TestStartProbesPresence(t *testing.T) {
	backend := xmpptest.NewBackend()
	ctx := context.Background()
	seed := []error{
		backend.UpsertNode(ctx, storage.NodeRecord{
			NodeID:  "weather",
			Leaf:    true,
			Creator: "alice@denmark.lit",
			Config:  map[string][]string{"pubsub#presence_based_delivery": {"1"}},
		}),
		backend.UpsertSubscription(ctx, storage.SubscriptionRecord{
			NodeID: "weather", SubID: "sub1",
			Owner: "bob@denmark.lit", JID: "bob@denmark.lit",
			State: "subscribed", Type: "items",
		}),
	}
	for _, err := range seed {
		if err != nil {
			t.Fatalf("error seeding backend: %v", err)
		}
	}

	router := xmpptest.NewRouter()
	svc, err := pubsub.New(pubsub.Config{JID: serviceJID, Router: router, Backend: backend})
	if err != nil {
		t.Fatalf("error assembling service: %v", err)
	}
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("error starting service: %v", err)
	}
	t.Cleanup(func() {
		if err := svc.Shutdown(context.Background()); err != nil {
			t.Fatalf("error shutting down service: %v", err)
		}
	})

	probes := router.Sent("bob@denmark.lit")
	if len(probes) != 1 {
		t.Fatalf("expected one probe, got %d stanzas: %v", len(probes), probes)
	}
	if probes[0].Name.Local != "presence" || probes[0].Type != "probe" {
		t.Errorf("expected a presence probe, got %s", probes[0].XML)
	}
}

func TestShutdownDrainsQueuedWrites(t *testing.T) {
	// A long flush interval keeps the ticker out of the picture; only
	// shutdown may drain the queue.
	f := newFixture(t, func(cfg *pubsub.Config) { cfg.FlushInterval = time.Hour })
	f.mustCreate(t, alice, "princely_musings", "")
	f.mustPublish(t, "princely_musings", alice, `<item id="a"><entry xmlns="urn:example:e">one</entry></item>`)
	f.mustPublish(t, "princely_musings", alice, `<item id="b"><entry xmlns="urn:example:e">two</entry></item>`)

	if got := f.backend.ItemWrites(); len(got) != 0 {
		t.Fatalf("items were written before shutdown: %v", got)
	}
	f.shutdown(t)

	want := []string{"princely_musings a", "princely_musings b"}
	if diff := cmp.Diff(want, f.backend.ItemWrites()); diff != "" {
		t.Errorf("unexpected writes after shutdown (-want +got):\n%s", diff)
	}
}
