// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package disco_test

import (
	"encoding/xml"
	"strconv"
	"testing"

	"github.com/arborpub/arbor/disco"
	"github.com/arborpub/arbor/form"
	"github.com/arborpub/arbor/jid"
)

var infoResultTests = [...]struct {
	result disco.InfoResult
	out    string
}{
	0: {
		result: disco.InfoResult{},
		out:    `<query xmlns="http://jabber.org/protocol/disco#info"></query>`,
	},
	1: {
		result: disco.InfoResult{
			Identities: []disco.Identity{{Category: "pubsub", Type: "service", Name: "Publish-Subscribe"}},
			Features: []disco.Feature{
				{Var: "http://jabber.org/protocol/disco#info"},
				{Var: "http://jabber.org/protocol/pubsub"},
			},
		},
		out: `<query xmlns="http://jabber.org/protocol/disco#info">` +
			`<identity category="pubsub" type="service" name="Publish-Subscribe"></identity>` +
			`<feature var="http://jabber.org/protocol/disco#info"></feature>` +
			`<feature var="http://jabber.org/protocol/pubsub"></feature>` +
			`</query>`,
	},
	2: {
		result: disco.InfoResult{
			Node:       "blog",
			Identities: []disco.Identity{{Category: "pubsub", Type: "leaf"}},
			Form: &form.Data{
				Type: form.TypeResult,
				Fields: []form.Field{
					{Type: form.Hidden, Var: "FORM_TYPE", Values: []string{"http://jabber.org/protocol/pubsub#meta-data"}},
					{Type: form.Text, Var: "pubsub#title", Values: []string{"Princely Musings"}},
				},
			},
		},
		out: `<query xmlns="http://jabber.org/protocol/disco#info" node="blog">` +
			`<identity category="pubsub" type="leaf"></identity>` +
			`<x xmlns="jabber:x:data" type="result">` +
			`<field var="FORM_TYPE" type="hidden"><value>http://jabber.org/protocol/pubsub#meta-data</value></field>` +
			`<field var="pubsub#title" type="text-single"><value>Princely Musings</value></field>` +
			`</x>` +
			`</query>`,
	},
}

func TestInfoResult(t *testing.T) {
	for i, tc := range infoResultTests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			b, err := xml.Marshal(tc.result)
			if err != nil {
				t.Fatalf("error marshaling: %v", err)
			}
			if string(b) != tc.out {
				t.Errorf("wrong output:\nwant=%s,\n got=%s", tc.out, b)
			}
		})
	}
}

var itemsResultTests = [...]struct {
	result disco.ItemsResult
	out    string
}{
	0: {
		result: disco.ItemsResult{},
		out:    `<query xmlns="http://jabber.org/protocol/disco#items"></query>`,
	},
	1: {
		result: disco.ItemsResult{
			Items: []disco.Item{
				{JID: jid.MustParse("pubsub.example.net"), Node: "blog", Name: "Princely Musings"},
				{JID: jid.MustParse("pubsub.example.net"), Node: "news"},
			},
		},
		out: `<query xmlns="http://jabber.org/protocol/disco#items">` +
			`<item jid="pubsub.example.net" node="blog" name="Princely Musings"></item>` +
			`<item jid="pubsub.example.net" node="news"></item>` +
			`</query>`,
	},
	2: {
		result: disco.ItemsResult{
			Node: "blog",
			Items: []disco.Item{
				{JID: jid.MustParse("pubsub.example.net"), Name: "item1"},
			},
		},
		out: `<query xmlns="http://jabber.org/protocol/disco#items" node="blog">` +
			`<item jid="pubsub.example.net" name="item1"></item>` +
			`</query>`,
	},
}

func TestItemsResult(t *testing.T) {
	for i, tc := range itemsResultTests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			b, err := xml.Marshal(tc.result)
			if err != nil {
				t.Fatalf("error marshaling: %v", err)
			}
			if string(b) != tc.out {
				t.Errorf("wrong output:\nwant=%s,\n got=%s", tc.out, b)
			}
		})
	}
}

func TestUnmarshalQueries(t *testing.T) {
	var info disco.InfoQuery
	if err := xml.Unmarshal([]byte(`<query xmlns="http://jabber.org/protocol/disco#info" node="blog"/>`), &info); err != nil {
		t.Fatalf("error unmarshaling info query: %v", err)
	}
	if info.Node != "blog" {
		t.Errorf("wrong node: want=%q, got=%q", "blog", info.Node)
	}

	var items disco.ItemsQuery
	if err := xml.Unmarshal([]byte(`<query xmlns="http://jabber.org/protocol/disco#items"/>`), &items); err != nil {
		t.Fatalf("error unmarshaling items query: %v", err)
	}
	if items.Node != "" {
		t.Errorf("wrong node: want empty, got=%q", items.Node)
	}
}
