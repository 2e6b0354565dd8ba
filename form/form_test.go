// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package form_test

import (
	"encoding/xml"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"mellium.im/xmlstream"

	"github.com/arborpub/arbor/form"
)

var (
	_ xml.Marshaler       = (*form.Data)(nil)
	_ xml.Unmarshaler     = (*form.Data)(nil)
	_ xmlstream.Marshaler = (*form.Data)(nil)
	_ xmlstream.WriterTo  = (*form.Data)(nil)
	_ xmlstream.Marshaler = form.Field{}
	_ xmlstream.WriterTo  = form.Field{}
)

var marshalTests = [...]struct {
	data *form.Data
	out  string
}{
	0: {
		data: &form.Data{},
		out:  `<x xmlns="jabber:x:data" type="form"></x>`,
	},
	1: {
		data: &form.Data{Type: form.TypeSubmit, Title: "Node Configuration"},
		out:  `<x xmlns="jabber:x:data" type="submit"><title>Node Configuration</title></x>`,
	},
	2: {
		data: form.New(
			form.Field{Type: form.Hidden, Var: "FORM_TYPE", Values: []string{"http://jabber.org/protocol/pubsub#node_config"}},
			form.Field{Type: form.Boolean, Var: "pubsub#deliver_payloads", Label: "Deliver payloads", Values: []string{"1"}},
		),
		out: `<x xmlns="jabber:x:data" type="form">` +
			`<field var="FORM_TYPE" type="hidden"><value>http://jabber.org/protocol/pubsub#node_config</value></field>` +
			`<field var="pubsub#deliver_payloads" type="boolean" label="Deliver payloads"><value>1</value></field>` +
			`</x>`,
	},
	3: {
		data: form.New(
			form.Field{
				Type: form.List, Var: "pubsub#access_model",
				Options: []form.Option{
					{Value: "open"},
					{Label: "Whitelist", Value: "whitelist"},
				},
				Values: []string{"open"},
			},
		),
		out: `<x xmlns="jabber:x:data" type="form">` +
			`<field var="pubsub#access_model" type="list-single">` +
			`<value>open</value>` +
			`<option><value>open</value></option>` +
			`<option label="Whitelist"><value>whitelist</value></option>` +
			`</field></x>`,
	},
	4: {
		data: form.New(
			form.Field{Type: form.TextMulti, Var: "pubsub#children", Values: []string{"a\nb"}},
		),
		out: `<x xmlns="jabber:x:data" type="form">` +
			`<field var="pubsub#children" type="text-multi"><value>a</value><value>b</value></field>` +
			`</x>`,
	},
	5: {
		data: form.New(
			form.Field{Type: form.Text, Var: "answer", Desc: "The answer", Required: true},
		),
		out: `<x xmlns="jabber:x:data" type="form">` +
			`<field var="answer" type="text-single"><desc>The answer</desc><required></required></field>` +
			`</x>`,
	},
}

func TestMarshal(t *testing.T) {
	for i, tc := range marshalTests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			b, err := xml.Marshal(tc.data)
			if err != nil {
				t.Fatalf("error marshaling: %v", err)
			}
			if string(b) != tc.out {
				t.Errorf("wrong output:\nwant=%s,\n got=%s", tc.out, b)
			}
		})
	}
}

func TestUnmarshal(t *testing.T) {
	const submission = `<x xmlns="jabber:x:data" type="submit">` +
		`<field var="FORM_TYPE" type="hidden"><value>http://jabber.org/protocol/pubsub#node_config</value></field>` +
		`<field var="pubsub#title"><value>Princely Musings</value></field>` +
		`<field var="pubsub#deliver_payloads"><value>0</value></field>` +
		`<field var="pubsub#contact"><value>romeo@example.net</value><value>mercutio@example.net</value></field>` +
		`</x>`

	d := &form.Data{}
	if err := xml.Unmarshal([]byte(submission), d); err != nil {
		t.Fatalf("error unmarshaling: %v", err)
	}
	if d.Type != form.TypeSubmit {
		t.Errorf("wrong type: want=%s, got=%s", form.TypeSubmit, d.Type)
	}
	if s, ok := d.GetString(form.FormType); !ok || s != "http://jabber.org/protocol/pubsub#node_config" {
		t.Errorf("wrong FORM_TYPE: got=%q, ok=%t", s, ok)
	}
	if s, ok := d.GetString("pubsub#title"); !ok || s != "Princely Musings" {
		t.Errorf("wrong title: got=%q, ok=%t", s, ok)
	}
	if b, ok := d.GetBool("pubsub#deliver_payloads"); !ok || b {
		t.Errorf("wrong deliver_payloads: got=%t, ok=%t", b, ok)
	}
	want := []string{"romeo@example.net", "mercutio@example.net"}
	if vs, ok := d.GetStrings("pubsub#contact"); !ok || !cmp.Equal(want, vs) {
		t.Errorf("wrong contacts: got=%v, ok=%t", vs, ok)
	}
	if _, ok := d.Get("pubsub#missing"); ok {
		t.Error("expected missing field to report not ok")
	}
}

func TestGetBool(t *testing.T) {
	for i, tc := range [...]struct {
		value string
		b, ok bool
	}{
		0: {"1", true, true},
		1: {"true", true, true},
		2: {"0", false, true},
		3: {"false", false, true},
		4: {"yes", false, false},
		5: {"", false, false},
	} {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			d := form.New(form.Field{Type: form.Boolean, Var: "allow", Values: []string{tc.value}})
			b, ok := d.GetBool("allow")
			if b != tc.b || ok != tc.ok {
				t.Errorf("wrong result for %q: want=(%t, %t), got=(%t, %t)", tc.value, tc.b, tc.ok, b, ok)
			}
		})
	}
}

func TestSet(t *testing.T) {
	d := form.New(form.Field{Type: form.Text, Var: "pubsub#title", Values: []string{"old"}})
	d.Set(form.Text, "pubsub#title", "new")
	d.Set(form.Boolean, "pubsub#persist_items", "1")
	if s, _ := d.GetString("pubsub#title"); s != "new" {
		t.Errorf("expected Set to replace value, got %q", s)
	}
	if len(d.Fields) != 2 {
		t.Fatalf("expected Set to append new field, got %d fields", len(d.Fields))
	}
	if b, ok := d.GetBool("pubsub#persist_items"); !ok || !b {
		t.Errorf("wrong persist_items: got=%t, ok=%t", b, ok)
	}
}

func TestRoundTrip(t *testing.T) {
	orig := form.New(
		form.Field{Type: form.Hidden, Var: "FORM_TYPE", Values: []string{"http://jabber.org/protocol/pubsub#subscribe_authorization"}},
		form.Field{Type: form.Text, Var: "pubsub#node", Label: "Node", Values: []string{"blog"}},
		form.Field{Type: form.Boolean, Var: "pubsub#allow", Values: []string{"false"}, Required: true},
	)
	b, err := xml.Marshal(orig)
	if err != nil {
		t.Fatalf("error marshaling: %v", err)
	}
	parsed := &form.Data{}
	if err := xml.Unmarshal(b, parsed); err != nil {
		t.Fatalf("error unmarshaling: %v", err)
	}
	if diff := cmp.Diff(orig, parsed); diff != "" {
		t.Errorf("form did not survive round trip (-want, +got):\n%s", diff)
	}
}
