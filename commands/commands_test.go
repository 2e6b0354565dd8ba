// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package commands_test

import (
	"bytes"
	"context"
	"encoding/xml"
	"strconv"
	"strings"
	"testing"

	"mellium.im/xmlstream"

	"github.com/arborpub/arbor/commands"
	"github.com/arborpub/arbor/form"
	"github.com/arborpub/arbor/jid"
	"github.com/arborpub/arbor/stanza"
)

func render(t *testing.T, r xml.TokenReader) string {
	t.Helper()
	var buf bytes.Buffer
	e := xml.NewEncoder(&buf)
	if _, err := xmlstream.Copy(e, r); err != nil {
		t.Fatalf("error encoding: %v", err)
	}
	if err := e.Flush(); err != nil {
		t.Fatalf("error flushing: %v", err)
	}
	return buf.String()
}

var commandMarshalTests = [...]struct {
	cmd commands.Command
	out string
}{
	0: {
		cmd: commands.Command{Node: "ping"},
		out: `<command xmlns="http://jabber.org/protocol/commands" node="ping"></command>`,
	},
	1: {
		cmd: commands.Command{Node: "pending", Action: commands.ActionExecute, SID: "a1"},
		out: `<command xmlns="http://jabber.org/protocol/commands" node="pending" action="execute" sessionid="a1"></command>`,
	},
	2: {
		cmd: commands.Command{Node: "pending", SID: "a1", Status: commands.StatusCompleted},
		out: `<command xmlns="http://jabber.org/protocol/commands" node="pending" sessionid="a1" status="completed"></command>`,
	},
}

func TestMarshalCommand(t *testing.T) {
	for i, tc := range commandMarshalTests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			b, err := xml.Marshal(tc.cmd)
			if err != nil {
				t.Fatalf("error marshaling: %v", err)
			}
			if string(b) != tc.out {
				t.Errorf("wrong output:\nwant=%s,\n got=%s", tc.out, b)
			}
		})
	}
}

func TestMarshalActions(t *testing.T) {
	a := commands.Complete | commands.Complete<<3
	const expected = `<actions execute="complete"><complete></complete></actions>`
	if out := render(t, a.TokenReader()); out != expected {
		t.Errorf("wrong output:\nwant=%s,\n got=%s", expected, out)
	}
}

func testIQ() stanza.IQ {
	return stanza.IQ{
		ID:   "c1",
		To:   jid.MustParse("pubsub.example.net"),
		From: jid.MustParse("hamlet@denmark.lit/elsinore"),
		Type: stanza.SetIQ,
	}
}

func payload(s string) xml.TokenReader {
	return xml.NewDecoder(strings.NewReader(s))
}

func TestRunUnknownNode(t *testing.T) {
	m := commands.NewManager()
	reply, err := m.Run(context.Background(), testIQ(), payload(
		`<command xmlns="http://jabber.org/protocol/commands" node="nope"/>`,
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := render(t, reply)
	if !strings.Contains(out, `type="error"`) || !strings.Contains(out, "<item-not-found") {
		t.Errorf("expected item-not-found error reply, got: %s", out)
	}
}

func TestRunWrongIQType(t *testing.T) {
	m := commands.NewManager()
	m.Register("pending", commands.HandlerFunc(func(_ context.Context, _ stanza.IQ, _ commands.Command, _ *form.Data) (commands.Response, error) {
		t.Error("handler should not have been called")
		return commands.Response{}, nil
	}))
	iq := testIQ()
	iq.Type = stanza.GetIQ
	reply, err := m.Run(context.Background(), iq, payload(
		`<command xmlns="http://jabber.org/protocol/commands" node="pending"/>`,
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out := render(t, reply); !strings.Contains(out, "<bad-request") {
		t.Errorf("expected bad-request reply, got: %s", out)
	}
}

func TestRunCancel(t *testing.T) {
	m := commands.NewManager()
	m.Register("pending", commands.HandlerFunc(func(_ context.Context, _ stanza.IQ, _ commands.Command, _ *form.Data) (commands.Response, error) {
		t.Error("handler should not have been called")
		return commands.Response{}, nil
	}))
	reply, err := m.Run(context.Background(), testIQ(), payload(
		`<command xmlns="http://jabber.org/protocol/commands" node="pending" action="cancel" sessionid="s9"/>`,
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := render(t, reply)
	if !strings.Contains(out, `status="canceled"`) || !strings.Contains(out, `sessionid="s9"`) {
		t.Errorf("expected canceled reply echoing session, got: %s", out)
	}
}

func TestRunExecute(t *testing.T) {
	m := commands.NewManager()
	var gotForm *form.Data
	m.Register("pending", commands.HandlerFunc(func(_ context.Context, iq stanza.IQ, cmd commands.Command, submitted *form.Data) (commands.Response, error) {
		gotForm = submitted
		return commands.Response{
			Status:  commands.StatusExecuting,
			Actions: commands.Complete | commands.Complete<<3,
			Form: form.New(form.Field{
				Type: form.List, Var: "pubsub#node",
				Options: []form.Option{{Value: "blog"}},
			}),
		}, nil
	}))
	reply, err := m.Run(context.Background(), testIQ(), payload(
		`<command xmlns="http://jabber.org/protocol/commands" node="pending" action="execute"/>`,
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := render(t, reply)
	if gotForm != nil {
		t.Errorf("expected no submitted form, got %v", gotForm)
	}
	for _, want := range []string{
		`type="result"`,
		`status="executing"`,
		`sessionid=`,
		`execute="complete"`,
		`var="pubsub#node"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected reply to contain %s, got: %s", want, out)
		}
	}
}

func TestRunSubmit(t *testing.T) {
	m := commands.NewManager()
	m.Register("pending", commands.HandlerFunc(func(_ context.Context, _ stanza.IQ, cmd commands.Command, submitted *form.Data) (commands.Response, error) {
		if submitted == nil {
			t.Fatal("expected a submitted form")
		}
		if node, _ := submitted.GetString("pubsub#node"); node != "blog" {
			t.Errorf("wrong node in submitted form: %q", node)
		}
		if cmd.SID != "s1" {
			t.Errorf("wrong session id: %q", cmd.SID)
		}
		return commands.Response{Status: commands.StatusCompleted}, nil
	}))
	reply, err := m.Run(context.Background(), testIQ(), payload(
		`<command xmlns="http://jabber.org/protocol/commands" node="pending" action="complete" sessionid="s1">`+
			`<x xmlns="jabber:x:data" type="submit"><field var="pubsub#node"><value>blog</value></field></x>`+
			`</command>`,
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := render(t, reply)
	if !strings.Contains(out, `status="completed"`) || !strings.Contains(out, `sessionid="s1"`) {
		t.Errorf("expected completed reply, got: %s", out)
	}
}

func TestRunHandlerError(t *testing.T) {
	m := commands.NewManager()
	m.Register("pending", commands.HandlerFunc(func(_ context.Context, _ stanza.IQ, _ commands.Command, _ *form.Data) (commands.Response, error) {
		return commands.Response{}, stanza.Error{Type: stanza.Auth, Condition: stanza.Forbidden}
	}))
	reply, err := m.Run(context.Background(), testIQ(), payload(
		`<command xmlns="http://jabber.org/protocol/commands" node="pending"/>`,
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out := render(t, reply); !strings.Contains(out, "<forbidden") {
		t.Errorf("expected forbidden reply, got: %s", out)
	}
}

func TestRegisterPanics(t *testing.T) {
	m := commands.NewManager()
	h := commands.HandlerFunc(func(_ context.Context, _ stanza.IQ, _ commands.Command, _ *form.Data) (commands.Response, error) {
		return commands.Response{}, nil
	})
	m.Register("pending", h)
	defer func() {
		if recover() == nil {
			t.Error("expected duplicate registration to panic")
		}
	}()
	m.Register("pending", h)
}
