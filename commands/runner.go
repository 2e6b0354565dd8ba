// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package commands

import (
	"context"
	"encoding/xml"

	"mellium.im/xmlstream"

	"github.com/arborpub/arbor/form"
	"github.com/arborpub/arbor/internal/attr"
	"github.com/arborpub/arbor/stanza"
)

// Runner processes ad-hoc command requests addressed to a service and
// produces the complete reply stanza.
//
// The payload reader is positioned at the command element. Implementations
// must always return a routable reply; an error is only returned when no
// reply could be built at all.
type Runner interface {
	Run(ctx context.Context, iq stanza.IQ, payload xml.TokenReader) (xml.TokenReader, error)
}

// Response is the output of a single command stage.
type Response struct {
	SID     string
	Status  string
	Actions Actions
	Notes   []Note
	Form    *form.Data
}

// TokenReader returns the contents of the command element for the response:
// the actions, notes, and form payload.
func (r Response) TokenReader() xml.TokenReader {
	var inner []xml.TokenReader
	if r.Actions != 0 {
		inner = append(inner, r.Actions.TokenReader())
	}
	for _, note := range r.Notes {
		inner = append(inner, note.TokenReader())
	}
	if r.Form != nil {
		inner = append(inner, r.Form.TokenReader())
	}
	return xmlstream.MultiReader(inner...)
}

// Handler executes a single stage of an ad-hoc command.
//
// The submitted form is nil when the request carried none (the first stage of
// most commands). Returning a stanza.Error refuses the request with that
// error; any other error is reported to the requester as an internal service
// failure.
type Handler interface {
	HandleCommand(ctx context.Context, iq stanza.IQ, cmd Command, submitted *form.Data) (Response, error)
}

// HandlerFunc is a function that implements Handler.
type HandlerFunc func(ctx context.Context, iq stanza.IQ, cmd Command, submitted *form.Data) (Response, error)

// HandleCommand implements Handler by calling f.
func (f HandlerFunc) HandleCommand(ctx context.Context, iq stanza.IQ, cmd Command, submitted *form.Data) (Response, error) {
	return f(ctx, iq, cmd, submitted)
}

// Manager is a registry of ad-hoc commands keyed by node.
// It implements Runner and is safe for concurrent use after the last call to
// Register.
type Manager struct {
	handlers map[string]Handler
}

// NewManager allocates and returns a new Manager.
func NewManager() *Manager {
	return &Manager{handlers: make(map[string]Handler)}
}

// Register adds a command handler for the provided node.
// If a handler already exists for the node, Register panics.
func (m *Manager) Register(node string, h Handler) {
	if h == nil {
		panic("commands: nil handler")
	}
	if _, ok := m.handlers[node]; ok {
		panic("commands: multiple registrations for " + node)
	}
	m.handlers[node] = h
}

// Run implements Runner.
//
// Malformed payloads and unknown command nodes yield error replies; handler
// results are wrapped in a result IQ echoing the command element with the
// session id and status filled in.
func (m *Manager) Run(ctx context.Context, iq stanza.IQ, payload xml.TokenReader) (xml.TokenReader, error) {
	req := struct {
		XMLName xml.Name   `xml:"http://jabber.org/protocol/commands command"`
		Node    string     `xml:"node,attr"`
		Action  string     `xml:"action,attr"`
		SID     string     `xml:"sessionid,attr"`
		Form    *form.Data `xml:"jabber:x:data x"`
	}{}
	err := xml.NewTokenDecoder(payload).Decode(&req)
	if err != nil {
		return iq.Error(stanza.Error{Type: stanza.Modify, Condition: stanza.BadRequest}, nil), nil
	}
	cmd := Command{Node: req.Node, Action: req.Action, SID: req.SID}

	if iq.Type != stanza.SetIQ {
		return iq.Error(stanza.Error{Type: stanza.Modify, Condition: stanza.BadRequest}, cmd.TokenReader()), nil
	}
	h, ok := m.handlers[cmd.Node]
	if !ok {
		return iq.Error(stanza.Error{Type: stanza.Cancel, Condition: stanza.ItemNotFound}, cmd.TokenReader()), nil
	}

	if cmd.Action == ActionCancel {
		reply := Command{Node: cmd.Node, SID: cmd.SID, Status: StatusCanceled}
		if reply.SID == "" {
			reply.SID = attr.RandomID()
		}
		return iq.Result(reply.TokenReader()), nil
	}

	resp, err := h.HandleCommand(ctx, iq, cmd, req.Form)
	if err != nil {
		stanzaErr, ok := err.(stanza.Error)
		if !ok {
			stanzaErr = stanza.Error{Type: stanza.Cancel, Condition: stanza.InternalServerError}
		}
		return iq.Error(stanzaErr, cmd.TokenReader()), nil
	}

	if resp.SID == "" {
		resp.SID = cmd.SID
	}
	if resp.SID == "" {
		resp.SID = attr.RandomID()
	}
	if resp.Status == "" {
		resp.Status = StatusCompleted
	}
	reply := Command{Node: cmd.Node, SID: resp.SID, Status: resp.Status}
	return iq.Result(reply.Wrap(resp.TokenReader())), nil
}
