// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpptest

import (
	"bytes"
	"context"
	"encoding/xml"
	"strings"
	"sync"

	"mellium.im/xmlstream"

	"github.com/arborpub/arbor/internal/attr"
)

// Routed is one stanza captured by a Router, with the envelope
// attributes pulled out for convenience and the full serialization in
// XML.
type Routed struct {
	Name xml.Name
	ID   string
	To   string
	From string
	Type string
	XML  string
}

// Contains reports whether the stanza serialization contains s.
func (r Routed) Contains(s string) bool {
	return strings.Contains(r.XML, s)
}

// Router captures every stanza routed through it. It is safe for
// concurrent use.
type Router struct {
	mu      sync.Mutex
	stanzas []Routed
}

// NewRouter returns a Router that accepts every stanza.
func NewRouter() *Router {
	return &Router{}
}

// Route implements the service's router contract by recording the
// stanza.
func (r *Router) Route(_ context.Context, stanza xml.TokenReader) error {
	var buf bytes.Buffer
	e := xml.NewEncoder(&buf)
	if _, err := xmlstream.Copy(e, stanza); err != nil {
		return err
	}
	if err := e.Flush(); err != nil {
		return err
	}

	routed := Routed{XML: buf.String()}
	d := xml.NewDecoder(&buf)
	tok, err := d.Token()
	if err == nil {
		if start, ok := tok.(xml.StartElement); ok {
			routed.Name = start.Name
			routed.ID = attr.Get(start.Attr, "id")
			routed.To = attr.Get(start.Attr, "to")
			routed.From = attr.Get(start.Attr, "from")
			routed.Type = attr.Get(start.Attr, "type")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stanzas = append(r.stanzas, routed)
	return nil
}

// Stanzas returns a snapshot of everything routed so far.
func (r *Router) Stanzas() []Routed {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Routed, len(r.stanzas))
	copy(out, r.stanzas)
	return out
}

// Len returns the number of stanzas routed so far.
func (r *Router) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stanzas)
}

// Reset discards all captured stanzas.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stanzas = nil
}

// Sent returns the stanzas addressed to the given JID string.
func (r *Router) Sent(to string) []Routed {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Routed
	for _, s := range r.stanzas {
		if s.To == to {
			out = append(out, s)
		}
	}
	return out
}
