// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"encoding/xml"

	"mellium.im/xmlstream"

	"github.com/arborpub/arbor/internal/ns"
	"github.com/arborpub/arbor/stanza"
)

// Condition is a pubsub specific error condition carried inside a
// stanza error alongside the base condition.
type Condition string

// Error conditions defined by the pubsub protocol.
const (
	CondClosedNode          Condition = "closed-node"
	CondInvalidJID          Condition = "invalid-jid"
	CondInvalidPayload      Condition = "invalid-payload"
	CondInvalidSubID        Condition = "invalid-subid"
	CondItemForbidden       Condition = "item-forbidden"
	CondItemRequired        Condition = "item-required"
	CondJIDRequired         Condition = "jid-required"
	CondMaxNodesExceeded    Condition = "max-nodes-exceeded"
	CondNodeIDRequired      Condition = "nodeid-required"
	CondNotInRosterGroup    Condition = "not-in-roster-group"
	CondNotSubscribed       Condition = "not-subscribed"
	CondPayloadRequired     Condition = "payload-required"
	CondPendingSubscription Condition = "pending-subscription"
	CondPresenceSubRequired Condition = "presence-subscription-required"
	CondSubIDRequired       Condition = "subid-required"
	CondUnsupported         Condition = "unsupported"
)

// Error is a stanza error decorated with a pubsub error condition. The
// base condition and the pubsub condition are emitted as siblings
// inside the error element. Feature is only used with CondUnsupported
// and names the unimplemented feature fragment.
type Error struct {
	Err     stanza.Error
	Cond    Condition
	Feature string
}

// Error satisfies the error interface.
func (e Error) Error() string {
	if e.Cond == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + string(e.Cond)
}

// TokenReader implements xmlstream.Marshaler.
func (e Error) TokenReader() xml.TokenReader {
	base := xmlstream.Wrap(nil, xml.StartElement{
		Name: xml.Name{Space: ns.Stanza, Local: string(e.Err.Condition)},
	})
	if e.Cond == "" {
		return xmlstream.Wrap(base, e.Err.StartElement())
	}
	app := xml.StartElement{
		Name: xml.Name{Space: NSErrors, Local: string(e.Cond)},
	}
	if e.Feature != "" {
		app.Attr = append(app.Attr, xml.Attr{
			Name:  xml.Name{Local: "feature"},
			Value: e.Feature,
		})
	}
	return xmlstream.Wrap(
		xmlstream.MultiReader(base, xmlstream.Wrap(nil, app)),
		e.Err.StartElement(),
	)
}

// WriteXML implements xmlstream.WriterTo.
func (e Error) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, e.TokenReader())
}

// MarshalXML implements xml.Marshaler.
func (e Error) MarshalXML(enc *xml.Encoder, _ xml.StartElement) error {
	_, err := e.WriteXML(enc)
	return err
}

func badRequest(cond Condition) Error {
	return Error{
		Err:  stanza.Error{Type: stanza.Modify, Condition: stanza.BadRequest},
		Cond: cond,
	}
}

func notAcceptable(cond Condition) Error {
	return Error{
		Err:  stanza.Error{Type: stanza.Modify, Condition: stanza.NotAcceptable},
		Cond: cond,
	}
}

func unsupported(feature string) Error {
	return Error{
		Err:     stanza.Error{Type: stanza.Cancel, Condition: stanza.FeatureNotImplemented},
		Cond:    CondUnsupported,
		Feature: feature,
	}
}

var (
	errForbidden    = stanza.Error{Type: stanza.Auth, Condition: stanza.Forbidden}
	errItemNotFound = stanza.Error{Type: stanza.Cancel, Condition: stanza.ItemNotFound}
	errConflict     = stanza.Error{Type: stanza.Cancel, Condition: stanza.Conflict}
	errNotAllowed   = stanza.Error{Type: stanza.Cancel, Condition: stanza.NotAllowed}
	errBadRequest   = stanza.Error{Type: stanza.Modify, Condition: stanza.BadRequest}
	errNotAccept    = stanza.Error{Type: stanza.Modify, Condition: stanza.NotAcceptable}
	errInternal     = stanza.Error{Type: stanza.Cancel, Condition: stanza.InternalServerError}
)
