// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"encoding/xml"

	"mellium.im/xmlstream"

	"github.com/arborpub/arbor/internal/attr"
	"github.com/arborpub/arbor/jid"
	"github.com/arborpub/arbor/stanza"
)

// nodeAttrs builds the attribute list for event children, omitting the
// node attribute for the root collection.
func nodeAttrs(nodeID string) []xml.Attr {
	if nodeID == "" {
		return nil
	}
	return []xml.Attr{{Name: xml.Name{Local: "node"}, Value: nodeID}}
}

func wrapEvent(payload xml.TokenReader) xml.TokenReader {
	return xmlstream.Wrap(payload, xml.StartElement{
		Name: xml.Name{Space: NSEvent, Local: "event"},
	})
}

// eventItems builds the payload of an item notification carrying the
// provided items, with payloads included when the node delivers them.
func eventItems(nodeID string, items []*Item, withPayload bool) xml.TokenReader {
	inner := make([]xml.TokenReader, 0, len(items))
	for _, it := range items {
		inner = append(inner, it.tokenReader(withPayload))
	}
	return wrapEvent(xmlstream.Wrap(xmlstream.MultiReader(inner...), xml.StartElement{
		Name: xml.Name{Local: "items"},
		Attr: nodeAttrs(nodeID),
	}))
}

// eventRetract builds the payload of a retraction notification.
func eventRetract(nodeID string, ids []string) xml.TokenReader {
	inner := make([]xml.TokenReader, 0, len(ids))
	for _, id := range ids {
		inner = append(inner, xmlstream.Wrap(nil, xml.StartElement{
			Name: xml.Name{Local: "retract"},
			Attr: []xml.Attr{{Name: xml.Name{Local: "id"}, Value: id}},
		}))
	}
	return wrapEvent(xmlstream.Wrap(xmlstream.MultiReader(inner...), xml.StartElement{
		Name: xml.Name{Local: "items"},
		Attr: nodeAttrs(nodeID),
	}))
}

// eventConfiguration builds the payload sent to subscribers when a node's
// configuration changes.
func eventConfiguration(nodeID string) xml.TokenReader {
	return wrapEvent(xmlstream.Wrap(nil, xml.StartElement{
		Name: xml.Name{Local: "configuration"},
		Attr: nodeAttrs(nodeID),
	}))
}

// eventDelete builds the payload sent to subscribers when a node is
// deleted.
func eventDelete(nodeID string) xml.TokenReader {
	return wrapEvent(xmlstream.Wrap(nil, xml.StartElement{
		Name: xml.Name{Local: "delete"},
		Attr: nodeAttrs(nodeID),
	}))
}

// eventPurge builds the payload sent to subscribers when all items are
// purged from a node.
func eventPurge(nodeID string) xml.TokenReader {
	return wrapEvent(xmlstream.Wrap(nil, xml.StartElement{
		Name: xml.Name{Local: "purge"},
		Attr: nodeAttrs(nodeID),
	}))
}

// eventSubscription builds the payload used to tell a subscriber that the
// state of their subscription changed, for example because an owner
// approved or denied a pending request.
func eventSubscription(nodeID string, sub *Subscription, withSubID bool) xml.TokenReader {
	return wrapEvent(subscriptionElement(nodeID, sub, withSubID))
}

// eventMessage builds a complete notification message addressed from the
// service. A non-empty body is prepended to the payload for subscriptions
// that asked for one.
func (s *Service) eventMessage(to jid.JID, body string, payload ...xml.TokenReader) xml.TokenReader {
	msg := stanza.Message{
		ID:   attr.RandomID(),
		To:   to,
		From: s.jid,
	}
	if body != "" {
		payload = append([]xml.TokenReader{xmlstream.Wrap(
			xmlstream.Token(xml.CharData(body)),
			xml.StartElement{Name: xml.Name{Local: "body"}},
		)}, payload...)
	}
	return msg.Wrap(xmlstream.MultiReader(payload...))
}
