// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"bytes"
	"encoding/xml"
	"time"

	"github.com/arborpub/arbor/jid"
	"github.com/arborpub/arbor/storage"
	"mellium.im/xmlstream"
)

// Item is a single published item on a leaf node.
//
// Payload holds the serialized payload element exactly as it was published,
// or is empty for nodes that do not deliver payloads.
type Item struct {
	NodeID    string
	ID        string
	Publisher jid.JID
	Payload   []byte
	Created   time.Time
}

// hasPayload reports whether a payload was captured when the item was
// published.
func (it *Item) hasPayload() bool {
	return len(it.Payload) > 0
}

// payloadReader re-parses the stored payload so that it can be spliced
// into an outgoing element. It returns nil when the item has no payload.
func (it *Item) payloadReader() xml.TokenReader {
	if !it.hasPayload() {
		return nil
	}
	return xml.NewDecoder(bytes.NewReader(it.Payload))
}

// payloadText collects the character data of the stored payload. It is used
// to build message bodies for subscriptions that asked for them.
func (it *Item) payloadText() string {
	if !it.hasPayload() {
		return ""
	}
	var buf bytes.Buffer
	d := xml.NewDecoder(bytes.NewReader(it.Payload))
	for {
		tok, err := d.Token()
		if err != nil {
			break
		}
		if cd, ok := tok.(xml.CharData); ok {
			buf.Write(cd)
		}
	}
	return buf.String()
}

// tokenReader builds an <item/> element, including the payload when
// withPayload is set.
func (it *Item) tokenReader(withPayload bool) xml.TokenReader {
	var inner xml.TokenReader
	if withPayload {
		inner = it.payloadReader()
	}
	return xmlstream.Wrap(inner, xml.StartElement{
		Name: xml.Name{Local: "item"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "id"}, Value: it.ID}},
	})
}

// record converts the item to its storage representation.
func (it *Item) record() storage.ItemRecord {
	return storage.ItemRecord{
		NodeID:    it.NodeID,
		ItemID:    it.ID,
		Publisher: it.Publisher.String(),
		Payload:   it.Payload,
		Created:   it.Created,
	}
}
