// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package commands

import (
	"encoding/xml"

	"mellium.im/xmlstream"
)

// Actions represent the next steps that can be performed in multi-stage
// commands.
type Actions uint8

// A list of possible actions.
const (
	Prev Actions = 1 << iota
	Next
	Complete

	// Execute is a bitmask that can be used to extract the default action.
	Execute = 0x38
)

// String returns the wire representation of a single action.
// Combined action sets return the empty string.
func (a Actions) String() string {
	switch a {
	case Prev:
		return "prev"
	case Next:
		return "next"
	case Complete:
		return "complete"
	}
	return ""
}

// TokenReader satisfies the xmlstream.Marshaler interface.
func (a Actions) TokenReader() xml.TokenReader {
	var attr []xml.Attr
	switch execute := (a & Execute) >> 3; execute {
	case Prev, Next, Complete:
		attr = []xml.Attr{{Name: xml.Name{Local: "execute"}, Value: execute.String()}}
	default:
	}

	var inner []xml.TokenReader
	for i := Actions(1); i <= Complete; i <<= 1 {
		if a&i == 0 {
			continue
		}
		inner = append(inner, xmlstream.Wrap(nil, xml.StartElement{
			Name: xml.Name{Local: i.String()},
		}))
	}

	return xmlstream.Wrap(
		xmlstream.MultiReader(inner...),
		xml.StartElement{
			Name: xml.Name{Local: "actions"},
			Attr: attr,
		},
	)
}

// WriteXML satisfies the xmlstream.WriterTo interface.
// It is like MarshalXML except it writes tokens to w.
func (a Actions) WriteXML(w xmlstream.TokenWriter) (n int, err error) {
	return xmlstream.Copy(w, a.TokenReader())
}

// MarshalXML implements xml.Marshaler.
func (a Actions) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	_, err := a.WriteXML(e)
	return err
}

// UnmarshalXML implements xml.Unmarshaler.
func (a *Actions) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	decoded := struct {
		Execute  string    `xml:"execute,attr"`
		Prev     *struct{} `xml:"prev"`
		Next     *struct{} `xml:"next"`
		Complete *struct{} `xml:"complete"`
	}{}
	if err := d.DecodeElement(&decoded, &start); err != nil {
		return err
	}
	*a = 0
	if decoded.Prev != nil {
		*a |= Prev
	}
	if decoded.Next != nil {
		*a |= Next
	}
	if decoded.Complete != nil {
		*a |= Complete
	}
	switch decoded.Execute {
	case "prev":
		*a |= Prev << 3
	case "next":
		*a |= Next << 3
	case "complete":
		*a |= Complete << 3
	}
	return nil
}
