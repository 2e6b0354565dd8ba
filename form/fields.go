// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package form

import (
	"encoding/xml"
	"strings"

	"mellium.im/xmlstream"
)

var newlineReplacer = strings.NewReplacer(
	"\r\n", "\n",
	"\r", "\n",
)

// FieldType is the type of a single data form field.
// It should normally be one of the constants defined in this package.
type FieldType string

const (
	// Boolean fields enable an entity to gather or provide an either-or
	// choice between two options.
	Boolean FieldType = "boolean"

	// Fixed is intended for data description (e.g., human-readable text such
	// as "section" headers) rather than data gathering or provision.
	Fixed FieldType = "fixed"

	// Hidden fields are not shown by the form-submitting entity, but instead
	// are returned, generally unmodified, with the form.
	Hidden FieldType = "hidden"

	// JIDMulti enables an entity to gather or provide multiple Jabber IDs.
	JIDMulti FieldType = "jid-multi"

	// JID enables an entity to gather or provide a single Jabber ID.
	JID FieldType = "jid-single"

	// ListMulti enables an entity to gather or provide one or more entries
	// from a list.
	ListMulti FieldType = "list-multi"

	// List enables an entity to gather or provide a single entry from a
	// list.
	List FieldType = "list-single"

	// TextMulti enables an entity to gather or provide multiple lines of
	// text.
	TextMulti FieldType = "text-multi"

	// TextPrivate enables an entity to gather or provide a line of text that
	// should be obscured by the form-submitting entity (eg. with asterisks).
	TextPrivate FieldType = "text-private"

	// Text enables an entity to gather or provide a single line of text.
	Text FieldType = "text-single"
)

// Option is one of the allowed values of a List or ListMulti field.
type Option struct {
	Label string
	Value string
}

// TokenReader satisfies the xmlstream.Marshaler interface.
func (o Option) TokenReader() xml.TokenReader {
	start := xml.StartElement{Name: xml.Name{Local: "option"}}
	if o.Label != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "label"}, Value: o.Label})
	}
	return xmlstream.Wrap(
		xmlstream.Wrap(
			xmlstream.Token(xml.CharData(o.Value)),
			xml.StartElement{Name: xml.Name{Local: "value"}},
		),
		start,
	)
}

// WriteXML satisfies the xmlstream.WriterTo interface.
func (o Option) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, o.TokenReader())
}

// Field is a single data form field.
//
// Fields of type ListMulti, JIDMulti, and TextMulti may contain more than one
// value; all other field types use only the first value. TextMulti values are
// joined from (and split into) one value element per line when marshaled.
type Field struct {
	Type     FieldType
	Var      string
	Label    string
	Desc     string
	Required bool
	Values   []string
	Options  []Option
}

// TokenReader satisfies the xmlstream.Marshaler interface.
func (f Field) TokenReader() xml.TokenReader {
	start := xml.StartElement{
		Name: xml.Name{Local: "field"},
		Attr: []xml.Attr{},
	}
	if f.Var != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "var"}, Value: f.Var})
	}
	if f.Type != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "type"}, Value: string(f.Type)})
	}
	if f.Label != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "label"}, Value: f.Label})
	}

	var inner []xml.TokenReader
	if f.Desc != "" {
		inner = append(inner, xmlstream.Wrap(
			xmlstream.Token(xml.CharData(f.Desc)),
			xml.StartElement{Name: xml.Name{Local: "desc"}},
		))
	}
	if f.Required {
		inner = append(inner, xmlstream.Wrap(
			nil,
			xml.StartElement{Name: xml.Name{Local: "required"}},
		))
	}
	for _, v := range f.values() {
		inner = append(inner, xmlstream.Wrap(
			xmlstream.Token(xml.CharData(v)),
			xml.StartElement{Name: xml.Name{Local: "value"}},
		))
	}
	for _, o := range f.Options {
		inner = append(inner, o.TokenReader())
	}

	return xmlstream.Wrap(
		xmlstream.MultiReader(inner...),
		start,
	)
}

// values returns the value elements to marshal, splitting multi-line text
// into one value per line.
func (f Field) values() []string {
	if f.Type != TextMulti {
		return f.Values
	}
	var lines []string
	for _, v := range f.Values {
		v = newlineReplacer.Replace(v)
		for _, line := range strings.Split(v, "\n") {
			if line == "" {
				continue
			}
			lines = append(lines, line)
		}
	}
	return lines
}

// WriteXML satisfies the xmlstream.WriterTo interface.
func (f Field) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, f.TokenReader())
}

// MarshalXML satisfies the xml.Marshaler interface.
func (f Field) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	_, err := f.WriteXML(e)
	if err != nil {
		return err
	}
	return e.Flush()
}
