// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package form implements data forms for gathering and publishing structured
// data in stanza payloads.
package form // import "github.com/arborpub/arbor/form"

import (
	"encoding/xml"

	"mellium.im/xmlstream"
)

// NS is the data forms namespace.
const NS = "jabber:x:data"

// FormType is the var of the hidden field that scopes the remaining fields of
// a form to a particular application.
const FormType = "FORM_TYPE"

// Type describes the role of a form in a data gathering workflow.
// It should normally be one of the constants defined in this package.
type Type string

const (
	// TypeForm indicates that the form-processing entity is asking the
	// form-submitting entity to complete a form.
	TypeForm Type = "form"

	// TypeSubmit indicates that the form-submitting entity is submitting data
	// to the form-processing entity.
	TypeSubmit Type = "submit"

	// TypeCancel indicates that the form-submitting entity has cancelled
	// submission of data.
	TypeCancel Type = "cancel"

	// TypeResult indicates that the form-processing entity is returning data
	// to the form-submitting entity.
	TypeResult Type = "result"
)

// Data represents a data form.
//
// The zero value is a valid empty form of type "form".
type Data struct {
	Type         Type
	Title        string
	Instructions string
	Fields       []Field
}

// New builds a new empty data form of type "form" with the provided fields.
func New(fields ...Field) *Data {
	return &Data{Type: TypeForm, Fields: fields}
}

// Get returns the first field with the provided var.
func (d *Data) Get(v string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Var == v {
			return f, true
		}
	}
	return Field{}, false
}

// GetString returns the first value of the field with the provided var.
func (d *Data) GetString(v string) (string, bool) {
	f, ok := d.Get(v)
	if !ok || len(f.Values) == 0 {
		return "", false
	}
	return f.Values[0], true
}

// GetStrings returns all values of the field with the provided var.
func (d *Data) GetStrings(v string) ([]string, bool) {
	f, ok := d.Get(v)
	if !ok {
		return nil, false
	}
	return f.Values, true
}

// GetBool returns the value of the boolean field with the provided var.
// Only the values "1", "true", "0", and "false" are recognized; any other
// value reports not ok.
func (d *Data) GetBool(v string) (b, ok bool) {
	s, ok := d.GetString(v)
	if !ok {
		return false, false
	}
	switch s {
	case "1", "true":
		return true, true
	case "0", "false":
		return false, true
	}
	return false, false
}

// Set replaces the values of the field with the provided var, appending a new
// field of the provided type if none exists.
func (d *Data) Set(typ FieldType, v string, values ...string) {
	for i, f := range d.Fields {
		if f.Var == v {
			d.Fields[i].Values = values
			return
		}
	}
	d.Fields = append(d.Fields, Field{Type: typ, Var: v, Values: values})
}

// TokenReader implements xmlstream.Marshaler for Data.
func (d *Data) TokenReader() xml.TokenReader {
	start := xml.StartElement{Name: xml.Name{Space: NS, Local: "x"}}
	typ := d.Type
	if typ == "" {
		typ = TypeForm
	}
	start.Attr = append(start.Attr, xml.Attr{
		Name:  xml.Name{Local: "type"},
		Value: string(typ),
	})

	var child []xml.TokenReader
	if d.Title != "" {
		child = append(child, xmlstream.Wrap(
			xmlstream.Token(xml.CharData(d.Title)),
			xml.StartElement{Name: xml.Name{Local: "title"}},
		))
	}
	if d.Instructions != "" {
		child = append(child, xmlstream.Wrap(
			xmlstream.Token(xml.CharData(d.Instructions)),
			xml.StartElement{Name: xml.Name{Local: "instructions"}},
		))
	}
	for _, f := range d.Fields {
		child = append(child, f.TokenReader())
	}

	return xmlstream.Wrap(
		xmlstream.MultiReader(child...),
		start,
	)
}

// WriteXML implements xmlstream.WriterTo for Data.
func (d *Data) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, d.TokenReader())
}

// MarshalXML satisfies the xml.Marshaler interface for *Data.
func (d *Data) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	_, err := d.WriteXML(e)
	if err != nil {
		return err
	}
	return e.Flush()
}

// UnmarshalXML satisfies the xml.Unmarshaler interface for *Data.
func (d *Data) UnmarshalXML(dec *xml.Decoder, start xml.StartElement) error {
	decoded := struct {
		Type         string `xml:"type,attr"`
		Title        string `xml:"title"`
		Instructions string `xml:"instructions"`
		Fields       []struct {
			Var      string    `xml:"var,attr"`
			Type     string    `xml:"type,attr"`
			Label    string    `xml:"label,attr"`
			Desc     string    `xml:"desc"`
			Required *struct{} `xml:"required"`
			Values   []string  `xml:"value"`
			Options  []struct {
				Label string `xml:"label,attr"`
				Value string `xml:"value"`
			} `xml:"option"`
		} `xml:"field"`
	}{}
	if err := dec.DecodeElement(&decoded, &start); err != nil {
		return err
	}

	d.Type = Type(decoded.Type)
	d.Title = decoded.Title
	d.Instructions = decoded.Instructions
	d.Fields = d.Fields[:0]
	for _, f := range decoded.Fields {
		field := Field{
			Type:     FieldType(f.Type),
			Var:      f.Var,
			Label:    f.Label,
			Desc:     f.Desc,
			Required: f.Required != nil,
			Values:   f.Values,
		}
		for _, o := range f.Options {
			field.Options = append(field.Options, Option{Label: o.Label, Value: o.Value})
		}
		d.Fields = append(d.Fields, field)
	}
	return nil
}
