// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"
	"io"

	"mellium.im/xmlstream"

	"github.com/arborpub/arbor/internal/ns"
	"github.com/arborpub/arbor/jid"
)

// ErrorType is the type of a stanza error payload.
// It should normally be one of the constants defined in this package.
type ErrorType string

const (
	// Cancel indicates that the error cannot be remedied and the operation
	// should not be retried.
	Cancel ErrorType = "cancel"

	// Auth indicates that an operation should be retried after providing
	// credentials.
	Auth ErrorType = "auth"

	// Continue indicates that the operation can proceed (the condition was
	// only a warning).
	Continue ErrorType = "continue"

	// Modify indicates that the operation can be retried after changing the
	// data sent.
	Modify ErrorType = "modify"

	// Wait indicates that an error is temporary and may be retried.
	Wait ErrorType = "wait"
)

// Condition represents a more specific stanza error condition that can be
// encapsulated by an <error/> element.
type Condition string

// A list of stanza error conditions defined in RFC 6120 §8.3.3
const (
	// BadRequest indicates that the sender has sent a stanza containing XML
	// that does not conform to the appropriate schema or that cannot be
	// processed; the associated error type SHOULD be "modify".
	BadRequest Condition = "bad-request"

	// Conflict indicates that access cannot be granted because an existing
	// resource exists with the same name or address; the associated error
	// type SHOULD be "cancel".
	Conflict Condition = "conflict"

	// FeatureNotImplemented indicates that the feature represented in the XML
	// stanza is not implemented by the intended recipient or an intermediate
	// server and therefore the stanza cannot be processed; the associated
	// error type SHOULD be "cancel" or "modify".
	FeatureNotImplemented Condition = "feature-not-implemented"

	// Forbidden indicates that the requesting entity does not possess the
	// necessary permissions to perform an action that only certain authorized
	// roles or individuals are allowed to complete; the associated error type
	// SHOULD be "auth".
	Forbidden Condition = "forbidden"

	// Gone indicates that the recipient or server can no longer be contacted
	// at this address, typically on a permanent basis; the associated error
	// type SHOULD be "cancel".
	Gone Condition = "gone"

	// InternalServerError indicates that the server has experienced a
	// misconfiguration or other internal error that prevents it from
	// processing the stanza; the associated error type SHOULD be "cancel".
	InternalServerError Condition = "internal-server-error"

	// ItemNotFound indicates that the addressed JID or item requested cannot
	// be found; the associated error type SHOULD be "cancel".
	ItemNotFound Condition = "item-not-found"

	// JIDMalformed indicates that the sending entity has provided or
	// communicated an XMPP address that violates the rules of the jid
	// package; the associated error type SHOULD be "modify".
	JIDMalformed Condition = "jid-malformed"

	// NotAcceptable indicates that the recipient or server understands the
	// request but cannot process it because the request does not meet
	// criteria defined by the recipient or server; the associated error type
	// SHOULD be "modify".
	NotAcceptable Condition = "not-acceptable"

	// NotAllowed indicates that the recipient or server does not allow any
	// entity to perform the action; the associated error type SHOULD be
	// "cancel".
	NotAllowed Condition = "not-allowed"

	// NotAuthorized indicates that the sender needs to provide credentials
	// before being allowed to perform the action, or has provided improper
	// credentials; the associated error type SHOULD be "auth".
	NotAuthorized Condition = "not-authorized"

	// PolicyViolation indicates that the entity has violated some local
	// service policy and the server MAY choose to specify the policy in the
	// <text/> element or in an application-specific condition element; the
	// associated error type SHOULD be "modify" or "wait" depending on the
	// policy being violated.
	PolicyViolation Condition = "policy-violation"

	// RecipientUnavailable indicates that the intended recipient is
	// temporarily unavailable; the associated error type SHOULD be "wait".
	RecipientUnavailable Condition = "recipient-unavailable"

	// Redirect indicates that the recipient or server is redirecting requests
	// for this information to another entity, typically in a temporary
	// fashion; the associated error type SHOULD be "modify".
	Redirect Condition = "redirect"

	// RegistrationRequired indicates that the requesting entity is not
	// authorized to access the requested service because prior registration
	// is necessary; the associated error type SHOULD be "auth".
	RegistrationRequired Condition = "registration-required"

	// RemoteServerNotFound indicates that a remote server or service
	// specified as part or all of the JID of the intended recipient does not
	// exist or cannot be resolved; the associated error type SHOULD be
	// "cancel".
	RemoteServerNotFound Condition = "remote-server-not-found"

	// RemoteServerTimeout indicates that a remote server or service specified
	// as part or all of the JID of the intended recipient (or needed to
	// fulfill a request) was resolved but communications could not be
	// established within a reasonable amount of time; the associated error
	// type SHOULD be "wait".
	RemoteServerTimeout Condition = "remote-server-timeout"

	// ResourceConstraint indicates that the server or recipient is busy or
	// lacks the system resources necessary to service the request; the
	// associated error type SHOULD be "wait".
	ResourceConstraint Condition = "resource-constraint"

	// ServiceUnavailable indicates that the server or recipient does not
	// currently provide the requested service; the associated error type
	// SHOULD be "cancel".
	ServiceUnavailable Condition = "service-unavailable"

	// SubscriptionRequired indicates that the requesting entity is not
	// authorized to access the requested service because a prior subscription
	// is necessary; the associated error type SHOULD be "auth".
	SubscriptionRequired Condition = "subscription-required"

	// UndefinedCondition indicates that the error condition is not one of
	// those defined by the other conditions in this list; any error type can
	// be associated with this condition, and it SHOULD NOT be used except in
	// conjunction with an application-specific condition.
	UndefinedCondition Condition = "undefined-condition"

	// UnexpectedRequest indicates that the recipient or server understood the
	// request but was not expecting it at this time; the associated error
	// type SHOULD be "wait" or "modify".
	UnexpectedRequest Condition = "unexpected-request"
)

// Error is an implementation of error intended to be marshalable and
// unmarshalable as XML.
type Error struct {
	XMLName   xml.Name
	By        jid.JID
	Type      ErrorType
	Condition Condition
	Text      map[string]string
}

// Error satisfies the error interface by returning the condition.
func (se Error) Error() string {
	return string(se.Condition)
}

// TokenReader satisfies the xmlstream.Marshaler interface for Error.
func (se Error) TokenReader() xml.TokenReader {
	return xmlstream.Wrap(
		xmlstream.MultiReader(
			xmlstream.Wrap(nil, xml.StartElement{
				Name: xml.Name{Space: ns.Stanza, Local: string(se.Condition)},
			}),
			se.textReader(),
		),
		se.StartElement(),
	)
}

// StartElement returns the start token of the error element including the
// type and by attributes but not the condition or text children. Most users
// should use TokenReader instead and let it assemble the whole element.
func (se Error) StartElement() xml.StartElement {
	start := xml.StartElement{
		Name: xml.Name{Local: "error"},
		Attr: []xml.Attr{},
	}
	if se.Type != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "type"}, Value: string(se.Type)})
	}
	a, err := se.By.MarshalXMLAttr(xml.Name{Local: "by"})
	if err == nil && a.Value != "" {
		start.Attr = append(start.Attr, a)
	}
	return start
}

func (se Error) textReader() xml.TokenReader {
	var text xml.TokenReader = xmlstream.ReaderFunc(func() (xml.Token, error) {
		return nil, io.EOF
	})
	for lang, data := range se.Text {
		if data == "" {
			continue
		}
		var attrs []xml.Attr
		// The xml:lang attribute is optional, don't include it if it's
		// empty.
		if lang != "" {
			attrs = []xml.Attr{{
				Name:  xml.Name{Space: ns.XML, Local: "lang"},
				Value: lang,
			}}
		}
		text = xmlstream.Wrap(
			xmlstream.Token(xml.CharData(data)),
			xml.StartElement{
				Name: xml.Name{Space: ns.Stanza, Local: "text"},
				Attr: attrs,
			},
		)
	}
	return text
}

// WriteXML satisfies the xmlstream.WriterTo interface.
// It is like MarshalXML except it writes tokens to w.
func (se Error) WriteXML(w xmlstream.TokenWriter) (n int, err error) {
	return xmlstream.Copy(w, se.TokenReader())
}

// MarshalXML satisfies the xml.Marshaler interface for Error.
func (se Error) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	_, err := se.WriteXML(e)
	return err
}

// UnmarshalXML satisfies the xml.Unmarshaler interface for Error.
func (se *Error) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	decoded := struct {
		Condition struct {
			XMLName xml.Name
		} `xml:",any"`
		Type ErrorType `xml:"type,attr"`
		By   jid.JID   `xml:"by,attr"`
		Text []struct {
			Lang string `xml:"http://www.w3.org/XML/1998/namespace lang,attr"`
			Data string `xml:",chardata"`
		} `xml:"urn:ietf:params:xml:ns:xmpp-stanzas text"`
	}{}
	if err := d.DecodeElement(&decoded, &start); err != nil {
		return err
	}
	se.Type = decoded.Type
	se.By = decoded.By
	if decoded.Condition.XMLName.Space == ns.Stanza {
		se.Condition = Condition(decoded.Condition.XMLName.Local)
	}

	for _, text := range decoded.Text {
		if text.Data == "" {
			continue
		}
		if se.Text == nil {
			se.Text = make(map[string]string)
		}
		se.Text[text.Lang] = text.Data
	}
	return nil
}
