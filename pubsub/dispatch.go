// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"bytes"
	"context"
	"encoding/xml"
	"strings"

	"mellium.im/xmlstream"

	"github.com/arborpub/arbor/commands"
	"github.com/arborpub/arbor/disco"
	"github.com/arborpub/arbor/form"
	"github.com/arborpub/arbor/internal/attr"
	"github.com/arborpub/arbor/stanza"
)

// wireItem is an <item/> element in a publish, retract, or items request.
// Payload captures the serialized child elements as published.
type wireItem struct {
	ID      string
	Payload []byte
}

// UnmarshalXML re-renders the item's children into Payload. An innerxml
// field cannot serve here: the queries are decoded from token streams,
// which carry no raw input for the decoder to copy.
func (wi *wireItem) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	wi.ID = attr.Get(start.Attr, "id")
	var buf bytes.Buffer
	e := xml.NewEncoder(&buf)
	depth := 0
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			// The element's namespace is re-emitted from Name.Space;
			// keeping the decoded xmlns attributes would double it up.
			tok = dropNamespaceDecls(t)
		case xml.EndElement:
			if depth == 0 {
				if err := e.Flush(); err != nil {
					return err
				}
				wi.Payload = buf.Bytes()
				return nil
			}
			depth--
		}
		if err := e.EncodeToken(tok); err != nil {
			return err
		}
	}
}

func dropNamespaceDecls(start xml.StartElement) xml.StartElement {
	attrs := make([]xml.Attr, 0, len(start.Attr))
	for _, a := range start.Attr {
		if a.Name.Local == "xmlns" || a.Name.Space == "xmlns" {
			continue
		}
		attrs = append(attrs, a)
	}
	start.Attr = attrs
	return start
}

// wireConfigure is a <configure/> or <create/> element. Besides a full x
// form it understands the short form where the access model is an
// attribute and allowed roster groups are child elements. Type is only
// meaningful on create elements.
type wireConfigure struct {
	Node   string     `xml:"node,attr"`
	Type   string     `xml:"type,attr"`
	Access string     `xml:"access,attr"`
	Groups []string   `xml:"group"`
	Form   *form.Data `xml:"jabber:x:data x"`
}

// wireEntity is an <entity/> element in an owner entities request.
type wireEntity struct {
	JID          string `xml:"jid,attr"`
	Affiliation  string `xml:"affiliation,attr"`
	Subscription string `xml:"subscription,attr"`
	SubID        string `xml:"subid,attr"`
}

// pubsubQuery is the decoded payload of a request in the pubsub
// namespace.
type pubsubQuery struct {
	XMLName xml.Name `xml:"http://jabber.org/protocol/pubsub pubsub"`

	Publish *struct {
		Node  string     `xml:"node,attr"`
		Items []wireItem `xml:"item"`
	} `xml:"publish"`
	Subscribe *struct {
		Node string `xml:"node,attr"`
		JID  string `xml:"jid,attr"`
	} `xml:"subscribe"`
	Options *struct {
		Node  string     `xml:"node,attr"`
		JID   string     `xml:"jid,attr"`
		SubID string     `xml:"subid,attr"`
		Form  *form.Data `xml:"jabber:x:data x"`
	} `xml:"options"`
	Create      *wireConfigure `xml:"create"`
	Configure   *wireConfigure `xml:"configure"`
	Unsubscribe *struct {
		Node  string `xml:"node,attr"`
		JID   string `xml:"jid,attr"`
		SubID string `xml:"subid,attr"`
	} `xml:"unsubscribe"`
	Subscriptions *struct{} `xml:"subscriptions"`
	Affiliations  *struct{} `xml:"affiliations"`
	Items         *struct {
		Node     string     `xml:"node,attr"`
		MaxItems string     `xml:"max_items,attr"`
		SubID    string     `xml:"subid,attr"`
		Items    []wireItem `xml:"item"`
	} `xml:"items"`
	Retract *struct {
		Node  string     `xml:"node,attr"`
		Items []wireItem `xml:"item"`
	} `xml:"retract"`
}

// ownerQuery is the decoded payload of a request in the pubsub#owner
// namespace.
type ownerQuery struct {
	XMLName xml.Name `xml:"http://jabber.org/protocol/pubsub#owner pubsub"`

	Configure *wireConfigure `xml:"configure"`
	Default   *struct {
		Type string `xml:"type,attr"`
	} `xml:"default"`
	Delete *struct {
		Node string `xml:"node,attr"`
	} `xml:"delete"`
	Entities *struct {
		Node     string       `xml:"node,attr"`
		Entities []wireEntity `xml:"entity"`
	} `xml:"entities"`
	Purge *struct {
		Node string `xml:"node,attr"`
	} `xml:"purge"`
}

// nextStart advances r to the next start element.
func nextStart(r xml.TokenReader) (xml.StartElement, bool) {
	if r == nil {
		return xml.StartElement{}, false
	}
	for {
		tok, err := r.Token()
		if err != nil {
			return xml.StartElement{}, false
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start, true
		}
	}
}

// decodeElement unmarshals the element opened by start, consuming it from
// rest.
func decodeElement(v interface{}, start xml.StartElement, rest xml.TokenReader) error {
	d := xml.NewTokenDecoder(xmlstream.MultiReader(xmlstream.Token(start), rest))
	return d.Decode(v)
}

func wrapPubSub(payload xml.TokenReader) xml.TokenReader {
	return xmlstream.Wrap(payload, xml.StartElement{
		Name: xml.Name{Space: NS, Local: "pubsub"},
	})
}

func wrapOwner(payload xml.TokenReader) xml.TokenReader {
	return xmlstream.Wrap(payload, xml.StartElement{
		Name: xml.Name{Space: NSOwner, Local: "pubsub"},
	})
}

func (s *Service) sendResult(ctx context.Context, iq stanza.IQ, payload xml.TokenReader) {
	s.route(ctx, iq.Result(payload))
}

func (s *Service) sendError(ctx context.Context, iq stanza.IQ, err xmlstream.Marshaler) {
	s.route(ctx, iq.Error(err, nil))
}

func (s *Service) sendErrorEcho(ctx context.Context, iq stanza.IQ, err xmlstream.Marshaler, echo xml.TokenReader) {
	s.route(ctx, iq.Error(err, echo))
}

// ProcessIQ dispatches an IQ stanza addressed to the service. The payload
// reader is positioned before the first child of the stanza. It reports
// whether the stanza was consumed; unhandled stanzas are left to the
// caller, which normally answers service-unavailable.
func (s *Service) ProcessIQ(ctx context.Context, iq stanza.IQ, payload xml.TokenReader) bool {
	if iq.Type == stanza.ResultIQ || iq.Type == stanza.ErrorIQ {
		// Replies to notifications the service sent; nothing to do.
		return true
	}
	start, ok := nextStart(payload)
	if !ok {
		return false
	}
	switch start.Name.Space {
	case NS:
		var q pubsubQuery
		if err := decodeElement(&q, start, payload); err != nil {
			s.sendError(ctx, iq, errBadRequest)
			return true
		}
		s.processClient(ctx, iq, &q)
		return true
	case NSOwner:
		var q ownerQuery
		if err := decodeElement(&q, start, payload); err != nil {
			s.sendError(ctx, iq, errBadRequest)
			return true
		}
		s.processOwner(ctx, iq, &q)
		return true
	case commands.NS:
		reply, err := s.commands.Run(ctx, iq, xmlstream.MultiReader(xmlstream.Token(start), payload))
		if err != nil {
			s.log.Error().Err(err).Msg("running ad-hoc command")
			return true
		}
		s.route(ctx, reply)
		return true
	case disco.NSInfo:
		var q disco.InfoQuery
		if err := decodeElement(&q, start, payload); err != nil {
			s.sendError(ctx, iq, errBadRequest)
			return true
		}
		s.discoInfo(ctx, iq, q)
		return true
	case disco.NSItems:
		var q disco.ItemsQuery
		if err := decodeElement(&q, start, payload); err != nil {
			s.sendError(ctx, iq, errBadRequest)
			return true
		}
		s.discoItems(ctx, iq, q)
		return true
	}
	return false
}

func (s *Service) processClient(ctx context.Context, iq stanza.IQ, q *pubsubQuery) {
	switch iq.Type {
	case stanza.SetIQ:
		switch {
		case q.Publish != nil:
			s.handlePublish(ctx, iq, q)
		case q.Subscribe != nil:
			s.handleSubscribe(ctx, iq, q)
		case q.Options != nil:
			s.handleOptionsSet(ctx, iq, q)
		case q.Create != nil:
			s.handleCreate(ctx, iq, q)
		case q.Unsubscribe != nil:
			s.handleUnsubscribe(ctx, iq, q)
		case q.Retract != nil:
			s.handleRetract(ctx, iq, q)
		default:
			s.sendError(ctx, iq, errBadRequest)
		}
	case stanza.GetIQ:
		switch {
		case q.Subscriptions != nil:
			s.handleSubscriptions(ctx, iq)
		case q.Affiliations != nil:
			s.handleAffiliations(ctx, iq)
		case q.Items != nil:
			s.handleItems(ctx, iq, q)
		case q.Options != nil:
			s.handleOptionsGet(ctx, iq, q)
		default:
			s.sendError(ctx, iq, errBadRequest)
		}
	default:
		s.sendError(ctx, iq, errBadRequest)
	}
}

func (s *Service) processOwner(ctx context.Context, iq stanza.IQ, q *ownerQuery) {
	switch iq.Type {
	case stanza.SetIQ:
		switch {
		case q.Configure != nil:
			s.handleConfigureSet(ctx, iq, q.Configure)
		case q.Delete != nil:
			s.handleDelete(ctx, iq, q.Delete.Node)
		case q.Entities != nil:
			s.handleEntitiesModify(ctx, iq, q.Entities.Node, q.Entities.Entities)
		case q.Purge != nil:
			s.handlePurge(ctx, iq, q.Purge.Node)
		default:
			s.sendError(ctx, iq, errBadRequest)
		}
	case stanza.GetIQ:
		switch {
		case q.Configure != nil:
			s.handleConfigureGet(ctx, iq, q.Configure)
		case q.Default != nil:
			s.handleDefault(ctx, iq, q.Default.Type)
		case q.Entities != nil:
			s.handleEntitiesGet(ctx, iq, q.Entities.Node)
		default:
			s.sendError(ctx, iq, errBadRequest)
		}
	default:
		s.sendError(ctx, iq, errBadRequest)
	}
}

// sentConfigForm extracts the configuration form submitted in a configure
// or create element. When only the short form was used, an equivalent
// form is synthesized; short form values never override fields of an
// included x form.
func (s *Service) sentConfigForm(cfg *wireConfigure) *form.Data {
	if cfg == nil {
		return nil
	}
	d := cfg.Form
	ensure := func() {
		if d == nil {
			d = &form.Data{Type: form.TypeSubmit, Fields: []form.Field{
				{Type: form.Hidden, Var: form.FormType, Values: []string{FormTypeConfig}},
			}}
		}
	}
	if cfg.Access != "" {
		ensure()
		if _, ok := d.Get(fieldAccessModel); !ok {
			d.Set(form.List, fieldAccessModel, cfg.Access)
		} else {
			s.log.Debug().Str("access", cfg.Access).
				Msg("access attribute shadowed by submitted form field")
		}
	}
	if len(cfg.Groups) > 0 {
		ensure()
		if _, ok := d.Get(fieldRosterGroups); !ok {
			d.Set(form.ListMulti, fieldRosterGroups, cfg.Groups...)
		}
	}
	return d
}

// ProcessMessage handles messages addressed to the service: subscription
// authorization answers from node owners, and error bounces that cancel
// every subscription held by the origin address.
func (s *Service) ProcessMessage(ctx context.Context, msg stanza.Message, payload xml.TokenReader) bool {
	if msg.Type == stanza.ErrorMessage {
		// Only cancel errors mean the server gave up delivering to this
		// address; auth errors may clear up and are left alone.
		for {
			start, ok := nextStart(payload)
			if !ok {
				return true
			}
			if start.Name.Local != "error" {
				var skip struct{}
				if err := decodeElement(&skip, start, payload); err != nil {
					return true
				}
				continue
			}
			if stanza.ErrorType(attr.Get(start.Attr, "type")) == stanza.Cancel {
				s.cancelAllSubscriptions(ctx, msg.From)
			}
			return true
		}
	}
	// An absent type attribute means normal.
	if msg.Type != stanza.NormalMessage && msg.Type != "" {
		return false
	}
	for {
		start, ok := nextStart(payload)
		if !ok {
			return false
		}
		if start.Name.Space != form.NS || start.Name.Local != "x" {
			var skip struct{}
			if err := decodeElement(&skip, start, payload); err != nil {
				return false
			}
			continue
		}
		var d form.Data
		if err := decodeElement(&d, start, payload); err != nil {
			return false
		}
		if ft, _ := d.GetString(form.FormType); ft != FormTypeAuthorize {
			continue
		}
		switch d.Type {
		case form.TypeSubmit:
			s.handleAuthorizationAnswer(ctx, msg, &d)
		case form.TypeCancel:
			// The owner decided not to answer; the subscription stays
			// pending.
		default:
			continue
		}
		return true
	}
}

// ProcessPresence tracks the availability and show value of entities the
// service exchanges presence with.
func (s *Service) ProcessPresence(ctx context.Context, p stanza.Presence, payload xml.TokenReader) bool {
	switch p.Type {
	case stanza.AvailablePresence:
		var show string
		for {
			start, ok := nextStart(payload)
			if !ok {
				break
			}
			if start.Name.Local == "show" {
				var v struct {
					Value string `xml:",chardata"`
				}
				if err := decodeElement(&v, start, payload); err == nil {
					show = strings.TrimSpace(v.Value)
				}
				continue
			}
			var skip struct{}
			if err := decodeElement(&skip, start, payload); err != nil {
				break
			}
		}
		s.presence.setAvailable(p.From, show)
		return true
	case stanza.UnavailablePresence:
		s.presence.setUnavailable(p.From)
		return true
	}
	return false
}
