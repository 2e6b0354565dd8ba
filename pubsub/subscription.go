// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/arborpub/arbor/form"
	"github.com/arborpub/arbor/jid"
	"mellium.im/xmlstream"
)

// SubState is the lifecycle state of a subscription.
type SubState string

// The subscription states defined by the pubsub protocol.
const (
	SubNone         SubState = "none"
	SubPending      SubState = "pending"
	SubUnconfigured SubState = "unconfigured"
	Subscribed      SubState = "subscribed"
)

// SubType distinguishes subscriptions to published items from
// subscriptions to changes in a collection's child nodes.
type SubType string

// The defined subscription types.
const (
	SubItems SubType = "items"
	SubNodes SubType = "nodes"
)

// Form fields understood when configuring a subscription.
const (
	fieldDeliver    = "pubsub#deliver"
	fieldDigest     = "pubsub#digest"
	fieldDigestFreq = "pubsub#digest_frequency"
	fieldBody       = "pubsub#include_body"
	fieldShows      = "pubsub#show-values"
	fieldSubType    = "pubsub#subscription_type"
	fieldSubDepth   = "pubsub#subscription_depth"
	fieldKeyword    = "pubsub#keyword"
)

// Subscription records the interest of one entity in a node.
//
// Owner is always a bare JID and identifies the affiliate the subscription
// belongs to. JID is the address that was used to subscribe and is where
// event notifications are sent; it may carry a resource.
type Subscription struct {
	ID    string
	Owner jid.JID
	JID   jid.JID
	State SubState
	Type  SubType

	// Delivery preferences, set through a submitted
	// pubsub#subscribe_options form.
	Deliver     bool
	Digest      bool
	DigestFreq  int
	IncludeBody bool
	ShowValues  []string
	Keyword     string

	// Depth is the number of child levels a nodes subscription covers.
	// Zero means all descendants.
	Depth int
}

// isActive reports whether the subscription may currently receive event
// notifications.
func (s *Subscription) isActive() bool {
	return s.State == Subscribed
}

// canModify reports whether j may unsubscribe or reconfigure the
// subscription.
func (s *Subscription) canModify(j jid.JID) bool {
	return s.Owner.Equal(j.Bare()) || s.JID.Equal(j)
}

// needsPresence reports whether delivery to this subscription depends on
// the subscriber's presence show value.
func (s *Subscription) needsPresence() bool {
	return len(s.ShowValues) > 0
}

// matchesShow reports whether any of the subscriber's current show values
// is one the subscription asked for. An empty ShowValues list matches any
// online resource, while an offline subscriber (no shows at all) never
// matches.
func (s *Subscription) matchesShow(shows []string) bool {
	if len(shows) == 0 {
		return false
	}
	if len(s.ShowValues) == 0 {
		return true
	}
	for _, have := range shows {
		for _, want := range s.ShowValues {
			if have == want {
				return true
			}
		}
	}
	return false
}

// matchesKeyword reports whether the item's payload contains the
// subscription keyword. Subscriptions without a keyword match everything.
func (s *Subscription) matchesKeyword(it *Item) bool {
	if s.Keyword == "" {
		return true
	}
	return it != nil && strings.Contains(string(it.Payload), s.Keyword)
}

// applyOptions folds a submitted subscribe_options form into the
// subscription. Unknown fields are ignored.
func (s *Subscription) applyOptions(d *form.Data) {
	if d == nil {
		return
	}
	if v, ok := d.GetBool(fieldDeliver); ok {
		s.Deliver = v
	}
	if v, ok := d.GetBool(fieldDigest); ok {
		s.Digest = v
	}
	if v, ok := d.GetString(fieldDigestFreq); ok {
		if freq, err := strconv.Atoi(v); err == nil {
			s.DigestFreq = freq
		}
	}
	if v, ok := d.GetBool(fieldBody); ok {
		s.IncludeBody = v
	}
	if v, ok := d.GetStrings(fieldShows); ok {
		shows := make([]string, 0, len(v))
		for _, show := range v {
			if show != "" {
				shows = append(shows, show)
			}
		}
		s.ShowValues = shows
	}
	if v, ok := d.GetString(fieldSubType); ok {
		switch SubType(v) {
		case SubItems, SubNodes:
			s.Type = SubType(v)
		}
	}
	if v, ok := d.GetString(fieldSubDepth); ok {
		if v == "all" {
			s.Depth = 0
		} else if depth, err := strconv.Atoi(v); err == nil {
			s.Depth = depth
		}
	}
	if v, ok := d.GetString(fieldKeyword); ok {
		s.Keyword = v
	}
}

// optionsForm builds the subscribe_options form describing the
// subscription's current delivery preferences.
func (s *Subscription) optionsForm() *form.Data {
	d := &form.Data{
		Type:  form.TypeForm,
		Title: "Subscription configuration",
		Fields: []form.Field{{
			Type:   form.Hidden,
			Var:    form.FormType,
			Values: []string{FormTypeSubscribe},
		}, {
			Type:   form.Boolean,
			Var:    fieldDeliver,
			Label:  "Receive event notifications",
			Values: []string{formBool(s.Deliver)},
		}, {
			Type:   form.Boolean,
			Var:    fieldDigest,
			Label:  "Receive digests of events rather than single events",
			Values: []string{formBool(s.Digest)},
		}, {
			Type:   form.Text,
			Var:    fieldDigestFreq,
			Label:  "Milliseconds between digest deliveries",
			Values: []string{strconv.Itoa(s.DigestFreq)},
		}, {
			Type:   form.Boolean,
			Var:    fieldBody,
			Label:  "Include the item payload text in the message body",
			Values: []string{formBool(s.IncludeBody)},
		}, {
			Type:   form.ListMulti,
			Var:    fieldShows,
			Label:  "Presence show values that should receive events",
			Values: s.ShowValues,
			Options: []form.Option{
				{Value: "chat"}, {Value: "online"}, {Value: "away"},
				{Value: "xa"}, {Value: "dnd"},
			},
		}, {
			Type:   form.List,
			Var:    fieldSubType,
			Label:  "Subscription type",
			Values: []string{string(s.Type)},
			Options: []form.Option{
				{Value: string(SubItems)},
				{Value: string(SubNodes)},
			},
		}, {
			Type:   form.List,
			Var:    fieldSubDepth,
			Label:  "Subscription depth",
			Values: []string{depthString(s.Depth)},
			Options: []form.Option{
				{Value: "1"},
				{Value: "all"},
			},
		}, {
			Type:   form.Text,
			Var:    fieldKeyword,
			Label:  "Only deliver items whose payload matches this keyword",
			Values: []string{s.Keyword},
		}},
	}
	return d
}

func depthString(depth int) string {
	if depth == 0 {
		return "all"
	}
	return strconv.Itoa(depth)
}

// subscriptionElement builds the <subscription/> element used in replies
// and subscription change notifications. The node attribute is omitted for
// the root collection and the subid attribute is included only when the
// service allows multiple subscriptions per entity.
func subscriptionElement(nodeID string, sub *Subscription, withSubID bool) xml.TokenReader {
	attrs := make([]xml.Attr, 0, 4)
	if nodeID != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "node"}, Value: nodeID})
	}
	attrs = append(attrs,
		xml.Attr{Name: xml.Name{Local: "jid"}, Value: sub.JID.String()},
	)
	if withSubID {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "subid"}, Value: sub.ID})
	}
	attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "subscription"}, Value: string(sub.State)})
	return xmlstream.Wrap(nil, xml.StartElement{
		Name: xml.Name{Local: "subscription"},
		Attr: attrs,
	})
}
