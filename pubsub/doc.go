// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package pubsub implements the server side of the XMPP
// publish-subscribe protocol.
//
// A Service owns a forest of topic nodes and processes the stanzas a
// server delivers to the service address: IQ requests drive node,
// subscription, and item management, presence keeps the delivery
// tracker current, and messages carry subscription authorization
// answers. Replies and event notifications are emitted through the
// Router the service was constructed with; durable state is mirrored
// through a storage.Backend.
//
// The service never parses wire XML itself: callers decode the stanza
// envelope and hand the service the payload as a token stream.
package pubsub // import "github.com/arborpub/arbor/pubsub"

// Various namespaces used by this package, provided as a convenience.
const (
	NS        = `http://jabber.org/protocol/pubsub`
	NSErrors  = `http://jabber.org/protocol/pubsub#errors`
	NSEvent   = `http://jabber.org/protocol/pubsub#event`
	NSOptions = `http://jabber.org/protocol/pubsub#subscription-options`
	NSOwner   = `http://jabber.org/protocol/pubsub#owner`
)

// FORM_TYPE values for the data forms consumed and produced by the
// service.
const (
	FormTypeConfig    = NS + `#node_config`
	FormTypeSubscribe = NS + `#subscribe_options`
	FormTypeAuthorize = NS + `#subscribe_authorization`
	FormTypeMetadata  = NS + `#meta-data`
)

// NodeGetPending is the ad-hoc command node for retrieving pending
// subscription approval requests.
const NodeGetPending = NS + `#get-pending`
