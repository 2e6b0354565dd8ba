// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"strconv"

	"github.com/rs/zerolog"

	"github.com/arborpub/arbor/form"
	"github.com/arborpub/arbor/jid"
)

// Node configuration form field vars.
const (
	fieldNodeType        = "pubsub#node_type"
	fieldTitle           = "pubsub#title"
	fieldDescription     = "pubsub#description"
	fieldLanguage        = "pubsub#language"
	fieldPayloadType     = "pubsub#type"
	fieldCollection      = "pubsub#collection"
	fieldDeliverPayloads = "pubsub#deliver_payloads"
	fieldPersistItems    = "pubsub#persist_items"
	fieldMaxItems        = "pubsub#max_items"
	fieldMaxPayloadSize  = "pubsub#max_payload_size"
	fieldAccessModel     = "pubsub#access_model"
	fieldPublishModel    = "pubsub#publish_model"
	fieldSubscribe       = "pubsub#subscribe"
	fieldSendItemSub     = "pubsub#send_item_subscribe"
	fieldPresenceBased   = "pubsub#presence_based_delivery"
	fieldNotifyConfig    = "pubsub#notify_config"
	fieldNotifyDelete    = "pubsub#notify_delete"
	fieldNotifyRetract   = "pubsub#notify_retract"
	fieldRosterGroups    = "pubsub#roster_groups_allowed"
	fieldContact         = "pubsub#contact"
	fieldOwner           = "pubsub#owner"
	fieldPublisher       = "pubsub#publisher"
	fieldAssocPolicy     = "pubsub#leaf_node_association_policy"
	fieldAssocWhitelist  = "pubsub#leaf_node_association_whitelist"
	fieldMaxLeafNodes    = "pubsub#leaf_nodes_max"
)

// AssociationPolicy controls who may associate child leaf nodes with a
// collection node.
type AssociationPolicy string

// The child association policies for collection nodes.
const (
	AssociateAll       AssociationPolicy = "all"
	AssociateOwners    AssociationPolicy = "owners"
	AssociateWhitelist AssociationPolicy = "whitelist"
)

func parseAssociationPolicy(s string) (AssociationPolicy, bool) {
	switch AssociationPolicy(s) {
	case AssociateAll, AssociateOwners, AssociateWhitelist:
		return AssociationPolicy(s), true
	}
	return "", false
}

// NodeConfig is the configuration state of a single node. The item
// related fields only apply to leaf nodes and the association fields
// only to collection nodes.
type NodeConfig struct {
	Title       string
	Description string
	Language    string
	PayloadType string

	DeliverPayloads       bool
	PersistItems          bool
	MaxItems              int
	MaxPayloadSize        int
	AccessModel           AccessModel
	PublisherModel        PublisherModel
	Subscribe             bool
	SendItemSubscribe     bool
	PresenceBasedDelivery bool
	NotifyConfig          bool
	NotifyDelete          bool
	NotifyRetract         bool
	RosterGroupsAllowed   []string
	Contacts              []jid.JID

	// AssociationPolicy and friends apply to collection nodes.
	// MaxLeafNodes is unlimited when zero or negative.
	AssociationPolicy    AssociationPolicy
	AssociationWhitelist []jid.JID
	MaxLeafNodes         int
}

// DefaultLeafConfig returns the configuration applied to new leaf
// nodes when the service config does not override it.
func DefaultLeafConfig() NodeConfig {
	return NodeConfig{
		Language:        "en",
		DeliverPayloads: true,
		PersistItems:    true,
		MaxItems:        1024,
		MaxPayloadSize:  5120,
		AccessModel:     AccessOpen,
		PublisherModel:  PublishersOnly,
		Subscribe:       true,
		NotifyConfig:    true,
		NotifyDelete:    true,
		NotifyRetract:   true,
	}
}

// DefaultCollectionConfig returns the configuration applied to new
// collection nodes when the service config does not override it.
func DefaultCollectionConfig() NodeConfig {
	return NodeConfig{
		Language:          "en",
		AccessModel:       AccessOpen,
		PublisherModel:    PublishersOnly,
		Subscribe:         true,
		NotifyConfig:      true,
		NotifyDelete:      true,
		AssociationPolicy: AssociateAll,
	}
}

// itemRequired reports whether publish requests against a node with
// this configuration must carry item elements.
func (c NodeConfig) itemRequired() bool {
	return c.PersistItems || c.DeliverPayloads
}

// withForm returns a copy of the configuration updated from a
// submitted node_config form. Unknown fields and unparseable values
// are logged and skipped; absent fields keep their current value. The
// owner and publisher fields are handled separately by the node.
func (c NodeConfig) withForm(d *form.Data, leaf bool, log zerolog.Logger) NodeConfig {
	if s, ok := d.GetString(fieldTitle); ok {
		c.Title = s
	}
	if s, ok := d.GetString(fieldDescription); ok {
		c.Description = s
	}
	if s, ok := d.GetString(fieldLanguage); ok {
		c.Language = s
	}
	if s, ok := d.GetString(fieldPayloadType); ok {
		c.PayloadType = s
	}
	if b, ok := d.GetBool(fieldSubscribe); ok {
		c.Subscribe = b
	}
	if b, ok := d.GetBool(fieldPresenceBased); ok {
		c.PresenceBasedDelivery = b
	}
	if b, ok := d.GetBool(fieldNotifyConfig); ok {
		c.NotifyConfig = b
	}
	if b, ok := d.GetBool(fieldNotifyDelete); ok {
		c.NotifyDelete = b
	}
	if s, ok := d.GetString(fieldAccessModel); ok {
		if m, valid := parseAccessModel(s); valid {
			c.AccessModel = m
		} else {
			log.Warn().Str("value", s).Msg("ignoring invalid access model")
		}
	}
	if s, ok := d.GetString(fieldPublishModel); ok {
		if m, valid := parsePublisherModel(s); valid {
			c.PublisherModel = m
		} else {
			log.Warn().Str("value", s).Msg("ignoring invalid publish model")
		}
	}
	if groups, ok := d.GetStrings(fieldRosterGroups); ok {
		c.RosterGroupsAllowed = groups
	}
	if contacts, ok := d.GetStrings(fieldContact); ok {
		c.Contacts = parseJIDList(contacts, log)
	}

	if leaf {
		if b, ok := d.GetBool(fieldDeliverPayloads); ok {
			c.DeliverPayloads = b
		}
		if b, ok := d.GetBool(fieldPersistItems); ok {
			c.PersistItems = b
		}
		if b, ok := d.GetBool(fieldSendItemSub); ok {
			c.SendItemSubscribe = b
		}
		if b, ok := d.GetBool(fieldNotifyRetract); ok {
			c.NotifyRetract = b
		}
		if n, ok := parseIntField(d, fieldMaxItems, log); ok {
			c.MaxItems = n
		}
		if n, ok := parseIntField(d, fieldMaxPayloadSize, log); ok {
			c.MaxPayloadSize = n
		}
	} else {
		if s, ok := d.GetString(fieldAssocPolicy); ok {
			if p, valid := parseAssociationPolicy(s); valid {
				c.AssociationPolicy = p
			} else {
				log.Warn().Str("value", s).Msg("ignoring invalid association policy")
			}
		}
		if list, ok := d.GetStrings(fieldAssocWhitelist); ok {
			c.AssociationWhitelist = parseJIDList(list, log)
		}
		if n, ok := parseIntField(d, fieldMaxLeafNodes, log); ok {
			c.MaxLeafNodes = n
		}
	}
	return c
}

func parseIntField(d *form.Data, v string, log zerolog.Logger) (int, bool) {
	s, ok := d.GetString(v)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Warn().Str("field", v).Str("value", s).Msg("ignoring unparseable numeric field")
		return 0, false
	}
	return n, true
}

func parseJIDList(values []string, log zerolog.Logger) []jid.JID {
	out := make([]jid.JID, 0, len(values))
	for _, v := range values {
		j, err := jid.Parse(v)
		if err != nil {
			log.Warn().Str("jid", v).Msg("ignoring unparseable address")
			continue
		}
		out = append(out, j)
	}
	return out
}

func jidStrings(jids []jid.JID) []string {
	out := make([]string, 0, len(jids))
	for _, j := range jids {
		out = append(out, j.String())
	}
	return out
}

// configForm renders the configuration as a data form of the provided
// type. Owner and publisher lists are node state and are passed in by
// the node.
func (c NodeConfig) configForm(typ form.Type, leaf bool, owners, publishers []jid.JID) *form.Data {
	d := &form.Data{
		Type:  typ,
		Title: "Node configuration",
		Fields: []form.Field{
			{Type: form.Hidden, Var: form.FormType, Values: []string{FormTypeConfig}},
			{Type: form.Text, Var: fieldTitle, Label: "Node title", Values: single(c.Title)},
			{Type: form.Text, Var: fieldDescription, Label: "Description of the node", Values: single(c.Description)},
			{Type: form.Text, Var: fieldLanguage, Label: "Default language", Values: single(c.Language)},
			{Type: form.Boolean, Var: fieldSubscribe, Label: "Allow subscriptions", Values: []string{formBool(c.Subscribe)}},
			{
				Type: form.List, Var: fieldAccessModel, Label: "Who may subscribe and retrieve items",
				Values: []string{string(c.AccessModel)},
				Options: []form.Option{
					{Value: string(AccessOpen)},
					{Value: string(AccessPresence)},
					{Value: string(AccessRoster)},
					{Value: string(AccessAuthorize)},
					{Value: string(AccessWhitelist)},
				},
			},
			{
				Type: form.List, Var: fieldPublishModel, Label: "Who may publish items",
				Values: []string{string(c.PublisherModel)},
				Options: []form.Option{
					{Value: string(PublishersOnly)},
					{Value: string(SubscribersMayPublish)},
					{Value: string(OpenPublisher)},
				},
			},
			{Type: form.ListMulti, Var: fieldRosterGroups, Label: "Roster groups allowed to subscribe", Values: c.RosterGroupsAllowed},
			{Type: form.JIDMulti, Var: fieldContact, Label: "People to contact with questions", Values: jidStrings(c.Contacts)},
			{Type: form.Boolean, Var: fieldPresenceBased, Label: "Deliver notifications only to available users", Values: []string{formBool(c.PresenceBasedDelivery)}},
			{Type: form.Boolean, Var: fieldNotifyConfig, Label: "Notify subscribers when the configuration changes", Values: []string{formBool(c.NotifyConfig)}},
			{Type: form.Boolean, Var: fieldNotifyDelete, Label: "Notify subscribers when the node is deleted", Values: []string{formBool(c.NotifyDelete)}},
			{Type: form.JIDMulti, Var: fieldOwner, Label: "Node owners", Values: jidStrings(owners)},
			{Type: form.JIDMulti, Var: fieldPublisher, Label: "Node publishers", Values: jidStrings(publishers)},
		},
	}
	if leaf {
		d.Fields = append(d.Fields,
			form.Field{Type: form.Text, Var: fieldPayloadType, Label: "Payload type", Values: single(c.PayloadType)},
			form.Field{Type: form.Boolean, Var: fieldDeliverPayloads, Label: "Deliver payloads with event notifications", Values: []string{formBool(c.DeliverPayloads)}},
			form.Field{Type: form.Boolean, Var: fieldPersistItems, Label: "Persist items to storage", Values: []string{formBool(c.PersistItems)}},
			form.Field{Type: form.Text, Var: fieldMaxItems, Label: "Max number of items to persist", Values: []string{strconv.Itoa(c.MaxItems)}},
			form.Field{Type: form.Text, Var: fieldMaxPayloadSize, Label: "Max payload size in bytes", Values: []string{strconv.Itoa(c.MaxPayloadSize)}},
			form.Field{Type: form.Boolean, Var: fieldSendItemSub, Label: "Send the last published item to new subscribers", Values: []string{formBool(c.SendItemSubscribe)}},
			form.Field{Type: form.Boolean, Var: fieldNotifyRetract, Label: "Notify subscribers when items are removed", Values: []string{formBool(c.NotifyRetract)}},
		)
	} else {
		d.Fields = append(d.Fields,
			form.Field{
				Type: form.List, Var: fieldAssocPolicy, Label: "Who may associate leaf nodes",
				Values: []string{string(c.AssociationPolicy)},
				Options: []form.Option{
					{Value: string(AssociateAll)},
					{Value: string(AssociateOwners)},
					{Value: string(AssociateWhitelist)},
				},
			},
			form.Field{Type: form.JIDMulti, Var: fieldAssocWhitelist, Label: "Users allowed to associate leaf nodes", Values: jidStrings(c.AssociationWhitelist)},
			form.Field{Type: form.Text, Var: fieldMaxLeafNodes, Label: "Max number of leaf nodes", Values: []string{strconv.Itoa(c.MaxLeafNodes)}},
		)
	}
	return d
}

func formBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func single(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
