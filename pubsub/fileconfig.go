// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/arborpub/arbor/jid"
)

var tomlParser = toml.Parser()

// fileNodeConfig mirrors NodeConfig with optional fields so that a config
// file only overrides what it names.
type fileNodeConfig struct {
	Title                 *string  `koanf:"title"`
	Description           *string  `koanf:"description"`
	Language              *string  `koanf:"language"`
	PayloadType           *string  `koanf:"payload_type"`
	DeliverPayloads       *bool    `koanf:"deliver_payloads"`
	PersistItems          *bool    `koanf:"persist_items"`
	MaxItems              *int     `koanf:"max_items"`
	MaxPayloadSize        *int     `koanf:"max_payload_size"`
	AccessModel           *string  `koanf:"access_model"`
	PublisherModel        *string  `koanf:"publisher_model"`
	Subscribe             *bool    `koanf:"subscribe"`
	SendItemSubscribe     *bool    `koanf:"send_item_subscribe"`
	PresenceBasedDelivery *bool    `koanf:"presence_based_delivery"`
	NotifyConfig          *bool    `koanf:"notify_config"`
	NotifyDelete          *bool    `koanf:"notify_delete"`
	NotifyRetract         *bool    `koanf:"notify_retract"`
	RosterGroupsAllowed   []string `koanf:"roster_groups_allowed"`
	Contacts              []string `koanf:"contacts"`
	AssociationPolicy     *string  `koanf:"association_policy"`
	AssociationWhitelist  []string `koanf:"association_whitelist"`
	MaxLeafNodes          *int     `koanf:"max_leaf_nodes"`
}

// fileConfig is the on-disk shape of a service configuration.
type fileConfig struct {
	JID                string          `koanf:"jid"`
	Admins             []string        `koanf:"admins"`
	NodeCreators       []string        `koanf:"node_creators"`
	CollectionNodes    bool            `koanf:"collection_nodes"`
	InstantNodes       bool            `koanf:"instant_nodes"`
	MultiSubscriptions bool            `koanf:"multi_subscriptions"`
	FlushInterval      time.Duration   `koanf:"flush_interval"`
	BatchSize          int             `koanf:"batch_size"`
	LeafDefaults       *fileNodeConfig `koanf:"leaf_defaults"`
	CollectionDefaults *fileNodeConfig `koanf:"collection_defaults"`
}

// LoadConfigFile reads a service configuration from a TOML file. The
// runtime handles of the returned Config, such as the router and the
// storage backend, are left for the caller to fill in.
func LoadConfigFile(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), tomlParser); err != nil {
		return Config{}, errors.Wrap(err, "loading config file")
	}
	return decodeConfig(k)
}

// ParseConfig reads a service configuration from TOML bytes.
func ParseConfig(data []byte) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), tomlParser); err != nil {
		return Config{}, errors.Wrap(err, "parsing config")
	}
	return decodeConfig(k)
}

func decodeConfig(k *koanf.Koanf) (Config, error) {
	var fc fileConfig
	if err := k.UnmarshalWithConf("", &fc, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, errors.Wrap(err, "unmarshaling config")
	}
	if fc.JID == "" {
		return Config{}, errors.New("config names no service jid")
	}
	addr, err := jid.Parse(fc.JID)
	if err != nil {
		return Config{}, errors.Wrapf(err, "parsing service jid %q", fc.JID)
	}
	admins, err := parseJIDStrings(fc.Admins, "admin")
	if err != nil {
		return Config{}, err
	}
	creators, err := parseJIDStrings(fc.NodeCreators, "node creator")
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		JID:                addr,
		Admins:             admins,
		NodeCreators:       creators,
		CollectionNodes:    fc.CollectionNodes,
		InstantNodes:       fc.InstantNodes,
		MultiSubscriptions: fc.MultiSubscriptions,
		FlushInterval:      fc.FlushInterval,
		BatchSize:          fc.BatchSize,
	}
	if fc.LeafDefaults != nil {
		leaf, err := fc.LeafDefaults.apply(DefaultLeafConfig())
		if err != nil {
			return Config{}, errors.Wrap(err, "leaf_defaults")
		}
		cfg.LeafDefaults = &leaf
	}
	if fc.CollectionDefaults != nil {
		coll, err := fc.CollectionDefaults.apply(DefaultCollectionConfig())
		if err != nil {
			return Config{}, errors.Wrap(err, "collection_defaults")
		}
		cfg.CollectionDefaults = &coll
	}
	return cfg, nil
}

func parseJIDStrings(strs []string, what string) ([]jid.JID, error) {
	out := make([]jid.JID, 0, len(strs))
	for _, s := range strs {
		j, err := jid.Parse(s)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %s jid %q", what, s)
		}
		out = append(out, j)
	}
	return out, nil
}

// apply folds the fields the file named onto a built-in default
// configuration.
func (fc *fileNodeConfig) apply(base NodeConfig) (NodeConfig, error) {
	if fc.Title != nil {
		base.Title = *fc.Title
	}
	if fc.Description != nil {
		base.Description = *fc.Description
	}
	if fc.Language != nil {
		base.Language = *fc.Language
	}
	if fc.PayloadType != nil {
		base.PayloadType = *fc.PayloadType
	}
	if fc.DeliverPayloads != nil {
		base.DeliverPayloads = *fc.DeliverPayloads
	}
	if fc.PersistItems != nil {
		base.PersistItems = *fc.PersistItems
	}
	if fc.MaxItems != nil {
		base.MaxItems = *fc.MaxItems
	}
	if fc.MaxPayloadSize != nil {
		base.MaxPayloadSize = *fc.MaxPayloadSize
	}
	if fc.AccessModel != nil {
		m, ok := parseAccessModel(*fc.AccessModel)
		if !ok {
			return base, errors.Newf("unknown access model %q", *fc.AccessModel)
		}
		base.AccessModel = m
	}
	if fc.PublisherModel != nil {
		m, ok := parsePublisherModel(*fc.PublisherModel)
		if !ok {
			return base, errors.Newf("unknown publisher model %q", *fc.PublisherModel)
		}
		base.PublisherModel = m
	}
	if fc.Subscribe != nil {
		base.Subscribe = *fc.Subscribe
	}
	if fc.SendItemSubscribe != nil {
		base.SendItemSubscribe = *fc.SendItemSubscribe
	}
	if fc.PresenceBasedDelivery != nil {
		base.PresenceBasedDelivery = *fc.PresenceBasedDelivery
	}
	if fc.NotifyConfig != nil {
		base.NotifyConfig = *fc.NotifyConfig
	}
	if fc.NotifyDelete != nil {
		base.NotifyDelete = *fc.NotifyDelete
	}
	if fc.NotifyRetract != nil {
		base.NotifyRetract = *fc.NotifyRetract
	}
	if fc.RosterGroupsAllowed != nil {
		base.RosterGroupsAllowed = fc.RosterGroupsAllowed
	}
	if fc.Contacts != nil {
		contacts, err := parseJIDStrings(fc.Contacts, "contact")
		if err != nil {
			return base, err
		}
		base.Contacts = contacts
	}
	if fc.AssociationPolicy != nil {
		p, ok := parseAssociationPolicy(*fc.AssociationPolicy)
		if !ok {
			return base, errors.Newf("unknown association policy %q", *fc.AssociationPolicy)
		}
		base.AssociationPolicy = p
	}
	if fc.AssociationWhitelist != nil {
		allowed, err := parseJIDStrings(fc.AssociationWhitelist, "association whitelist")
		if err != nil {
			return base, err
		}
		base.AssociationWhitelist = allowed
	}
	if fc.MaxLeafNodes != nil {
		base.MaxLeafNodes = *fc.MaxLeafNodes
	}
	return base, nil
}
