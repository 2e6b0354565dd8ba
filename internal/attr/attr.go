// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package attr contains helpers for working with XML attributes and
// generating stanza identifiers.
package attr // import "github.com/arborpub/arbor/internal/attr"

import (
	"encoding/xml"
)

// Get returns the value of the first attribute with the provided local name
// from a list of attributes or an empty string if no such attribute exists.
func Get(attr []xml.Attr, local string) string {
	for _, a := range attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// Has reports whether an attribute with the provided local name exists in the
// list of attributes, distinguishing an absent attribute from an empty one.
func Has(attr []xml.Attr, local string) bool {
	for _, a := range attr {
		if a.Name.Local == local {
			return true
		}
	}
	return false
}
