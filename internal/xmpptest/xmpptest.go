// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package xmpptest provides shared test doubles for exercising the
// publish-subscribe service without a running server.
package xmpptest // import "github.com/arborpub/arbor/internal/xmpptest"

import (
	"bytes"
	"encoding/xml"
	"testing"

	"mellium.im/xmlstream"
)

// Render encodes the stream r and returns the resulting XML.
func Render(t *testing.T, r xml.TokenReader) string {
	t.Helper()
	var buf bytes.Buffer
	e := xml.NewEncoder(&buf)
	if _, err := xmlstream.Copy(e, r); err != nil {
		t.Fatalf("error encoding stream: %v", err)
	}
	if err := e.Flush(); err != nil {
		t.Fatalf("error flushing stream: %v", err)
	}
	return buf.String()
}
