// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza_test

import (
	"encoding/xml"
	"fmt"
	"testing"
	"time"

	"github.com/arborpub/arbor/jid"
	"github.com/arborpub/arbor/stanza"
)

var delayTests = [...]struct {
	delay stanza.Delay
	xml   string
}{
	0: {
		delay: stanza.Delay{
			From:  jid.MustParse("pubsub.example.net"),
			Stamp: time.Date(2025, 2, 3, 15, 4, 5, 0, time.UTC),
		},
		xml: `<delay xmlns="urn:xmpp:delay" from="pubsub.example.net" stamp="2025-02-03T15:04:05Z"></delay>`,
	},
	1: {
		delay: stanza.Delay{
			From:   jid.MustParse("pubsub.example.net"),
			Stamp:  time.Date(2025, 2, 3, 15, 4, 5, 0, time.UTC),
			Reason: "Offline Storage",
		},
		xml: `<delay xmlns="urn:xmpp:delay" from="pubsub.example.net" stamp="2025-02-03T15:04:05Z">Offline Storage</delay>`,
	},
}

func TestDelay(t *testing.T) {
	for i, tc := range delayTests {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			b, err := xml.Marshal(tc.delay)
			if err != nil {
				t.Fatalf("error marshaling: %v", err)
			}
			if string(b) != tc.xml {
				t.Errorf("wrong output:\nwant=%s,\n got=%s", tc.xml, b)
			}

			var d stanza.Delay
			err = xml.Unmarshal([]byte(tc.xml), &d)
			if err != nil {
				t.Fatalf("error unmarshaling: %v", err)
			}
			if !d.From.Equal(tc.delay.From) {
				t.Errorf("wrong from: want=%s, got=%s", tc.delay.From, d.From)
			}
			if !d.Stamp.Equal(tc.delay.Stamp) {
				t.Errorf("wrong stamp: want=%s, got=%s", tc.delay.Stamp, d.Stamp)
			}
			if d.Reason != tc.delay.Reason {
				t.Errorf("wrong reason: want=%q, got=%q", tc.delay.Reason, d.Reason)
			}
		})
	}
}
