// Copyright 2025 The Arbor Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"sync"

	"github.com/arborpub/arbor/jid"
)

// defaultShow is recorded for available presences that do not carry an
// explicit <show/> element.
const defaultShow = "online"

// presences tracks the last known show value of every resource the
// service has seen presence from. It is keyed first by bare JID and then
// by the full JID of the resource.
type presences struct {
	mu    sync.RWMutex
	shows map[string]map[string]string
}

func newPresences() *presences {
	return &presences{shows: make(map[string]map[string]string)}
}

// setAvailable records the show value of an available resource.
func (p *presences) setAvailable(from jid.JID, show string) {
	if show == "" {
		show = defaultShow
	}
	bare := from.Bare().String()
	p.mu.Lock()
	defer p.mu.Unlock()
	byRes := p.shows[bare]
	if byRes == nil {
		byRes = make(map[string]string)
		p.shows[bare] = byRes
	}
	byRes[from.String()] = show
}

// setUnavailable forgets a resource. The bare JID entry is pruned once its
// last resource goes offline.
func (p *presences) setUnavailable(from jid.JID) {
	bare := from.Bare().String()
	p.mu.Lock()
	defer p.mu.Unlock()
	byRes := p.shows[bare]
	if byRes == nil {
		return
	}
	delete(byRes, from.String())
	if len(byRes) == 0 {
		delete(p.shows, bare)
	}
}

// showsFor returns the known show values for an address. For a bare JID it
// returns the show value of every online resource; for a full JID it
// returns at most the one value known for that resource. An offline
// address yields an empty slice.
func (p *presences) showsFor(j jid.JID) []string {
	bare := j.Bare().String()
	full := j.String()
	p.mu.RLock()
	defer p.mu.RUnlock()
	byRes := p.shows[bare]
	if len(byRes) == 0 {
		return nil
	}
	if full != bare {
		if show, ok := byRes[full]; ok {
			return []string{show}
		}
		return nil
	}
	shows := make([]string, 0, len(byRes))
	for _, show := range byRes {
		shows = append(shows, show)
	}
	return shows
}

// online reports whether any resource of the bare JID is available.
func (p *presences) online(bare jid.JID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.shows[bare.Bare().String()]) > 0
}
