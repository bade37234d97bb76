package mesh

import (
	"math/rand"
	"time"
)

// Membership tracks the links of a node, enforces the randomized
// admission threshold and owns relay election and the reconnect policy.
type Membership struct {
	softCap  int
	maxPeers int
	rng      *rand.Rand

	links map[PeerID]*Link
	// order lists connected peers in arrival order.
	order []PeerID

	relay     RelayElection
	reconnect *ReconnectPolicy
}

// NewMembership creates an empty membership.
func NewMembership(softCap, maxPeers int, rng *rand.Rand, reconnect *ReconnectPolicy) *Membership {
	return &Membership{
		softCap:   softCap,
		maxPeers:  maxPeers,
		rng:       rng,
		links:     make(map[PeerID]*Link),
		reconnect: reconnect,
	}
}

// threshold draws a fresh admission threshold in [softCap, max(softCap, maxPeers)].
func (m *Membership) threshold() int {
	hi := max(m.softCap, m.maxPeers)
	return m.softCap + m.rng.Intn(hi-m.softCap+1)
}

// Admit creates a Connecting link to id. It returns false when a link to
// id already exists or when the connected-or-pending count reaches a
// threshold drawn for this call.
func (m *Membership) Admit(id PeerID, initiator bool, now time.Time) (*Link, bool) {
	if _, ok := m.links[id]; ok {
		return nil, false
	}
	if len(m.links) >= m.threshold() {
		return nil, false
	}
	l := newLink(id, initiator, now)
	m.links[id] = l
	return l, true
}

// Connected records that l reached the connected state and re-elects the relay.
func (m *Membership) Connected(l *Link) {
	if m.links[l.id] != l {
		return
	}
	m.order = append(m.order, l.id)
	m.relay.Advance(m.order)
}

// Remove drops the link to id and re-elects the relay. It reports whether
// a link was removed.
func (m *Membership) Remove(id PeerID) bool {
	if _, ok := m.links[id]; !ok {
		return false
	}
	delete(m.links, id)

	for i, peer := range m.order {
		if peer == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			m.relay.removed(i)
			m.relay.Advance(m.order)
			break
		}
	}
	return true
}

// Get returns the link to id, or nil.
func (m *Membership) Get(id PeerID) *Link {
	return m.links[id]
}

// ConnectedLinks returns the connected links in arrival order.
func (m *Membership) ConnectedLinks() []*Link {
	links := make([]*Link, 0, len(m.order))
	for _, id := range m.order {
		links = append(links, m.links[id])
	}
	return links
}

// ConnectedIDs returns the connected peer ids in arrival order.
func (m *Membership) ConnectedIDs() []PeerID {
	ids := make([]PeerID, len(m.order))
	copy(ids, m.order)
	return ids
}

// ConnectedCount returns the number of connected links.
func (m *Membership) ConnectedCount() int {
	return len(m.order)
}

// Len returns the number of connected or pending links.
func (m *Membership) Len() int {
	return len(m.links)
}

// Links returns every link, connected or pending.
func (m *Membership) Links() []*Link {
	links := make([]*Link, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	return links
}

// Relay returns the elected relay link, or nil.
func (m *Membership) Relay() *Link {
	if m.relay.Current() == "" {
		return nil
	}
	return m.links[m.relay.Current()]
}

// Stale returns the links that have been connecting since before deadline.
func (m *Membership) Stale(deadline time.Time) []*Link {
	var stale []*Link
	for _, l := range m.links {
		if l.state == LinkConnecting && l.createdAt.Before(deadline) {
			stale = append(stale, l)
		}
	}
	return stale
}

// NeedsPeers reports whether the node should look for more peers.
func (m *Membership) NeedsPeers(minPeers int) bool {
	return len(m.order) < max(1, minPeers)
}

// Reconnect returns the presence re-announce policy.
func (m *Membership) Reconnect() *ReconnectPolicy {
	return m.reconnect
}
