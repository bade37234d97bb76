package mesh

// RelayElection rotates signaling relay duty over connected peers in
// arrival order.
type RelayElection struct {
	index   int
	current PeerID
}

// Current returns the elected relay, or "" when no peer is connected.
func (r *RelayElection) Current() PeerID {
	return r.current
}

// Advance moves the round-robin index one step over order and returns the
// newly elected peer.
func (r *RelayElection) Advance(order []PeerID) PeerID {
	if len(order) == 0 {
		r.index = 0
		r.current = ""
		return ""
	}
	r.index = (r.index + 1) % len(order)
	r.current = order[r.index]
	return r.current
}

// removed keeps the rotation position stable when the peer at pos leaves.
func (r *RelayElection) removed(pos int) {
	if pos <= r.index {
		r.index--
	}
}
