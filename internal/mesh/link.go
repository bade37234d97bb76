package mesh

import (
	"time"
)

// LinkState represents the lifecycle state of a peer link.
type LinkState int

const (
	// LinkConnecting is the state from creation until negotiation completes.
	LinkConnecting LinkState = iota
	// LinkConnected means the link can carry frames.
	LinkConnected
	// LinkClosed is terminal.
	LinkClosed
)

// String returns the string representation of the state.
func (s LinkState) String() string {
	switch s {
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Link is one direct connection to a remote peer. It is owned by the
// Membership and only touched from the event loop.
type Link struct {
	id        PeerID
	initiator bool
	state     LinkState
	conn      Conn

	createdAt   time.Time
	connectedAt time.Time
	lastContact time.Time
	err         error
}

func newLink(id PeerID, initiator bool, now time.Time) *Link {
	return &Link{
		id:          id,
		initiator:   initiator,
		state:       LinkConnecting,
		createdAt:   now,
		lastContact: now,
	}
}

// ID returns the remote peer id.
func (l *Link) ID() PeerID {
	return l.id
}

// Initiator reports whether the local side opened the link.
func (l *Link) Initiator() bool {
	return l.initiator
}

// State returns the current state.
func (l *Link) State() LinkState {
	return l.state
}

// LastContact returns the time of the last frame or signal from the peer.
func (l *Link) LastContact() time.Time {
	return l.lastContact
}

// Err returns the error that closed the link, if any.
func (l *Link) Err() error {
	return l.err
}

func (l *Link) touch(now time.Time) {
	l.lastContact = now
}

// connect moves Connecting to Connected. It reports whether the
// transition happened.
func (l *Link) connect(now time.Time) bool {
	if l.state != LinkConnecting {
		return false
	}
	l.state = LinkConnected
	l.connectedAt = now
	l.lastContact = now
	return true
}

// close moves the link to Closed and releases the transport conn. It
// reports whether this call performed the transition.
func (l *Link) close(err error) bool {
	if l.state == LinkClosed {
		return false
	}
	l.state = LinkClosed
	l.err = err
	if l.conn != nil {
		_ = l.conn.Close()
	}
	return true
}

func (l *Link) signal(descriptor string) error {
	if l.state == LinkClosed {
		return NewLinkError(l.id, "signal", ErrLinkClosed)
	}
	if err := l.conn.Signal(descriptor); err != nil {
		return NewLinkError(l.id, "signal", err)
	}
	return nil
}

func (l *Link) send(data []byte) error {
	switch l.state {
	case LinkConnecting:
		return NewLinkError(l.id, "send", ErrLinkNotConnected)
	case LinkClosed:
		return NewLinkError(l.id, "send", ErrLinkClosed)
	}
	if err := l.conn.Send(data); err != nil {
		return NewLinkError(l.id, "send", err)
	}
	return nil
}

// LinkInfo is a snapshot of a link for the host.
type LinkInfo struct {
	ID          PeerID
	State       LinkState
	Initiator   bool
	ConnectedAt time.Time
	LastContact time.Time
}

// Info returns a snapshot of the link.
func (l *Link) Info() LinkInfo {
	return LinkInfo{
		ID:          l.id,
		State:       l.state,
		Initiator:   l.initiator,
		ConnectedAt: l.connectedAt,
		LastContact: l.lastContact,
	}
}
