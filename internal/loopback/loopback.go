// Package loopback provides an in-memory link transport. Every node of a
// simulated mesh opens its links on one shared Network.
package loopback

import (
	"errors"
	"sync"

	"github.com/LeJamon/goBeakon/internal/mesh"
)

// OfferDescriptor is the descriptor an initiating conn emits.
const OfferDescriptor = "loopback-offer"

var (
	// ErrNotConnected is returned by Send before the conn is paired.
	ErrNotConnected = errors.New("loopback: not connected")
	// ErrClosed is returned after the conn is closed.
	ErrClosed = errors.New("loopback: closed")
	// ErrCut is returned by Send on a conn cut with Network.Cut.
	ErrCut = errors.New("loopback: link cut")
)

type pair struct {
	local, remote mesh.PeerID
}

// Network pairs conns opened by different nodes. A responder conn that
// receives an offer is paired with the remote side's unpaired conn.
type Network struct {
	mu      sync.Mutex
	pending map[pair]*conn
	open    map[pair]*conn
	cut     map[pair]bool
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{
		pending: make(map[pair]*conn),
		open:    make(map[pair]*conn),
		cut:     make(map[pair]bool),
	}
}

// Open implements mesh.Transport.
func (n *Network) Open(req mesh.ConnRequest, sink mesh.LinkSink) (mesh.Conn, error) {
	c := &conn{
		net:  n,
		key:  pair{local: req.Local, remote: req.Remote},
		sink: sink,
	}

	n.mu.Lock()
	if old := n.pending[c.key]; old != nil {
		old.closed = true
	}
	n.pending[c.key] = c
	n.mu.Unlock()

	if req.Initiator {
		sink.OnSignal(OfferDescriptor)
	}
	return c, nil
}

// Cut makes sends from local to remote fail until the link is replaced.
func (n *Network) Cut(local, remote mesh.PeerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cut[pair{local: local, remote: remote}] = true
}

// Disconnect closes the open link between a and b, if any.
func (n *Network) Disconnect(a, b mesh.PeerID) {
	n.mu.Lock()
	c := n.open[pair{local: a, remote: b}]
	n.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

// Links returns the number of open conns.
func (n *Network) Links() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.open)
}

type conn struct {
	net  *Network
	key  pair
	sink mesh.LinkSink

	// guarded by net.mu
	peer   *conn
	closed bool
}

// Signal pairs the conn with the remote side's pending conn.
func (c *conn) Signal(descriptor string) error {
	n := c.net
	n.mu.Lock()
	if c.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	if c.peer != nil {
		n.mu.Unlock()
		return nil
	}
	back := pair{local: c.key.remote, remote: c.key.local}
	other := n.pending[back]
	if other == nil || other.closed {
		n.mu.Unlock()
		return nil
	}

	delete(n.pending, c.key)
	delete(n.pending, back)
	delete(n.cut, c.key)
	delete(n.cut, back)
	c.peer = other
	other.peer = c
	n.open[c.key] = c
	n.open[back] = other
	n.mu.Unlock()

	c.sink.OnConnect()
	other.sink.OnConnect()
	return nil
}

// Send delivers a copy of data to the paired conn.
func (c *conn) Send(data []byte) error {
	n := c.net
	n.mu.Lock()
	switch {
	case c.closed:
		n.mu.Unlock()
		return ErrClosed
	case c.peer == nil:
		n.mu.Unlock()
		return ErrNotConnected
	case n.cut[c.key]:
		n.mu.Unlock()
		return ErrCut
	}
	peer := c.peer
	n.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	peer.sink.OnData(buf)
	return nil
}

// Close closes both ends.
func (c *conn) Close() error {
	n := c.net
	n.mu.Lock()
	if c.closed {
		n.mu.Unlock()
		return nil
	}
	c.closed = true
	if n.pending[c.key] == c {
		delete(n.pending, c.key)
	}
	if n.open[c.key] == c {
		delete(n.open, c.key)
	}

	peer := c.peer
	notifyPeer := peer != nil && !peer.closed
	if notifyPeer {
		peer.closed = true
		if n.open[peer.key] == peer {
			delete(n.open, peer.key)
		}
	}
	n.mu.Unlock()

	c.sink.OnClose()
	if notifyPeer {
		peer.sink.OnClose()
	}
	return nil
}
