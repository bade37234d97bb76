package mesh

import (
	"context"
)

//go:generate mockgen -destination=mocks/mock_collaborators.go -package=mocks github.com/LeJamon/goBeakon/internal/mesh Signaling,Transport,Conn

// SignalType is the type of a rendezvous message.
type SignalType string

// Rendezvous message types.
const (
	SignalAnnouncePresence   SignalType = "announce-presence"
	SignalDescriptor         SignalType = "signal"
	SignalRelay              SignalType = "relay-signal"
	SignalAnnounceConnection SignalType = "announce-connection"
)

// Valid reports whether t is a known signal type.
func (t SignalType) Valid() bool {
	switch t {
	case SignalAnnouncePresence, SignalDescriptor, SignalRelay, SignalAnnounceConnection:
		return true
	default:
		return false
	}
}

// SignalMessage is published on the rendezvous topic.
type SignalMessage struct {
	Sender   PeerID     `codec:"sender" json:"sender"`
	Type     SignalType `codec:"type" json:"type"`
	Target   PeerID     `codec:"target,omitempty" json:"target,omitempty"`
	Data     string     `codec:"data,omitempty" json:"data,omitempty"`
	SignalID string     `codec:"signalId,omitempty" json:"signalId,omitempty"`
}

// Signaling is the shared rendezvous publish/subscribe channel.
type Signaling interface {
	// Publish sends msg to every subscriber of topic.
	Publish(ctx context.Context, topic string, msg SignalMessage) error
	// Subscribe registers fn for messages on topic. fn must not block.
	Subscribe(ctx context.Context, topic string, fn func(SignalMessage)) (unsubscribe func(), err error)
}

// ConnRequest describes a link a Transport should open.
type ConnRequest struct {
	Local     PeerID
	Remote    PeerID
	Initiator bool
}

// LinkSink receives the events of one Conn. Methods never block.
type LinkSink interface {
	OnSignal(descriptor string)
	OnConnect()
	OnData(data []byte)
	OnClose()
	OnError(err error)
}

// Conn is one direct link provided by a Transport.
type Conn interface {
	// Signal feeds a negotiation descriptor produced by the remote side.
	Signal(descriptor string) error
	// Send writes data. It fails unless the link is connected.
	Send(data []byte) error
	Close() error
}

// Transport opens direct links to remote peers.
type Transport interface {
	Open(req ConnRequest, sink LinkSink) (Conn, error)
}
