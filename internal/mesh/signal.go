package mesh

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LeJamon/goBeakon/internal/metrics"
)

// SignalRoute says how a descriptor left the node.
type SignalRoute int

const (
	// RouteRendezvous published the descriptor on the shared topic.
	RouteRendezvous SignalRoute = iota
	// RouteDirect sent it over an existing link to the target.
	RouteDirect
	// RouteRelay sent it to the elected relay peer.
	RouteRelay
)

// String returns the string representation of the route.
func (r SignalRoute) String() string {
	switch r {
	case RouteRendezvous:
		return metrics.RouteRendezvous
	case RouteDirect:
		return metrics.RouteDirect
	case RouteRelay:
		return metrics.RouteRelay
	default:
		return "unknown"
	}
}

// SignalRouter moves negotiation descriptors between peers, over direct
// links when possible and over the rendezvous topic otherwise.
type SignalRouter struct {
	self    PeerID
	members *Membership
	seen    *seenSet
	log     *zap.Logger
	metrics *metrics.Gossip

	// publish hands msg to the rendezvous channel without blocking.
	publish func(msg SignalMessage)
	// newID returns a fresh signal id.
	newID func() string
}

// NewSignalRouter creates a router.
func NewSignalRouter(self PeerID, cfg *Config, members *Membership, publish func(SignalMessage)) (*SignalRouter, error) {
	seen, err := newSeenSet(cfg.SeenCacheSize)
	if err != nil {
		return nil, err
	}
	return &SignalRouter{
		self:    self,
		members: members,
		seen:    seen,
		log:     cfg.Logger.Named("signal"),
		metrics: cfg.Metrics,
		publish: publish,
		newID:   uuid.NewString,
	}, nil
}

// Route delivers a descriptor produced by the local link to target.
func (r *SignalRouter) Route(target PeerID, descriptor string) SignalRoute {
	rs := RelaySignal{
		SignalID: r.newID(),
		Sender:   r.self,
		Target:   target,
		Signal:   descriptor,
	}
	r.seen.Add(rs.SignalID)

	route := r.route(rs)
	r.metrics.Signal(route.String())
	return route
}

func (r *SignalRouter) route(rs RelaySignal) SignalRoute {
	if l := r.members.Get(rs.Target); l != nil && l.State() == LinkConnected {
		if r.forward(l, rs) {
			return RouteDirect
		}
	}
	if relay := r.members.Relay(); relay != nil && relay.ID() != rs.Target && relay.State() == LinkConnected {
		if r.forward(relay, rs) {
			return RouteRelay
		}
	}

	r.publish(SignalMessage{
		Sender:   r.self,
		Type:     SignalDescriptor,
		Target:   rs.Target,
		Data:     rs.Signal,
		SignalID: rs.SignalID,
	})
	return RouteRendezvous
}

func (r *SignalRouter) forward(l *Link, rs RelaySignal) bool {
	data, err := EncodeFrame(Frame{Kind: FrameRelaySignal, Relay: &rs})
	if err != nil {
		return false
	}
	if err := l.send(data); err != nil {
		r.log.Debug("relay send failed", zap.String("peer", l.ID().Short()), zap.Error(err))
		return false
	}
	r.metrics.Sent(string(FrameRelaySignal))
	return true
}

// HandleRelay processes a relay-signal frame received from a link. It
// reports whether the descriptor is addressed to this node. Descriptors
// for other peers are forwarded over a link to the target when one is
// connected, and republished on the rendezvous topic otherwise.
func (r *SignalRouter) HandleRelay(rs RelaySignal, from PeerID) bool {
	if rs.Sender == r.self {
		return false
	}
	if rs.SignalID != "" && r.seen.Check(rs.SignalID) {
		r.metrics.Dropped(metrics.ReasonDuplicate)
		return false
	}
	if rs.Target == r.self {
		return true
	}

	if l := r.members.Get(rs.Target); l != nil && l.ID() != from && l.State() == LinkConnected {
		if r.forward(l, rs) {
			r.metrics.Signal(metrics.RouteForwarded)
			return false
		}
	}

	r.publish(SignalMessage{
		Sender:   rs.Sender,
		Type:     SignalRelay,
		Target:   rs.Target,
		Data:     rs.Signal,
		SignalID: rs.SignalID,
	})
	r.metrics.Signal(metrics.RouteRendezvous)
	return false
}

// Accept filters rendezvous messages. Messages from this node, messages
// targeted at another node and repeated signal ids are rejected.
func (r *SignalRouter) Accept(msg SignalMessage) bool {
	if msg.Sender == r.self || msg.Sender == "" {
		return false
	}
	if msg.Target != "" && msg.Target != r.self {
		return false
	}
	if msg.SignalID != "" && r.seen.Check(msg.SignalID) {
		return false
	}
	return true
}
