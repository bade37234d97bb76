// Package metrics exposes Prometheus collectors for overlay gossip traffic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "beakon"

// Drop reasons.
const (
	ReasonMalformed   = "malformed"
	ReasonDuplicate   = "duplicate"
	ReasonMisrouted   = "misrouted"
	ReasonSelf        = "self"
	ReasonUnknownKind = "unknown_kind"
	ReasonCapacity    = "capacity"
	ReasonExhausted   = "retries_exhausted"
	ReasonEmpty       = "empty"
)

// Signal routes.
const (
	RouteDirect     = "direct"
	RouteRelay      = "relay"
	RouteRendezvous = "rendezvous"
	RouteForwarded  = "forwarded"
)

// Gossip holds the collectors of one node. A nil *Gossip is valid and
// records nothing.
type Gossip struct {
	sent      *prometheus.CounterVec
	received  *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	retries   prometheus.Counter
	signals   *prometheus.CounterVec
	peers     prometheus.Gauge
	history   prometheus.Gauge
	collector []prometheus.Collector
}

// New creates the gossip collectors and registers them with reg when reg
// is not nil.
func New(reg prometheus.Registerer) *Gossip {
	g := &Gossip{
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Frames written to peer links, by frame kind.",
		}, []string{"kind"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Frames read from peer links, by frame kind.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Inbound or outbound messages dropped, by reason.",
		}, []string{"reason"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_retries_total",
			Help:      "Gossip sends rescheduled after a link failure.",
		}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Negotiation descriptors routed, by route.",
		}, []string{"route"}),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers_connected",
			Help:      "Links currently in the connected state.",
		}),
		history: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_size",
			Help:      "Envelopes held in the history buffer.",
		}),
	}
	g.collector = []prometheus.Collector{g.sent, g.received, g.dropped, g.retries, g.signals, g.peers, g.history}

	if reg != nil {
		reg.MustRegister(g.collector...)
	}
	return g
}

// Collectors returns every collector owned by g.
func (g *Gossip) Collectors() []prometheus.Collector {
	if g == nil {
		return nil
	}
	return g.collector
}

// Sent counts one outbound frame.
func (g *Gossip) Sent(kind string) {
	if g == nil {
		return
	}
	g.sent.WithLabelValues(kind).Inc()
}

// Received counts one inbound frame.
func (g *Gossip) Received(kind string) {
	if g == nil {
		return
	}
	g.received.WithLabelValues(kind).Inc()
}

// Dropped counts one dropped message.
func (g *Gossip) Dropped(reason string) {
	if g == nil {
		return
	}
	g.dropped.WithLabelValues(reason).Inc()
}

// Retry counts one rescheduled send.
func (g *Gossip) Retry() {
	if g == nil {
		return
	}
	g.retries.Inc()
}

// Signal counts one routed descriptor.
func (g *Gossip) Signal(route string) {
	if g == nil {
		return
	}
	g.signals.WithLabelValues(route).Inc()
}

// SetPeers records the connected peer count.
func (g *Gossip) SetPeers(n int) {
	if g == nil {
		return
	}
	g.peers.Set(float64(n))
}

// SetHistory records the history buffer length.
func (g *Gossip) SetHistory(n int) {
	if g == nil {
		return
	}
	g.history.Set(float64(n))
}
