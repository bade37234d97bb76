package mesh

import (
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/LeJamon/goBeakon/internal/metrics"
)

// SendRequest describes one logical send.
type SendRequest struct {
	Content string
	To      []PeerID
	Type    string

	// MessageID and GossipID are generated when empty.
	MessageID string
	GossipID  string
}

// outbound is a send in flight, carried across retries.
type outbound struct {
	env Envelope
	// via is the peer the envelope was received from, excluded from selection.
	via     PeerID
	attempt int
}

// GossipEngine builds, deduplicates, fans out and relays envelopes.
type GossipEngine struct {
	self    PeerID
	cfg     *Config
	members *Membership
	history *HistoryStore
	bus     *EventBus
	rng     *rand.Rand
	log     *zap.Logger
	metrics *metrics.Gossip

	seenGossip   *seenSet
	seenMessages *seenSet

	// after runs fn on the event loop once d has elapsed.
	after func(d time.Duration, fn func())
	// closeLink moves a failed link to Closed and removes it from membership.
	closeLink func(l *Link, err error)
	// onRelaySignal handles relay-signal frames.
	onRelaySignal func(rs RelaySignal, from *Link)
}

// NewGossipEngine creates an engine. The scheduling and link-closing
// hooks are supplied by the node.
func NewGossipEngine(self PeerID, cfg *Config, members *Membership, history *HistoryStore, bus *EventBus,
	after func(time.Duration, func()), closeLink func(*Link, error)) (*GossipEngine, error) {
	seenGossip, err := newSeenSet(cfg.SeenCacheSize)
	if err != nil {
		return nil, err
	}
	seenMessages, err := newSeenSet(cfg.SeenCacheSize)
	if err != nil {
		return nil, err
	}

	return &GossipEngine{
		self:         self,
		cfg:          cfg,
		members:      members,
		history:      history,
		bus:          bus,
		rng:          cfg.Rand,
		log:          cfg.Logger.Named("gossip"),
		metrics:      cfg.Metrics,
		seenGossip:   seenGossip,
		seenMessages: seenMessages,
		after:        after,
		closeLink:    closeLink,
	}, nil
}

// Send originates a message. Empty content and repeated gossip ids are
// ignored. The envelope is delivered locally once and stored before it is
// transmitted.
func (e *GossipEngine) Send(req SendRequest) {
	if req.Content == "" {
		e.log.Debug("dropping send", zap.Error(ErrEmptyContent))
		e.metrics.Dropped(metrics.ReasonEmpty)
		return
	}

	env := Envelope{
		MessageID:  req.MessageID,
		GossipID:   req.GossipID,
		SenderID:   e.self,
		GossiperID: e.self,
		Date:       e.cfg.Clock().UnixMilli(),
		To:         req.To,
		Type:       req.Type,
		Content:    req.Content,
	}
	if env.GossipID == "" {
		env.GossipID = newRandomID()
	}
	if env.MessageID == "" {
		env.MessageID = newRandomID()
	}
	if e.seenGossip.Contains(env.GossipID) {
		return
	}

	if !e.seenMessages.Check(env.MessageID) {
		e.remember(env)
		e.bus.EmitData(env)
	}

	e.dispatch(&outbound{env: env})
}

// dispatch transmits out to a fresh peer selection. A link that fails is
// closed and the whole send is retried later with a new selection.
func (e *GossipEngine) dispatch(out *outbound) {
	if out.attempt == 0 {
		if e.seenGossip.Check(out.env.GossipID) {
			return
		}
	} else {
		e.seenGossip.Add(out.env.GossipID)
	}

	targets := e.SelectPeers(&out.env, out.via)
	if len(targets) == 0 {
		return
	}

	data, err := EncodeFrame(Frame{Kind: FrameGossip, Envelope: &out.env})
	if err != nil {
		e.log.Debug("failed to encode envelope", zap.String("message", out.env.MessageID), zap.Error(err))
		return
	}

	failed := false
	for _, l := range targets {
		if err := l.send(data); err != nil {
			e.log.Debug("send failed", zap.String("peer", l.ID().Short()), zap.Error(err))
			e.closeLink(l, err)
			failed = true
			continue
		}
		e.metrics.Sent(string(FrameGossip))
	}

	if failed {
		e.retry(out)
	}
}

func (e *GossipEngine) retry(out *outbound) {
	if out.attempt >= e.cfg.MaxRetries {
		e.log.Debug("send retries exhausted",
			zap.String("message", out.env.MessageID),
			zap.Int("attempts", out.attempt+1))
		e.metrics.Dropped(metrics.ReasonExhausted)
		return
	}

	next := *out
	next.attempt++
	e.metrics.Retry()
	e.after(e.cfg.retryDelay(out.attempt), func() {
		e.dispatch(&next)
	})
}

// SelectPeers picks the links an envelope is sent to. Directed envelopes
// go to every connected target and are never sampled. Broadcasts exclude
// the sender and the peer the envelope came from, padding included. Small meshes are flooded, larger ones sampled
// with a fanout ratio drawn per call, and broadcasts are padded up to
// MinPeers.
func (e *GossipEngine) SelectPeers(env *Envelope, via PeerID) []*Link {
	connected := e.members.ConnectedLinks()

	candidates := make([]*Link, 0, len(connected))
	for _, l := range connected {
		id := l.ID()
		if id == e.self || id == env.SenderID {
			continue
		}
		if env.Directed() {
			if !env.AddressedTo(id) {
				continue
			}
		} else if id == via || id == env.GossiperID {
			continue
		}
		candidates = append(candidates, l)
	}

	selected := candidates
	if !env.Directed() && len(connected) > e.cfg.FloodThreshold {
		ratio := e.cfg.MinFanout + e.rng.Float64()*(e.cfg.MaxFanout-e.cfg.MinFanout)
		count := int(math.Ceil(float64(len(candidates)) * ratio))
		e.rng.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
		selected = candidates[:count]
	}

	if env.Directed() || len(selected) >= e.cfg.MinPeers {
		return selected
	}

	chosen := make(map[PeerID]struct{}, len(selected))
	for _, l := range selected {
		chosen[l.ID()] = struct{}{}
	}
	var spare []*Link
	for _, l := range connected {
		id := l.ID()
		if _, ok := chosen[id]; ok {
			continue
		}
		if id == e.self || id == env.SenderID || id == via || id == env.GossiperID {
			continue
		}
		spare = append(spare, l)
	}
	e.rng.Shuffle(len(spare), func(i, j int) {
		spare[i], spare[j] = spare[j], spare[i]
	})

	padded := make([]*Link, len(selected), e.cfg.MinPeers)
	copy(padded, selected)
	for _, l := range spare {
		if len(padded) >= e.cfg.MinPeers {
			break
		}
		padded = append(padded, l)
	}
	return padded
}

// Receive handles one payload read from a link. Malformed payloads and
// unknown frame kinds are logged and dropped.
func (e *GossipEngine) Receive(raw []byte, from *Link) {
	frame, err := DecodeFrame(raw)
	if err != nil {
		reason := metrics.ReasonMalformed
		if isUnknownKind(err) {
			reason = metrics.ReasonUnknownKind
		}
		e.log.Debug("dropping frame", zap.String("peer", from.ID().Short()), zap.Error(err))
		e.metrics.Dropped(reason)
		return
	}
	e.metrics.Received(string(frame.Kind))
	from.touch(e.cfg.Clock())

	switch frame.Kind {
	case FrameGossip:
		e.receiveEnvelope(*frame.Envelope, from)
	case FrameHistoryResponse:
		for _, env := range frame.Envelopes {
			e.receiveEnvelope(env, from)
		}
	case FrameHistoryRequest:
		n, err := e.history.Answer(from, frame.Known)
		if err != nil {
			e.log.Debug("history answer failed", zap.String("peer", from.ID().Short()), zap.Error(err))
			e.closeLink(from, err)
			return
		}
		if n > 0 {
			e.metrics.Sent(string(FrameHistoryResponse))
		}
	case FrameRelaySignal:
		if e.onRelaySignal != nil {
			e.onRelaySignal(*frame.Relay, from)
		}
	}
}

func (e *GossipEngine) receiveEnvelope(env Envelope, from *Link) {
	if env.MessageID == "" {
		e.metrics.Dropped(metrics.ReasonMalformed)
		return
	}
	if env.Directed() && !env.AddressedTo(e.self) {
		e.log.Debug("dropping misrouted message",
			zap.String("message", env.MessageID),
			zap.String("peer", from.ID().Short()))
		e.metrics.Dropped(metrics.ReasonMisrouted)
		return
	}
	if env.SenderID == e.self {
		e.metrics.Dropped(metrics.ReasonSelf)
		return
	}
	if e.seenMessages.Check(env.MessageID) {
		e.metrics.Dropped(metrics.ReasonDuplicate)
		return
	}

	e.remember(env)
	e.bus.EmitData(env)

	if env.Directed() {
		return
	}

	relayed := env
	relayed.GossiperID = e.self
	e.dispatch(&outbound{env: relayed, via: env.GossiperID})
}

func (e *GossipEngine) remember(env Envelope) {
	e.history.Add(env)
	e.metrics.SetHistory(e.history.Len())
}
