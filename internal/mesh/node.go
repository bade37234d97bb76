package mesh

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/LeJamon/goBeakon/internal/metrics"
)

// Node is one overlay peer. All membership, dedup and history state is
// owned by a single event loop; host calls and collaborator callbacks are
// posted to its queue.
type Node struct {
	cfg       Config
	id        PeerID
	identity  *Identity
	signaling Signaling
	transport Transport
	log       *zap.Logger
	metrics   *metrics.Gossip

	queue   *eventQueue
	bus     *EventBus
	members *Membership
	history *HistoryStore
	engine  *GossipEngine
	router  *SignalRouter

	connected atomic.Pointer[[]PeerID]

	timersMu sync.Mutex
	timers   map[*time.Timer]struct{}

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	running     atomic.Bool
	done        chan struct{}
	stopOnce    sync.Once
}

// New creates a node using the given rendezvous channel and link transport.
func New(signaling Signaling, transport Transport, opts ...Option) (*Node, error) {
	if signaling == nil || transport == nil {
		return nil, fmt.Errorf("%w: signaling and transport are required", ErrInvalidConfig)
	}

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
		if cfg.Debug {
			logger, err := zap.NewDevelopment()
			if err != nil {
				return nil, fmt.Errorf("failed to create logger: %w", err)
			}
			cfg.Logger = logger
		}
	}

	n := &Node{
		cfg:       cfg,
		id:        cfg.PeerID,
		signaling: signaling,
		transport: transport,
		metrics:   cfg.Metrics,
		queue:     newEventQueue(),
		bus:       NewEventBus(),
		timers:    make(map[*time.Timer]struct{}),
		done:      make(chan struct{}),
	}
	if n.id == "" {
		identity, err := NewIdentity()
		if err != nil {
			return nil, err
		}
		n.identity = identity
		n.id = identity.ID()
	}
	n.log = cfg.Logger.With(zap.String("self", n.id.Short()))
	n.cfg.Logger = n.log

	n.members = NewMembership(cfg.SoftCap, cfg.MaxPeers, cfg.Rand,
		NewReconnectPolicy(cfg.AnnounceInterval, cfg.MaxAnnounceInterval))
	n.history = NewHistoryStore(n.id, cfg.MaxHistory, cfg.ReplayDirected)

	engine, err := NewGossipEngine(n.id, &n.cfg, n.members, n.history, n.bus, n.after, n.closeLink)
	if err != nil {
		return nil, err
	}
	router, err := NewSignalRouter(n.id, &n.cfg, n.members, n.publish)
	if err != nil {
		return nil, err
	}
	engine.onRelaySignal = n.onRelaySignal
	n.engine = engine
	n.router = router

	empty := []PeerID{}
	n.connected.Store(&empty)
	n.ctx, n.cancel = context.WithCancel(context.Background())

	return n, nil
}

// ID returns the local peer id.
func (n *Node) ID() PeerID {
	return n.id
}

// Identity returns the key pair the id was derived from, or nil when the
// id was configured.
func (n *Node) Identity() *Identity {
	return n.identity
}

// Run subscribes to the rendezvous topic, announces presence and processes
// events until ctx is cancelled or Teardown is called.
func (n *Node) Run(ctx context.Context) error {
	if !n.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(n.done)
	if n.queue.isClosed() {
		return ErrNodeStopped
	}

	stop := context.AfterFunc(ctx, n.cancel)
	defer stop()
	ctx = n.ctx

	unsubscribe, err := n.signaling.Subscribe(ctx, n.cfg.Topic, n.onSignalMessage)
	if err != nil {
		n.shutdown()
		return fmt.Errorf("failed to subscribe to %s: %w", n.cfg.Topic, err)
	}
	n.unsubscribe = unsubscribe

	n.log.Info("node started", zap.String("topic", n.cfg.Topic))
	n.publish(SignalMessage{Sender: n.id, Type: SignalAnnouncePresence})
	n.members.Reconnect().Backoff(n.cfg.Clock())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.eventLoop(gctx)
	})
	g.Go(func() error {
		return n.maintenanceLoop(gctx)
	})

	err = g.Wait()
	n.shutdown()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Teardown stops the node, closing every link. It blocks until Run has
// returned and must not be called from an event handler.
func (n *Node) Teardown() error {
	n.cancel()
	if n.running.Load() {
		<-n.done
		return nil
	}
	n.stopOnce.Do(func() {
		n.queue.close()
	})
	return nil
}

// Send disseminates content. It never blocks on the network and never
// reports delivery failures.
func (n *Node) Send(content string, opts ...SendOption) {
	req := &SendRequest{Content: content}
	for _, opt := range opts {
		opt(req)
	}
	n.queue.push(Event{Type: EventSendRequested, Send: req})
}

// SendOption customizes a Send call.
type SendOption func(*SendRequest)

// To addresses the message to specific peers.
func To(ids ...PeerID) SendOption {
	return func(r *SendRequest) {
		r.To = append(r.To, ids...)
	}
}

// OfType sets the application type of the message.
func OfType(t string) SendOption {
	return func(r *SendRequest) {
		r.Type = t
	}
}

// WithMessageID sets the logical message id instead of generating one.
func WithMessageID(id string) SendOption {
	return func(r *SendRequest) {
		r.MessageID = id
	}
}

// Connections returns the connected peers in arrival order. It is safe to
// call from any goroutine.
func (n *Node) Connections() []PeerID {
	ids := *n.connected.Load()
	out := make([]PeerID, len(ids))
	copy(out, ids)
	return out
}

// OnPeer registers fn for peer events.
func (n *Node) OnPeer(fn func(PeerEvent)) Subscription {
	return n.bus.OnPeer(fn)
}

// OncePeer registers fn for the next peer event.
func (n *Node) OncePeer(fn func(PeerEvent)) Subscription {
	return n.bus.OncePeer(fn)
}

// OnData registers fn for delivered messages.
func (n *Node) OnData(fn func(Envelope)) Subscription {
	return n.bus.OnData(fn)
}

// OnceData registers fn for the next delivered message.
func (n *Node) OnceData(fn func(Envelope)) Subscription {
	return n.bus.OnceData(fn)
}

// Off removes a handler.
func (n *Node) Off(s Subscription) {
	n.bus.Off(s)
}

// History returns a copy of the history buffer. It runs on the event loop
// and must not be called from an event handler.
func (n *Node) History(ctx context.Context) ([]Envelope, error) {
	var out []Envelope
	err := n.call(ctx, func() {
		out = n.history.Entries()
	})
	return out, err
}

// Links returns a snapshot of every link, connected or pending.
func (n *Node) Links(ctx context.Context) ([]LinkInfo, error) {
	var out []LinkInfo
	err := n.call(ctx, func() {
		for _, l := range n.members.Links() {
			out = append(out, l.Info())
		}
	})
	return out, err
}

func (n *Node) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !n.queue.push(Event{Type: EventCall, fn: func() {
		fn()
		close(done)
	}}) {
		return ErrNodeStopped
	}

	select {
	case <-done:
		return nil
	case <-n.done:
		return ErrNodeStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Node) eventLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-n.queue.notify:
			for _, evt := range n.queue.drain() {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				n.handleEvent(evt)
			}
		}
	}
}

func (n *Node) maintenanceLoop(ctx context.Context) error {
	ticker := time.NewTicker(n.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n.queue.push(Event{Type: EventMaintenance})
		}
	}
}

func (n *Node) handleEvent(evt Event) {
	switch evt.Type {
	case EventSignalReceived:
		n.onSignal(*evt.Signal)
	case EventLinkSignal:
		if n.current(evt.Link) {
			n.router.Route(evt.Link.ID(), evt.Descriptor)
		}
	case EventLinkConnected:
		if n.current(evt.Link) {
			n.linkConnected(evt.Link)
		}
	case EventLinkData:
		if n.current(evt.Link) && evt.Link.State() == LinkConnected {
			n.engine.Receive(evt.Payload, evt.Link)
		}
	case EventLinkClosed:
		if n.current(evt.Link) {
			n.closeLink(evt.Link, nil)
		}
	case EventLinkError:
		if n.current(evt.Link) {
			n.log.Debug("link error", zap.String("peer", evt.Link.ID().Short()), zap.Error(evt.Error))
			n.closeLink(evt.Link, evt.Error)
		}
	case EventSendRequested:
		n.engine.Send(*evt.Send)
	case EventTimerFired, EventCall:
		evt.fn()
	case EventMaintenance:
		n.maintain()
	}
}

// current reports whether l is still the member link for its peer.
func (n *Node) current(l *Link) bool {
	return l != nil && l.State() != LinkClosed && n.members.Get(l.ID()) == l
}

func (n *Node) onSignal(msg SignalMessage) {
	if !n.router.Accept(msg) {
		return
	}

	switch msg.Type {
	case SignalAnnouncePresence:
		if l := n.members.Get(msg.Sender); l != nil {
			l.touch(n.cfg.Clock())
			n.publish(SignalMessage{Sender: n.id, Type: SignalAnnounceConnection, Target: msg.Sender})
			return
		}
		n.openLink(msg.Sender, true)
	case SignalDescriptor, SignalRelay:
		n.deliverSignal(msg.Sender, msg.Data)
	case SignalAnnounceConnection:
		if l := n.members.Get(msg.Sender); l != nil {
			l.touch(n.cfg.Clock())
		}
	default:
		n.log.Debug("dropping signal", zap.String("peer", msg.Sender.Short()),
			zap.Error(fmt.Errorf("%w: %q", ErrUnknownKind, msg.Type)))
		n.metrics.Dropped(metrics.ReasonUnknownKind)
	}
}

func (n *Node) onRelaySignal(rs RelaySignal, from *Link) {
	if n.router.HandleRelay(rs, from.ID()) {
		n.deliverSignal(rs.Sender, rs.Signal)
	}
}

// deliverSignal feeds a remote descriptor to the link for from, admitting
// a responder link when none exists.
func (n *Node) deliverSignal(from PeerID, descriptor string) {
	l := n.members.Get(from)
	if l == nil {
		if l = n.openLink(from, false); l == nil {
			return
		}
	}
	l.touch(n.cfg.Clock())
	if err := l.signal(descriptor); err != nil {
		n.log.Debug("signal rejected", zap.String("peer", from.Short()), zap.Error(err))
		n.closeLink(l, err)
	}
}

// openLink admits id and opens a transport conn for it.
func (n *Node) openLink(id PeerID, initiator bool) *Link {
	if id == n.id {
		return nil
	}
	l, ok := n.members.Admit(id, initiator, n.cfg.Clock())
	if !ok {
		if n.members.Get(id) == nil {
			n.log.Debug("admission rejected", zap.String("peer", id.Short()),
				zap.Int("links", n.members.Len()), zap.Error(ErrCapacityReached))
			n.metrics.Dropped(metrics.ReasonCapacity)
		}
		return nil
	}

	conn, err := n.transport.Open(ConnRequest{Local: n.id, Remote: id, Initiator: initiator}, &linkSink{node: n, link: l})
	if err != nil {
		n.log.Debug("failed to open link", zap.String("peer", id.Short()), zap.Error(err))
		l.close(err)
		n.members.Remove(id)
		return nil
	}
	l.conn = conn
	n.log.Debug("link opened", zap.String("peer", id.Short()), zap.Bool("initiator", initiator))
	return l
}

func (n *Node) linkConnected(l *Link) {
	if !l.connect(n.cfg.Clock()) {
		return
	}
	n.members.Connected(l)
	n.members.Reconnect().Reset(n.cfg.Clock())
	n.refreshConnections()
	n.log.Debug("peer connected", zap.String("peer", l.ID().Short()),
		zap.String("relay", n.members.relay.Current().Short()))

	n.bus.EmitPeer(PeerEvent{ID: l.ID(), Status: PeerConnected})
	if l.State() != LinkConnected {
		return
	}

	if _, err := n.history.Replay(l); err != nil {
		n.log.Debug("history replay failed", zap.String("peer", l.ID().Short()), zap.Error(err))
		n.closeLink(l, err)
		return
	}
	if err := n.history.Request(l); err != nil {
		n.log.Debug("history request failed", zap.String("peer", l.ID().Short()), zap.Error(err))
		n.closeLink(l, err)
		return
	}
	n.metrics.Sent(string(FrameHistoryRequest))
}

// closeLink moves l to Closed and removes it from membership. Only the
// first call for a link has any effect.
func (n *Node) closeLink(l *Link, err error) {
	wasConnected := l.State() == LinkConnected
	if !l.close(err) {
		return
	}
	if n.members.Get(l.ID()) == l {
		n.members.Remove(l.ID())
	}
	n.refreshConnections()
	n.log.Debug("link closed", zap.String("peer", l.ID().Short()), zap.Error(err))

	if wasConnected {
		n.bus.EmitPeer(PeerEvent{ID: l.ID(), Status: PeerDisconnected})
	}
}

func (n *Node) refreshConnections() {
	ids := n.members.ConnectedIDs()
	n.connected.Store(&ids)
	n.metrics.SetPeers(len(ids))
}

func (n *Node) maintain() {
	now := n.cfg.Clock()
	for _, l := range n.members.Stale(now.Add(-n.cfg.ConnectTimeout)) {
		n.closeLink(l, NewLinkError(l.ID(), "connect", ErrConnectTimeout))
	}

	policy := n.members.Reconnect()
	if n.members.NeedsPeers(n.cfg.MinPeers) && policy.Due(now) {
		n.log.Debug("announcing presence", zap.Int("connected", n.members.ConnectedCount()),
			zap.Duration("next", policy.Interval()))
		n.publish(SignalMessage{Sender: n.id, Type: SignalAnnouncePresence})
		policy.Backoff(now)
	}
	n.metrics.SetHistory(n.history.Len())
}

// publish sends msg on the rendezvous topic from a separate goroutine,
// retrying failures after a fixed delay.
func (n *Node) publish(msg SignalMessage) {
	n.publishAttempt(msg, 0)
}

func (n *Node) publishAttempt(msg SignalMessage, attempt int) {
	if n.ctx.Err() != nil {
		return
	}
	go func() {
		err := n.signaling.Publish(n.ctx, n.cfg.Topic, msg)
		if err == nil || n.ctx.Err() != nil {
			return
		}
		if attempt >= n.cfg.MaxSignalRetries {
			n.log.Debug("giving up on signal", zap.String("type", string(msg.Type)), zap.Error(err))
			return
		}
		n.log.Debug("signal publish failed", zap.String("type", string(msg.Type)),
			zap.Int("attempt", attempt+1), zap.Error(err))
		n.after(n.cfg.SignalRetryInterval, func() {
			n.publishAttempt(msg, attempt+1)
		})
	}()
}

// after runs fn on the event loop once d has elapsed.
func (n *Node) after(d time.Duration, fn func()) {
	var t *time.Timer
	n.timersMu.Lock()
	t = time.AfterFunc(d, func() {
		n.timersMu.Lock()
		delete(n.timers, t)
		n.timersMu.Unlock()
		n.queue.push(Event{Type: EventTimerFired, fn: fn})
	})
	n.timers[t] = struct{}{}
	n.timersMu.Unlock()
}

func (n *Node) onSignalMessage(msg SignalMessage) {
	n.queue.push(Event{Type: EventSignalReceived, Signal: &msg})
}

func (n *Node) shutdown() {
	n.stopOnce.Do(func() {
		if n.unsubscribe != nil {
			n.unsubscribe()
		}
		for _, l := range n.members.Links() {
			n.closeLink(l, ErrNodeStopped)
		}

		n.timersMu.Lock()
		for t := range n.timers {
			t.Stop()
		}
		n.timers = make(map[*time.Timer]struct{})
		n.timersMu.Unlock()

		n.queue.close()
		n.cancel()
		n.log.Info("node stopped")
	})
}

// linkSink posts the events of one conn to the node's queue.
type linkSink struct {
	node *Node
	link *Link
}

func (s *linkSink) OnSignal(descriptor string) {
	s.node.queue.push(Event{Type: EventLinkSignal, Link: s.link, Descriptor: descriptor})
}

func (s *linkSink) OnConnect() {
	s.node.queue.push(Event{Type: EventLinkConnected, Link: s.link})
}

func (s *linkSink) OnData(data []byte) {
	s.node.queue.push(Event{Type: EventLinkData, Link: s.link, Payload: data})
}

func (s *linkSink) OnClose() {
	s.node.queue.push(Event{Type: EventLinkClosed, Link: s.link})
}

func (s *linkSink) OnError(err error) {
	s.node.queue.push(Event{Type: EventLinkError, Link: s.link, Error: err})
}
