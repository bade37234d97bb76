package mesh

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errBroken = errors.New("broken pipe")

type fakeConn struct {
	sent    [][]byte
	signals []string
	fail    error
	closes  int
}

func (c *fakeConn) Signal(d string) error {
	c.signals = append(c.signals, d)
	return nil
}

func (c *fakeConn) Send(data []byte) error {
	if c.fail != nil {
		return c.fail
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.closes++
	return nil
}

func (c *fakeConn) frames(t *testing.T) []Frame {
	t.Helper()
	frames := make([]Frame, 0, len(c.sent))
	for _, raw := range c.sent {
		f, err := DecodeFrame(raw)
		require.NoError(t, err)
		frames = append(frames, f)
	}
	return frames
}

type timerCall struct {
	delay time.Duration
	fn    func()
}

type manualScheduler struct {
	calls []timerCall
}

func (s *manualScheduler) after(d time.Duration, fn func()) {
	s.calls = append(s.calls, timerCall{delay: d, fn: fn})
}

func (s *manualScheduler) fire() {
	calls := s.calls
	s.calls = nil
	for _, c := range calls {
		c.fn()
	}
}

func testPeerID(i int) PeerID {
	return PeerID(fmt.Sprintf("%040x", i))
}

var testNow = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func testConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	cfg.Rand = rand.New(rand.NewSource(7))
	cfg.Logger = zap.NewNop()
	cfg.Clock = func() time.Time { return testNow }
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// harness wires a GossipEngine, SignalRouter and their collaborators
// without a node or event loop.
type harness struct {
	self      PeerID
	cfg       Config
	members   *Membership
	history   *HistoryStore
	bus       *EventBus
	engine    *GossipEngine
	router    *SignalRouter
	sched     *manualScheduler
	conns     map[PeerID]*fakeConn
	closed    []PeerID
	data      []Envelope
	published []SignalMessage
	delivered []RelaySignal
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		self:  testPeerID(0),
		cfg:   testConfig(opts...),
		sched: &manualScheduler{},
		conns: make(map[PeerID]*fakeConn),
	}
	h.members = NewMembership(h.cfg.SoftCap, h.cfg.MaxPeers, h.cfg.Rand,
		NewReconnectPolicy(h.cfg.AnnounceInterval, h.cfg.MaxAnnounceInterval))
	h.history = NewHistoryStore(h.self, h.cfg.MaxHistory, h.cfg.ReplayDirected)
	h.bus = NewEventBus()
	h.bus.OnData(func(env Envelope) {
		h.data = append(h.data, env)
	})

	closeLink := func(l *Link, err error) {
		if l.close(err) {
			h.members.Remove(l.ID())
			h.closed = append(h.closed, l.ID())
		}
	}

	engine, err := NewGossipEngine(h.self, &h.cfg, h.members, h.history, h.bus, h.sched.after, closeLink)
	require.NoError(t, err)
	router, err := NewSignalRouter(h.self, &h.cfg, h.members, func(msg SignalMessage) {
		h.published = append(h.published, msg)
	})
	require.NoError(t, err)
	engine.onRelaySignal = func(rs RelaySignal, from *Link) {
		if router.HandleRelay(rs, from.ID()) {
			h.delivered = append(h.delivered, rs)
		}
	}
	h.engine = engine
	h.router = router
	return h
}

// connect adds a connected link to peer i.
func (h *harness) connect(t *testing.T, i int) *fakeConn {
	t.Helper()
	id := testPeerID(i)
	l, ok := h.members.Admit(id, true, testNow)
	require.True(t, ok, "admission of %s rejected", id.Short())
	c := &fakeConn{}
	l.conn = c
	require.True(t, l.connect(testNow))
	h.members.Connected(l)
	h.conns[id] = c
	return c
}

func (h *harness) link(i int) *Link {
	return h.members.Get(testPeerID(i))
}

func (h *harness) gossipFrame(t *testing.T, env Envelope) []byte {
	t.Helper()
	data, err := EncodeFrame(Frame{Kind: FrameGossip, Envelope: &env})
	require.NoError(t, err)
	return data
}

