package wslink

import (
	"bytes"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/goBeakon/internal/mesh"
)

type chanSink struct {
	signals  chan string
	connects chan struct{}
	data     chan []byte
	closes   chan struct{}
	errs     chan error
}

func newChanSink() *chanSink {
	return &chanSink{
		signals:  make(chan string, 8),
		connects: make(chan struct{}, 8),
		data:     make(chan []byte, 64),
		closes:   make(chan struct{}, 8),
		errs:     make(chan error, 8),
	}
}

func (s *chanSink) OnSignal(d string) { s.signals <- d }
func (s *chanSink) OnConnect()        { s.connects <- struct{}{} }
func (s *chanSink) OnData(b []byte)   { s.data <- b }
func (s *chanSink) OnClose()          { s.closes <- struct{}{} }
func (s *chanSink) OnError(err error) { s.errs <- err }

func wait[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for link event")
	}
	var zero T
	return zero
}

func newTransport(t *testing.T, compress bool) *Transport {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Compression = compress
	tr := New(cfg, nil)
	_, err := tr.Listen()
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func peerIDs(t *testing.T) (mesh.PeerID, mesh.PeerID) {
	t.Helper()
	a, err := mesh.NewIdentity()
	require.NoError(t, err)
	b, err := mesh.NewIdentity()
	require.NoError(t, err)
	return a.ID(), b.ID()
}

func connect(t *testing.T, compress bool) (mesh.Conn, *chanSink, mesh.Conn, *chanSink) {
	t.Helper()
	ta, tb := newTransport(t, compress), newTransport(t, compress)
	a, b := peerIDs(t)

	aSink, bSink := newChanSink(), newChanSink()
	aConn, err := ta.Open(mesh.ConnRequest{Local: a, Remote: b, Initiator: true}, aSink)
	require.NoError(t, err)
	offer := wait(t, aSink.signals)
	assert.Contains(t, offer, ta.AdvertiseURL())

	bConn, err := tb.Open(mesh.ConnRequest{Local: b, Remote: a}, bSink)
	require.NoError(t, err)
	require.NoError(t, bConn.Signal(offer))

	wait(t, aSink.connects)
	wait(t, bSink.connects)
	return aConn, aSink, bConn, bSink
}

// TestTransport_Connect tests negotiation and exchanging payloads
func TestTransport_Connect(t *testing.T) {
	aConn, aSink, bConn, bSink := connect(t, false)

	require.NoError(t, aConn.Send([]byte(`{"kind":"gossip"}`)))
	assert.Equal(t, []byte(`{"kind":"gossip"}`), wait(t, bSink.data))

	require.NoError(t, bConn.Send([]byte("pong")))
	assert.Equal(t, []byte("pong"), wait(t, aSink.data))
}

// TestTransport_Compression tests that large payloads survive LZ4 framing
func TestTransport_Compression(t *testing.T) {
	aConn, _, _, bSink := connect(t, true)

	payload := bytes.Repeat([]byte(`{"content":"replayed history"}`), 50)
	require.NoError(t, aConn.Send(payload))
	assert.Equal(t, payload, wait(t, bSink.data))
}

// TestTransport_Close tests that closing one side closes the other
func TestTransport_Close(t *testing.T) {
	aConn, aSink, bConn, bSink := connect(t, false)

	require.NoError(t, aConn.Close())
	wait(t, aSink.closes)
	wait(t, bSink.closes)

	assert.ErrorIs(t, aConn.Send([]byte("x")), ErrClosed)
	require.Eventually(t, func() bool {
		return bConn.Send([]byte("x")) == ErrClosed
	}, 5*time.Second, 10*time.Millisecond)
}

// TestTransport_SendBeforeConnect tests sending on a pending conn
func TestTransport_SendBeforeConnect(t *testing.T) {
	tr := newTransport(t, false)
	a, b := peerIDs(t)

	c, err := tr.Open(mesh.ConnRequest{Local: a, Remote: b, Initiator: true}, newChanSink())
	require.NoError(t, err)
	assert.ErrorIs(t, c.Send([]byte("x")), ErrNotConnected)
}

// TestTransport_BadOffer tests rejecting unparseable descriptors
func TestTransport_BadOffer(t *testing.T) {
	tr := newTransport(t, false)
	a, b := peerIDs(t)

	c, err := tr.Open(mesh.ConnRequest{Local: a, Remote: b}, newChanSink())
	require.NoError(t, err)
	assert.ErrorIs(t, c.Signal("not json"), ErrBadOffer)
	assert.ErrorIs(t, c.Signal(`{"type":"answer"}`), ErrBadOffer)
}

// TestTransport_RejectsUnknownPeer tests the listener refusing unexpected dials
func TestTransport_RejectsUnknownPeer(t *testing.T) {
	tr := newTransport(t, false)
	_, stranger := peerIDs(t)

	url := strings.Replace(tr.AdvertiseURL(), "ws://", "http://", 1) + "?peer=" + string(stranger)
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(strings.Replace(tr.AdvertiseURL(), "ws://", "http://", 1) + "?peer=zz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestTransport_Glare tests two initiators converging on one websocket
func TestTransport_Glare(t *testing.T) {
	ta, tb := newTransport(t, false), newTransport(t, false)
	a, b := peerIDs(t)

	aSink, bSink := newChanSink(), newChanSink()
	aConn, err := ta.Open(mesh.ConnRequest{Local: a, Remote: b, Initiator: true}, aSink)
	require.NoError(t, err)
	bConn, err := tb.Open(mesh.ConnRequest{Local: b, Remote: a, Initiator: true}, bSink)
	require.NoError(t, err)

	require.NoError(t, aConn.Signal(wait(t, bSink.signals)))
	require.NoError(t, bConn.Signal(wait(t, aSink.signals)))

	wait(t, aSink.connects)
	wait(t, bSink.connects)
	require.NoError(t, aConn.Send([]byte("x")))
	assert.Equal(t, []byte("x"), wait(t, bSink.data))
}
