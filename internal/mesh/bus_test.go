package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBus_Order(t *testing.T) {
	b := NewEventBus()
	var calls []string
	b.OnData(func(Envelope) { calls = append(calls, "first") })
	b.OnData(func(Envelope) { calls = append(calls, "second") })

	b.EmitData(Envelope{MessageID: "m1"})
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestEventBus_Once(t *testing.T) {
	b := NewEventBus()
	var got []PeerEvent
	b.OncePeer(func(evt PeerEvent) { got = append(got, evt) })

	b.EmitPeer(PeerEvent{ID: testPeerID(1), Status: PeerConnected})
	b.EmitPeer(PeerEvent{ID: testPeerID(2), Status: PeerConnected})

	assert.Equal(t, []PeerEvent{{ID: testPeerID(1), Status: PeerConnected}}, got)
	peers, _ := b.Handlers()
	assert.Equal(t, 0, peers)
}

func TestEventBus_OnceDataReentrant(t *testing.T) {
	b := NewEventBus()
	calls := 0
	b.OnceData(func(Envelope) {
		calls++
		b.EmitData(Envelope{MessageID: "nested"})
	})

	b.EmitData(Envelope{MessageID: "m1"})
	assert.Equal(t, 1, calls)
}

func TestEventBus_Off(t *testing.T) {
	b := NewEventBus()
	calls := 0
	sub := b.OnPeer(func(PeerEvent) { calls++ })

	b.EmitPeer(PeerEvent{ID: testPeerID(1)})
	b.Off(sub)
	b.Off(sub)
	b.EmitPeer(PeerEvent{ID: testPeerID(1)})

	assert.Equal(t, 1, calls)
}

func TestEventBus_RemoveDuringEmit(t *testing.T) {
	b := NewEventBus()
	var second Subscription
	calls := 0
	b.OnData(func(Envelope) { b.Off(second) })
	second = b.OnData(func(Envelope) { calls++ })

	b.EmitData(Envelope{})
	assert.Equal(t, 0, calls, "a handler removed by an earlier handler is skipped")

	_, data := b.Handlers()
	assert.Equal(t, 1, data)
}

func TestPeerStatus_String(t *testing.T) {
	assert.Equal(t, "connected", PeerConnected.String())
	assert.Equal(t, "disconnected", PeerDisconnected.String())
}
