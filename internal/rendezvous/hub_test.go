package rendezvous

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/goBeakon/internal/mesh"
)

// TestHub_PublishSubscribe tests fan-out to every subscriber of a topic
func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub()

	var first, second, other []mesh.SignalMessage
	hub.Subscribe("peers", func(m mesh.SignalMessage) { first = append(first, m) })
	hub.Subscribe("peers", func(m mesh.SignalMessage) { second = append(second, m) })
	hub.Subscribe("elsewhere", func(m mesh.SignalMessage) { other = append(other, m) })

	msg := mesh.SignalMessage{Sender: "a", Type: mesh.SignalAnnouncePresence}
	delivered := hub.Publish("peers", msg)

	assert.Equal(t, 2, delivered)
	assert.Equal(t, []mesh.SignalMessage{msg}, first)
	assert.Equal(t, []mesh.SignalMessage{msg}, second)
	assert.Empty(t, other)
}

// TestHub_Unsubscribe tests removing subscribers
func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub()

	calls := 0
	unsubscribe := hub.Subscribe("peers", func(mesh.SignalMessage) { calls++ })
	require.Equal(t, 1, hub.Subscribers("peers"))

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, hub.Subscribers("peers"))

	assert.Equal(t, 0, hub.Publish("peers", mesh.SignalMessage{Sender: "a"}))
	assert.Equal(t, 0, calls)
}

// TestHub_UnsubscribeDuringPublish tests that a subscriber removed while a
// publish is in progress does not disturb the current delivery
func TestHub_UnsubscribeDuringPublish(t *testing.T) {
	hub := NewHub()

	var order []string
	var unsubscribeB func()
	hub.Subscribe("peers", func(mesh.SignalMessage) {
		order = append(order, "a")
		unsubscribeB()
	})
	unsubscribeB = hub.Subscribe("peers", func(mesh.SignalMessage) { order = append(order, "b") })

	hub.Publish("peers", mesh.SignalMessage{Sender: "x"})
	hub.Publish("peers", mesh.SignalMessage{Sender: "x"})

	assert.Equal(t, []string{"a", "b", "a"}, order)
}

// TestLocal tests the in-process signaling client
func TestLocal(t *testing.T) {
	hub := NewHub()
	local := NewLocal(hub)
	ctx := context.Background()

	received := make(chan mesh.SignalMessage, 1)
	unsubscribe, err := local.Subscribe(ctx, "peers", func(m mesh.SignalMessage) { received <- m })
	require.NoError(t, err)
	defer unsubscribe()

	msg := mesh.SignalMessage{Sender: "a", Type: mesh.SignalDescriptor, Target: "b", Data: "offer"}
	require.NoError(t, local.Publish(ctx, "peers", msg))
	assert.Equal(t, msg, <-received)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, local.Publish(cancelled, "peers", msg), context.Canceled)
	_, err = local.Subscribe(cancelled, "peers", func(mesh.SignalMessage) {})
	assert.ErrorIs(t, err, context.Canceled)
}
