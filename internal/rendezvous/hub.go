// Package rendezvous implements the shared signaling channel peers use to
// find each other: an in-process hub, a client bound directly to a hub,
// and a gRPC service exposing a hub over the network.
package rendezvous

import (
	"context"
	"sync"

	"github.com/LeJamon/goBeakon/internal/mesh"
)

type subscriber struct {
	id uint64
	fn func(mesh.SignalMessage)
}

// Hub fans out every message published on a topic to all subscribers of
// that topic, in subscription order.
type Hub struct {
	mu     sync.RWMutex
	next   uint64
	topics map[string][]*subscriber
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[string][]*subscriber)}
}

// Subscribe registers fn on topic and returns a function removing it.
func (h *Hub) Subscribe(topic string, fn func(mesh.SignalMessage)) func() {
	h.mu.Lock()
	h.next++
	sub := &subscriber{id: h.next, fn: fn}
	h.topics[topic] = append(h.topics[topic], sub)
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.remove(topic, sub.id)
		})
	}
}

func (h *Hub) remove(topic string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.topics[topic]
	for i, sub := range subs {
		if sub.id == id {
			h.topics[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(h.topics[topic]) == 0 {
		delete(h.topics, topic)
	}
}

// Publish delivers msg to the current subscribers of topic and returns how
// many received it.
func (h *Hub) Publish(topic string, msg mesh.SignalMessage) int {
	h.mu.RLock()
	subs := h.topics[topic]
	h.mu.RUnlock()

	for _, sub := range subs {
		sub.fn(msg)
	}
	return len(subs)
}

// Subscribers returns the number of subscribers on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Local is a mesh.Signaling bound directly to a Hub in the same process.
type Local struct {
	hub *Hub
}

// NewLocal returns a signaling client for hub.
func NewLocal(hub *Hub) *Local {
	return &Local{hub: hub}
}

// Publish delivers msg through the hub.
func (l *Local) Publish(ctx context.Context, topic string, msg mesh.SignalMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.hub.Publish(topic, msg)
	return nil
}

// Subscribe registers fn on the hub.
func (l *Local) Subscribe(ctx context.Context, topic string, fn func(mesh.SignalMessage)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.hub.Subscribe(topic, fn), nil
}
