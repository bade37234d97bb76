package mesh

import (
	"sync"
	"sync/atomic"
)

// Subscription is returned by the EventBus registration methods.
type Subscription struct {
	cancel func()
}

// Cancel removes the handler. Calling it more than once is safe.
func (s Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

type subscriber[T any] struct {
	id      uint64
	fn      func(T)
	once    bool
	removed atomic.Bool
}

// topic is an ordered handler list for one event kind.
type topic[T any] struct {
	mu   sync.Mutex
	next uint64
	subs []*subscriber[T]
}

func (t *topic[T]) add(fn func(T), once bool) Subscription {
	t.mu.Lock()
	t.next++
	s := &subscriber[T]{id: t.next, fn: fn, once: once}
	t.subs = append(t.subs, s)
	t.mu.Unlock()

	return Subscription{cancel: func() { t.remove(s) }}
}

func (t *topic[T]) remove(s *subscriber[T]) {
	s.removed.Store(true)

	t.mu.Lock()
	defer t.mu.Unlock()
	for i, sub := range t.subs {
		if sub == s {
			t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
			return
		}
	}
}

// emit delivers v, in registration order, to the handlers registered when
// emit is called. Handlers removed during delivery are skipped.
func (t *topic[T]) emit(v T) {
	t.mu.Lock()
	snapshot := make([]*subscriber[T], len(t.subs))
	copy(snapshot, t.subs)
	t.mu.Unlock()

	for _, s := range snapshot {
		if s.once {
			if s.removed.Swap(true) {
				continue
			}
			t.remove(s)
		} else if s.removed.Load() {
			continue
		}
		s.fn(v)
	}
}

func (t *topic[T]) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// EventBus delivers peer and data notifications to the host. Delivery is
// synchronous on the emitting goroutine.
type EventBus struct {
	peers topic[PeerEvent]
	data  topic[Envelope]
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// OnPeer registers fn for every peer event.
func (b *EventBus) OnPeer(fn func(PeerEvent)) Subscription {
	return b.peers.add(fn, false)
}

// OncePeer registers fn for the next peer event only.
func (b *EventBus) OncePeer(fn func(PeerEvent)) Subscription {
	return b.peers.add(fn, true)
}

// OnData registers fn for every delivered envelope.
func (b *EventBus) OnData(fn func(Envelope)) Subscription {
	return b.data.add(fn, false)
}

// OnceData registers fn for the next delivered envelope only.
func (b *EventBus) OnceData(fn func(Envelope)) Subscription {
	return b.data.add(fn, true)
}

// Off removes a handler registered on the bus.
func (b *EventBus) Off(s Subscription) {
	s.Cancel()
}

// EmitPeer delivers a peer event.
func (b *EventBus) EmitPeer(evt PeerEvent) {
	b.peers.emit(evt)
}

// EmitData delivers an envelope.
func (b *EventBus) EmitData(env Envelope) {
	b.data.emit(env)
}

// Handlers returns the number of registered peer and data handlers.
func (b *EventBus) Handlers() (peers, data int) {
	return b.peers.len(), b.data.len()
}
