package mesh

import (
	"sync"
)

// EventType represents the type of an event on the node's event queue.
type EventType int

const (
	// EventSignalReceived is posted for every message arriving on the rendezvous topic.
	EventSignalReceived EventType = iota
	// EventLinkSignal is posted when a link produces a negotiation descriptor.
	EventLinkSignal
	// EventLinkConnected is posted when a link finishes negotiation.
	EventLinkConnected
	// EventLinkData is posted when a link delivers a payload.
	EventLinkData
	// EventLinkClosed is posted when the transport closes a link.
	EventLinkClosed
	// EventLinkError is posted when the transport reports a link failure.
	EventLinkError
	// EventSendRequested is posted by Node.Send.
	EventSendRequested
	// EventTimerFired is posted when a deferred retry comes due.
	EventTimerFired
	// EventMaintenance is posted by the maintenance ticker.
	EventMaintenance
	// EventCall runs a function on the event loop.
	EventCall
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventSignalReceived:
		return "signal_received"
	case EventLinkSignal:
		return "link_signal"
	case EventLinkConnected:
		return "link_connected"
	case EventLinkData:
		return "link_data"
	case EventLinkClosed:
		return "link_closed"
	case EventLinkError:
		return "link_error"
	case EventSendRequested:
		return "send_requested"
	case EventTimerFired:
		return "timer_fired"
	case EventMaintenance:
		return "maintenance"
	case EventCall:
		return "call"
	default:
		return "unknown"
	}
}

// Event is one entry of the node's ordered event queue.
type Event struct {
	Type EventType

	// Link is the link instance the event belongs to. Events carrying a
	// link that is no longer the member for its peer id are stale.
	Link *Link

	Payload    []byte
	Descriptor string
	Signal     *SignalMessage
	Send       *SendRequest
	Error      error

	fn func()
}

// PeerStatus is reported to the host in peer events.
type PeerStatus int

const (
	PeerConnected PeerStatus = iota
	PeerDisconnected
)

// String returns the string representation of the status.
func (s PeerStatus) String() string {
	switch s {
	case PeerConnected:
		return "connected"
	case PeerDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// PeerEvent notifies the host that a peer connected or disconnected.
type PeerEvent struct {
	ID     PeerID
	Status PeerStatus
}

// eventQueue is an unbounded FIFO feeding the event loop. Posting never
// blocks so handlers running on the loop can enqueue further work.
type eventQueue struct {
	mu     sync.Mutex
	items  []Event
	notify chan struct{}
	closed bool
}

func newEventQueue() *eventQueue {
	return &eventQueue{notify: make(chan struct{}, 1)}
}

// push appends evt. It reports false once the queue is closed.
func (q *eventQueue) push(evt Event) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, evt)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// drain removes and returns every queued event in order.
func (q *eventQueue) drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
}

func (q *eventQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
