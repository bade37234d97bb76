package wslink

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/LeJamon/goBeakon/internal/compression"
	"github.com/LeJamon/goBeakon/internal/mesh"
)

// conn is one websocket link. Text messages carry raw frames; binary
// messages carry LZ4-framed payloads.
type conn struct {
	t    *Transport
	req  mesh.ConnRequest
	sink mesh.LinkSink

	mu      sync.Mutex
	ws      *websocket.Conn
	dialing bool

	send      chan []byte
	closeCh   chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

func newConn(t *Transport, req mesh.ConnRequest, sink mesh.LinkSink) *conn {
	return &conn{
		t:       t,
		req:     req,
		sink:    sink,
		send:    make(chan []byte, t.cfg.SendBuffer),
		closeCh: make(chan struct{}),
	}
}

// Signal handles the remote offer by dialing its URL. When both sides
// initiated, only the side with the lower id dials.
func (c *conn) Signal(descriptor string) error {
	if c.closed.Load() {
		return ErrClosed
	}

	var offer Offer
	if err := mesh.Unmarshal([]byte(descriptor), &offer); err != nil || offer.Type != "offer" || offer.URL == "" {
		return fmt.Errorf("%w: %q", ErrBadOffer, descriptor)
	}
	if c.req.Initiator && c.req.Local > c.req.Remote {
		return nil
	}

	c.mu.Lock()
	if c.ws != nil || c.dialing {
		c.mu.Unlock()
		return nil
	}
	c.dialing = true
	c.mu.Unlock()

	go c.t.dial(c, offer)
	return nil
}

// Send queues data for the write loop.
func (c *conn) Send(data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.mu.Lock()
	attached := c.ws != nil
	c.mu.Unlock()
	if !attached {
		return ErrNotConnected
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close closes the websocket. The sink sees OnClose once.
func (c *conn) Close() error {
	c.shutdown()
	return nil
}

func (c *conn) attach(ws *websocket.Conn) {
	c.mu.Lock()
	if c.ws != nil || c.closed.Load() {
		c.mu.Unlock()
		_ = ws.Close()
		return
	}
	c.ws = ws
	c.dialing = false
	c.mu.Unlock()

	go c.readLoop()
	go c.writeLoop()
	c.sink.OnConnect()
}

func (c *conn) fail(err error) {
	if c.closed.Load() {
		return
	}
	c.sink.OnError(err)
	c.shutdown()
}

// closeSilently drops a conn replaced before it connected.
func (c *conn) closeSilently() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closeCh)
	})
}

func (c *conn) shutdown() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closeCh)
		c.t.release(c)

		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws != nil {
			_ = ws.Close()
		}
		c.sink.OnClose()
	})
}

func (c *conn) readLoop() {
	defer c.shutdown()

	ws := c.ws
	ws.SetReadLimit(c.t.cfg.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(c.t.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.t.cfg.PongWait))
	})

	for {
		kind, message, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !c.closed.Load() {
				c.t.log.Debug("link read failed", zap.String("peer", c.req.Remote.Short()), zap.Error(err))
				c.sink.OnError(err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(c.t.cfg.PongWait))

		if kind == websocket.BinaryMessage {
			message, err = compression.Unframe(message)
			if err != nil {
				c.t.log.Debug("dropping undecodable frame", zap.String("peer", c.req.Remote.Short()), zap.Error(err))
				continue
			}
		}
		c.sink.OnData(message)
	}
}

func (c *conn) writeLoop() {
	ws := c.ws
	ticker := time.NewTicker(c.t.cfg.PongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCh:
			deadline := time.Now().Add(c.t.cfg.WriteTimeout)
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(c.t.cfg.WriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.fail(err)
				return
			}
		case data := <-c.send:
			kind := websocket.TextMessage
			if c.t.cfg.Compression {
				if framed, ok := compression.Frame(data); ok {
					data, kind = framed, websocket.BinaryMessage
				}
			}
			_ = ws.SetWriteDeadline(time.Now().Add(c.t.cfg.WriteTimeout))
			if err := ws.WriteMessage(kind, data); err != nil {
				c.fail(err)
				return
			}
		}
	}
}
