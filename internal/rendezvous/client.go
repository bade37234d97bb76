package rendezvous

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/LeJamon/goBeakon/internal/mesh"
)

// Client is a mesh.Signaling over one rendezvous gRPC stream.
type Client struct {
	conn   *grpc.ClientConn
	stream grpc.ClientStream
	log    *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}

	sendMu sync.Mutex

	mu       sync.RWMutex
	next     uint64
	handlers map[string]map[uint64]func(mesh.SignalMessage)
}

// Dial connects to the rendezvous server at target.
func Dial(target string, log *zap.Logger, opts ...grpc.DialOption) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{})),
	}, opts...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create rendezvous client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := conn.NewStream(ctx, &serviceDesc.Streams[0], channelMethod)
	if err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("failed to open rendezvous stream: %w", err)
	}

	c := &Client{
		conn:     conn,
		stream:   stream,
		log:      log.Named("rendezvous"),
		cancel:   cancel,
		done:     make(chan struct{}),
		handlers: make(map[string]map[uint64]func(mesh.SignalMessage)),
	}
	go c.recvLoop()
	return c, nil
}

// Publish sends msg to every subscriber of topic.
func (c *Client) Publish(ctx context.Context, topic string, msg mesh.SignalMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.send(&Packet{Op: OpPublish, Topic: topic, Message: &msg})
}

// Subscribe registers fn for topic. The first handler of a topic
// subscribes the stream; removing the last one unsubscribes it.
func (c *Client) Subscribe(ctx context.Context, topic string, fn func(mesh.SignalMessage)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.next++
	id := c.next
	first := len(c.handlers[topic]) == 0
	if first {
		c.handlers[topic] = make(map[uint64]func(mesh.SignalMessage))
	}
	c.handlers[topic][id] = fn
	c.mu.Unlock()

	if first {
		if err := c.send(&Packet{Op: OpSubscribe, Topic: topic}); err != nil {
			c.removeHandler(topic, id)
			return nil, err
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if c.removeHandler(topic, id) {
				_ = c.send(&Packet{Op: OpUnsubscribe, Topic: topic})
			}
		})
	}, nil
}

// removeHandler reports whether the topic has no handlers left.
func (c *Client) removeHandler(topic string, id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers[topic], id)
	if len(c.handlers[topic]) == 0 {
		delete(c.handlers, topic)
		return true
	}
	return false
}

func (c *Client) send(pkt *Packet) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.stream.SendMsg(pkt); err != nil {
		return fmt.Errorf("rendezvous send %s: %w", pkt.Op, err)
	}
	return nil
}

func (c *Client) recvLoop() {
	defer close(c.done)
	for {
		var pkt Packet
		if err := c.stream.RecvMsg(&pkt); err != nil {
			c.log.Debug("rendezvous stream ended", zap.Error(err))
			return
		}
		if pkt.Op != OpMessage || pkt.Message == nil {
			continue
		}

		c.mu.RLock()
		handlers := make([]func(mesh.SignalMessage), 0, len(c.handlers[pkt.Topic]))
		for _, fn := range c.handlers[pkt.Topic] {
			handlers = append(handlers, fn)
		}
		c.mu.RUnlock()

		for _, fn := range handlers {
			fn(*pkt.Message)
		}
	}
}

// Done is closed when the stream ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close ends the stream and the connection.
func (c *Client) Close() error {
	c.sendMu.Lock()
	_ = c.stream.CloseSend()
	c.sendMu.Unlock()
	c.cancel()
	return c.conn.Close()
}
