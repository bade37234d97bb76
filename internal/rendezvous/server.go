package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/LeJamon/goBeakon/internal/mesh"
)

const (
	serviceName   = "beakon.rendezvous.Rendezvous"
	channelMethod = "/" + serviceName + "/Channel"

	// streamBuffer is the number of packets queued per stream before
	// deliveries to that stream are dropped.
	streamBuffer = 256
)

// channelServer is the handler type of the rendezvous service.
type channelServer interface {
	Channel(stream grpc.ServerStream) error
}

func channelHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(channelServer).Channel(stream)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*channelServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Channel",
			Handler:       channelHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "rendezvous",
}

// Server exposes a Hub over gRPC. Each client holds one bidirectional
// stream carrying subscribe, unsubscribe and publish packets; the server
// pushes message packets for subscribed topics.
type Server struct {
	mu sync.Mutex

	hub        *Hub
	grpcServer *grpc.Server
	log        *zap.Logger
	listener   net.Listener
}

// NewServer creates a server for hub.
func NewServer(hub *Hub, log *zap.Logger, opts ...grpc.ServerOption) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	opts = append(opts, grpc.ForceServerCodec(Codec{}))

	s := &Server{
		hub:        hub,
		grpcServer: grpc.NewServer(opts...),
		log:        log.Named("rendezvous"),
	}
	s.grpcServer.RegisterService(&serviceDesc, s)
	return s
}

// Serve accepts streams on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	s.log.Info("rendezvous listening", zap.String("addr", lis.Addr().String()))
	if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("rendezvous serve: %w", err)
	}
	return nil
}

// ListenAndServe listens on addr and serves.
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Addr returns the listener address once serving.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes every stream and the listener.
func (s *Server) Stop() {
	s.grpcServer.Stop()
}

// Channel serves one client stream.
func (s *Server) Channel(stream grpc.ServerStream) error {
	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	out := make(chan Packet, streamBuffer)
	subs := make(map[string]func())
	defer func() {
		for _, unsubscribe := range subs {
			unsubscribe()
		}
	}()

	deliver := func(topic string) func(mesh.SignalMessage) {
		return func(msg mesh.SignalMessage) {
			select {
			case out <- Packet{Op: OpMessage, Topic: topic, Message: &msg}:
			default:
				s.log.Debug("dropping message for slow subscriber", zap.String("topic", topic))
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		for {
			var pkt Packet
			if err := stream.RecvMsg(&pkt); err != nil {
				if errors.Is(err, io.EOF) || gctx.Err() != nil {
					return nil
				}
				return err
			}

			switch pkt.Op {
			case OpSubscribe:
				if _, ok := subs[pkt.Topic]; !ok {
					subs[pkt.Topic] = s.hub.Subscribe(pkt.Topic, deliver(pkt.Topic))
				}
			case OpUnsubscribe:
				if unsubscribe, ok := subs[pkt.Topic]; ok {
					unsubscribe()
					delete(subs, pkt.Topic)
				}
			case OpPublish:
				if pkt.Message != nil {
					s.hub.Publish(pkt.Topic, *pkt.Message)
				}
			default:
				s.log.Debug("dropping packet", zap.String("op", string(pkt.Op)))
			}
		}
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case pkt := <-out:
				if err := stream.SendMsg(&pkt); err != nil {
					return err
				}
			}
		}
	})

	return g.Wait()
}
