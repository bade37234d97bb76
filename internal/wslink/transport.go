// Package wslink carries peer links over websockets. The initiating side
// advertises the URL it accepts links on; the responding side dials it.
package wslink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/LeJamon/goBeakon/internal/mesh"
)

// LinkPath is the HTTP path links are accepted on.
const LinkPath = "/link"

// Default transport settings.
const (
	DefaultReadLimit    = 512 * 1024
	DefaultPongWait     = 60 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultDialTimeout  = 10 * time.Second
	DefaultSendBuffer   = 256
)

var (
	// ErrNotConnected is returned by Send before the websocket is attached.
	ErrNotConnected = errors.New("wslink: not connected")
	// ErrClosed is returned after the conn is closed.
	ErrClosed = errors.New("wslink: closed")
	// ErrSendBufferFull is returned when the write queue is full.
	ErrSendBufferFull = errors.New("wslink: send buffer full")
	// ErrBadOffer is returned for descriptors that cannot be parsed.
	ErrBadOffer = errors.New("wslink: bad offer")
)

// Config configures a Transport.
type Config struct {
	// Listen is the local address for the link listener.
	Listen string
	// Advertise is the websocket URL peers dial. Derived from the
	// listener address when empty.
	Advertise string
	// Compression enables LZ4 framing of large payloads.
	Compression bool

	ReadLimit    int64
	PongWait     time.Duration
	WriteTimeout time.Duration
	DialTimeout  time.Duration
	SendBuffer   int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Listen:       "127.0.0.1:0",
		Compression:  true,
		ReadLimit:    DefaultReadLimit,
		PongWait:     DefaultPongWait,
		WriteTimeout: DefaultWriteTimeout,
		DialTimeout:  DefaultDialTimeout,
		SendBuffer:   DefaultSendBuffer,
	}
}

// Offer is the descriptor an initiating conn emits.
type Offer struct {
	Type string `codec:"type" json:"type"`
	URL  string `codec:"url" json:"url"`
}

// Transport implements mesh.Transport over websockets.
type Transport struct {
	cfg      Config
	log      *zap.Logger
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer

	mu        sync.Mutex
	pending   map[mesh.PeerID]*conn
	listener  net.Listener
	server    *http.Server
	advertise string

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a transport. Call Listen before opening links.
func New(cfg Config, log *zap.Logger) *Transport {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultReadLimit
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = DefaultPongWait
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		cfg: cfg,
		log: log.Named("wslink"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		dialer:    &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		pending:   make(map[mesh.PeerID]*conn),
		advertise: cfg.Advertise,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Listen starts accepting links and returns the bound address.
func (t *Transport) Listen() (net.Addr, error) {
	lis, err := net.Listen("tcp", t.cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", t.cfg.Listen, err)
	}

	mux := http.NewServeMux()
	mux.Handle(LinkPath, t)
	server := &http.Server{Handler: mux, ReadHeaderTimeout: t.cfg.DialTimeout}

	t.mu.Lock()
	t.listener = lis
	t.server = server
	if t.advertise == "" {
		t.advertise = "ws://" + lis.Addr().String() + LinkPath
	}
	t.mu.Unlock()

	go func() {
		if err := server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.log.Warn("link listener stopped", zap.Error(err))
		}
	}()
	t.log.Info("accepting links", zap.String("url", t.AdvertiseURL()))
	return lis.Addr(), nil
}

// AdvertiseURL returns the URL put in offers.
func (t *Transport) AdvertiseURL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.advertise
}

// Close stops the listener. Open conns are closed by their owners.
func (t *Transport) Close() error {
	t.cancel()
	t.mu.Lock()
	server := t.server
	t.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Close()
}

// Open implements mesh.Transport.
func (t *Transport) Open(req mesh.ConnRequest, sink mesh.LinkSink) (mesh.Conn, error) {
	offer := Offer{Type: "offer", URL: t.AdvertiseURL()}
	if offer.URL == "" {
		return nil, fmt.Errorf("wslink: transport is not listening")
	}

	c := newConn(t, req, sink)
	t.mu.Lock()
	if old := t.pending[req.Remote]; old != nil {
		old.closeSilently()
	}
	t.pending[req.Remote] = c
	t.mu.Unlock()

	if req.Initiator {
		desc, err := mesh.Marshal(offer)
		if err != nil {
			return nil, err
		}
		sink.OnSignal(string(desc))
	}
	return c, nil
}

// ServeHTTP accepts a link dialed by a peer that received our offer.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	peer, err := mesh.ParsePeerID(r.URL.Query().Get("peer"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	t.mu.Lock()
	c := t.pending[peer]
	if c != nil {
		delete(t.pending, peer)
	}
	t.mu.Unlock()
	if c == nil {
		http.Error(w, "no pending link", http.StatusNotFound)
		return
	}

	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.Debug("upgrade failed", zap.String("peer", peer.Short()), zap.Error(err))
		c.fail(err)
		return
	}
	c.attach(ws)
}

func (t *Transport) release(c *conn) {
	t.mu.Lock()
	if t.pending[c.req.Remote] == c {
		delete(t.pending, c.req.Remote)
	}
	t.mu.Unlock()
}

func (t *Transport) dial(c *conn, offer Offer) {
	u, err := url.Parse(offer.URL)
	if err != nil {
		c.fail(fmt.Errorf("%w: %v", ErrBadOffer, err))
		return
	}
	q := u.Query()
	q.Set("peer", string(c.req.Local))
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(t.ctx, t.cfg.DialTimeout)
	defer cancel()

	ws, _, err := t.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		c.fail(fmt.Errorf("dial %s: %w", offer.URL, err))
		return
	}
	t.release(c)
	c.attach(ws)
}
