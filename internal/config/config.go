package config

import (
	"time"

	"github.com/LeJamon/goBeakon/internal/mesh"
	"github.com/LeJamon/goBeakon/internal/wslink"
)

// DefaultConfigFile is the file name looked up when no path is given.
const DefaultConfigFile = "beakond.toml"

// Config represents the complete beakond configuration
type Config struct {
	Node       NodeConfig       `toml:"node" mapstructure:"node"`
	Mesh       MeshConfig       `toml:"mesh" mapstructure:"mesh"`
	Rendezvous RendezvousConfig `toml:"rendezvous" mapstructure:"rendezvous"`
	Link       LinkConfig       `toml:"link" mapstructure:"link"`
	Metrics    MetricsConfig    `toml:"metrics" mapstructure:"metrics"`
	Log        LogConfig        `toml:"log" mapstructure:"log"`

	configPath string `toml:"-" mapstructure:"-"`
}

// NodeConfig identifies the local peer
type NodeConfig struct {
	// PeerID pins the local id. A fresh identity is generated when empty.
	PeerID string `toml:"peer_id" mapstructure:"peer_id"`
	Topic  string `toml:"topic" mapstructure:"topic"`
}

// MeshConfig holds the overlay tuning knobs
type MeshConfig struct {
	MinPeers            int           `toml:"min_peers" mapstructure:"min_peers"`
	SoftCap             int           `toml:"soft_cap" mapstructure:"soft_cap"`
	MaxPeers            int           `toml:"max_peers" mapstructure:"max_peers"`
	MinFanout           float64       `toml:"min_fanout" mapstructure:"min_fanout"`
	MaxFanout           float64       `toml:"max_fanout" mapstructure:"max_fanout"`
	FloodThreshold      int           `toml:"flood_threshold" mapstructure:"flood_threshold"`
	MaxHistory          int           `toml:"max_history" mapstructure:"max_history"`
	ReplayDirected      bool          `toml:"replay_directed" mapstructure:"replay_directed"`
	MaxRetries          int           `toml:"max_retries" mapstructure:"max_retries"`
	RetryInterval       time.Duration `toml:"retry_interval" mapstructure:"retry_interval"`
	SeenCacheSize       int           `toml:"seen_cache_size" mapstructure:"seen_cache_size"`
	ConnectTimeout      time.Duration `toml:"connect_timeout" mapstructure:"connect_timeout"`
	AnnounceInterval    time.Duration `toml:"announce_interval" mapstructure:"announce_interval"`
	MaxAnnounceInterval time.Duration `toml:"max_announce_interval" mapstructure:"max_announce_interval"`
	MaintenanceInterval time.Duration `toml:"maintenance_interval" mapstructure:"maintenance_interval"`
	SignalRetryInterval time.Duration `toml:"signal_retry_interval" mapstructure:"signal_retry_interval"`
	MaxSignalRetries    int           `toml:"max_signal_retries" mapstructure:"max_signal_retries"`
}

// RendezvousConfig configures the signaling channel
type RendezvousConfig struct {
	// Address is the gRPC target a node connects to.
	Address string `toml:"address" mapstructure:"address"`
	// Listen is the address `beakond rendezvous` serves on.
	Listen string `toml:"listen" mapstructure:"listen"`
}

// LinkConfig configures the websocket link transport
type LinkConfig struct {
	Listen       string        `toml:"listen" mapstructure:"listen"`
	Advertise    string        `toml:"advertise" mapstructure:"advertise"`
	Compression  bool          `toml:"compression" mapstructure:"compression"`
	ReadLimit    int64         `toml:"read_limit" mapstructure:"read_limit"`
	PongWait     time.Duration `toml:"pong_wait" mapstructure:"pong_wait"`
	WriteTimeout time.Duration `toml:"write_timeout" mapstructure:"write_timeout"`
	DialTimeout  time.Duration `toml:"dial_timeout" mapstructure:"dial_timeout"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
	Path    string `toml:"path" mapstructure:"path"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level  string `toml:"level" mapstructure:"level"`
	Format string `toml:"format" mapstructure:"format"`
}

// GetConfigPath returns the path the configuration was loaded from
func (c *Config) GetConfigPath() string {
	return c.configPath
}

// MeshOptions converts the node and mesh sections to mesh options
func (c *Config) MeshOptions() []mesh.Option {
	m := c.Mesh
	opts := []mesh.Option{
		mesh.WithTopic(c.Node.Topic),
		mesh.WithMinPeers(m.MinPeers),
		mesh.WithSoftCap(m.SoftCap),
		mesh.WithMaxPeers(m.MaxPeers),
		mesh.WithFanout(m.MinFanout, m.MaxFanout),
		mesh.WithFloodThreshold(m.FloodThreshold),
		mesh.WithMaxHistory(m.MaxHistory),
		mesh.WithReplayDirected(m.ReplayDirected),
		mesh.WithMaxRetries(m.MaxRetries),
		mesh.WithRetryInterval(m.RetryInterval),
		mesh.WithSeenCacheSize(m.SeenCacheSize),
		mesh.WithConnectTimeout(m.ConnectTimeout),
		mesh.WithAnnounceInterval(m.AnnounceInterval, m.MaxAnnounceInterval),
		mesh.WithMaintenanceInterval(m.MaintenanceInterval),
		mesh.WithSignalRetry(m.SignalRetryInterval, m.MaxSignalRetries),
		mesh.WithDebug(c.Log.Level == "debug"),
	}
	if c.Node.PeerID != "" {
		opts = append(opts, mesh.WithPeerID(mesh.PeerID(c.Node.PeerID)))
	}
	return opts
}

// LinkTransport returns the websocket transport settings
func (c *Config) LinkTransport() wslink.Config {
	cfg := wslink.DefaultConfig()
	cfg.Listen = c.Link.Listen
	cfg.Advertise = c.Link.Advertise
	cfg.Compression = c.Link.Compression
	cfg.ReadLimit = c.Link.ReadLimit
	cfg.PongWait = c.Link.PongWait
	cfg.WriteTimeout = c.Link.WriteTimeout
	cfg.DialTimeout = c.Link.DialTimeout
	return cfg
}
