package mesh

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/LeJamon/goBeakon/internal/metrics"
)

// Default configuration values.
const (
	DefaultTopic               = "peersChannel"
	DefaultMinPeers            = 0
	DefaultSoftCap             = 10
	DefaultMaxPeers            = 20
	DefaultMinFanout           = 0.33
	DefaultMaxFanout           = 0.66
	DefaultFloodThreshold      = 5
	DefaultMaxHistory          = 10
	DefaultMaxRetries          = 3
	DefaultRetryInterval       = 10 * time.Millisecond
	DefaultBackoffMultiplier   = 2
	DefaultSeenCacheSize       = 10000
	DefaultConnectTimeout      = 30 * time.Second
	DefaultAnnounceInterval    = 5 * time.Second
	DefaultMaxAnnounceInterval = 60 * time.Second
	DefaultMaintenanceInterval = time.Second
	DefaultSignalRetryInterval = time.Second
	DefaultMaxSignalRetries    = 8
)

// Config holds the configuration for a Node.
type Config struct {
	// PeerID is the local id. Empty generates a fresh identity.
	PeerID PeerID
	// Topic is the rendezvous topic every peer subscribes to.
	Topic string

	MinPeers int
	SoftCap  int
	MaxPeers int

	MinFanout      float64
	MaxFanout      float64
	FloodThreshold int

	MaxHistory     int
	ReplayDirected bool

	MaxRetries        int
	RetryInterval     time.Duration
	BackoffMultiplier int

	// SeenCacheSize bounds each dedup set.
	SeenCacheSize int

	ConnectTimeout      time.Duration
	AnnounceInterval    time.Duration
	MaxAnnounceInterval time.Duration
	MaintenanceInterval time.Duration
	SignalRetryInterval time.Duration
	MaxSignalRetries    int

	Debug   bool
	Logger  *zap.Logger
	Metrics *metrics.Gossip

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
	// Rand drives admission thresholds, fanout and shuffles. It is only
	// used from the event loop.
	Rand *rand.Rand
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Topic:               DefaultTopic,
		MinPeers:            DefaultMinPeers,
		SoftCap:             DefaultSoftCap,
		MaxPeers:            DefaultMaxPeers,
		MinFanout:           DefaultMinFanout,
		MaxFanout:           DefaultMaxFanout,
		FloodThreshold:      DefaultFloodThreshold,
		MaxHistory:          DefaultMaxHistory,
		MaxRetries:          DefaultMaxRetries,
		RetryInterval:       DefaultRetryInterval,
		BackoffMultiplier:   DefaultBackoffMultiplier,
		SeenCacheSize:       DefaultSeenCacheSize,
		ConnectTimeout:      DefaultConnectTimeout,
		AnnounceInterval:    DefaultAnnounceInterval,
		MaxAnnounceInterval: DefaultMaxAnnounceInterval,
		MaintenanceInterval: DefaultMaintenanceInterval,
		SignalRetryInterval: DefaultSignalRetryInterval,
		MaxSignalRetries:    DefaultMaxSignalRetries,
		Clock:               time.Now,
	}
}

// Option is a function that modifies the configuration.
type Option func(*Config)

// WithPeerID sets the local peer id instead of generating one.
func WithPeerID(id PeerID) Option {
	return func(c *Config) {
		c.PeerID = id
	}
}

// WithTopic sets the rendezvous topic.
func WithTopic(topic string) Option {
	return func(c *Config) {
		c.Topic = topic
	}
}

// WithMinPeers sets the fanout floor.
func WithMinPeers(n int) Option {
	return func(c *Config) {
		c.MinPeers = n
	}
}

// WithSoftCap sets the lower admission bound.
func WithSoftCap(n int) Option {
	return func(c *Config) {
		c.SoftCap = n
	}
}

// WithMaxPeers sets the upper admission bound.
func WithMaxPeers(n int) Option {
	return func(c *Config) {
		c.MaxPeers = n
	}
}

// WithFanout sets the fanout ratio bounds.
func WithFanout(lo, hi float64) Option {
	return func(c *Config) {
		c.MinFanout = lo
		c.MaxFanout = hi
	}
}

// WithFloodThreshold sets the connected count at or below which sends flood.
func WithFloodThreshold(n int) Option {
	return func(c *Config) {
		c.FloodThreshold = n
	}
}

// WithMaxHistory sets the history buffer length.
func WithMaxHistory(n int) Option {
	return func(c *Config) {
		c.MaxHistory = n
	}
}

// WithReplayDirected keeps directed messages in history.
func WithReplayDirected(enabled bool) Option {
	return func(c *Config) {
		c.ReplayDirected = enabled
	}
}

// WithMaxRetries sets the number of send retries after link failures.
func WithMaxRetries(n int) Option {
	return func(c *Config) {
		c.MaxRetries = n
	}
}

// WithRetryInterval sets the base retry delay.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Config) {
		c.RetryInterval = d
	}
}

// WithSeenCacheSize bounds the dedup sets.
func WithSeenCacheSize(n int) Option {
	return func(c *Config) {
		c.SeenCacheSize = n
	}
}

// WithConnectTimeout sets how long a link may stay connecting.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ConnectTimeout = d
	}
}

// WithAnnounceInterval sets the presence re-announce backoff range.
func WithAnnounceInterval(base, max time.Duration) Option {
	return func(c *Config) {
		c.AnnounceInterval = base
		c.MaxAnnounceInterval = max
	}
}

// WithMaintenanceInterval sets the maintenance tick.
func WithMaintenanceInterval(d time.Duration) Option {
	return func(c *Config) {
		c.MaintenanceInterval = d
	}
}

// WithSignalRetry sets the rendezvous publish retry policy.
func WithSignalRetry(interval time.Duration, max int) Option {
	return func(c *Config) {
		c.SignalRetryInterval = interval
		c.MaxSignalRetries = max
	}
}

// WithDebug enables debug logging when no logger is set.
func WithDebug(enabled bool) Option {
	return func(c *Config) {
		c.Debug = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Gossip) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// WithClock sets the time source.
func WithClock(clock func() time.Time) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithRand sets the random source.
func WithRand(r *rand.Rand) Option {
	return func(c *Config) {
		c.Rand = r
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.PeerID != "" {
		if _, err := ParsePeerID(string(c.PeerID)); err != nil {
			return err
		}
	}
	if c.Topic == "" {
		return errors.New("topic must not be empty")
	}
	if c.MinPeers < 0 {
		return errors.New("min peers must not be negative")
	}
	if c.SoftCap < 1 {
		return errors.New("soft cap must be at least 1")
	}
	if c.MaxPeers < 0 {
		return errors.New("max peers must not be negative")
	}
	if c.MinFanout < 0 || c.MaxFanout > 1 || c.MinFanout > c.MaxFanout {
		return fmt.Errorf("fanout bounds must satisfy 0 <= min <= max <= 1, got [%v, %v]", c.MinFanout, c.MaxFanout)
	}
	if c.FloodThreshold < 0 {
		return errors.New("flood threshold must not be negative")
	}
	if c.MaxHistory < 0 {
		return errors.New("max history must not be negative")
	}
	if c.MaxRetries < 0 {
		return errors.New("max retries must not be negative")
	}
	if c.RetryInterval <= 0 {
		return errors.New("retry interval must be positive")
	}
	if c.BackoffMultiplier < 1 {
		return errors.New("backoff multiplier must be at least 1")
	}
	if c.SeenCacheSize < 1 {
		return errors.New("seen cache size must be at least 1")
	}
	if c.ConnectTimeout <= 0 || c.AnnounceInterval <= 0 || c.MaintenanceInterval <= 0 || c.SignalRetryInterval <= 0 {
		return errors.New("timeouts and intervals must be positive")
	}
	if c.MaxAnnounceInterval < c.AnnounceInterval {
		return errors.New("max announce interval must not be below announce interval")
	}
	if c.MaxSignalRetries < 0 {
		return errors.New("max signal retries must not be negative")
	}
	return nil
}

// retryDelay returns the delay before retry number attempt+1.
func (c *Config) retryDelay(attempt int) time.Duration {
	d := c.RetryInterval
	for i := 0; i < attempt; i++ {
		d *= time.Duration(c.BackoffMultiplier)
	}
	return d
}
