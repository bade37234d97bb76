package config

import (
	"github.com/spf13/viper"

	"github.com/LeJamon/goBeakon/internal/mesh"
)

// setDefaults sets all default values. Durations are given as strings so
// that written example files stay readable.
func setDefaults(v *viper.Viper) {
	// Node defaults
	v.SetDefault("node.peer_id", "")
	v.SetDefault("node.topic", mesh.DefaultTopic)

	// Mesh defaults
	v.SetDefault("mesh.min_peers", mesh.DefaultMinPeers)
	v.SetDefault("mesh.soft_cap", mesh.DefaultSoftCap)
	v.SetDefault("mesh.max_peers", mesh.DefaultMaxPeers)
	v.SetDefault("mesh.min_fanout", mesh.DefaultMinFanout)
	v.SetDefault("mesh.max_fanout", mesh.DefaultMaxFanout)
	v.SetDefault("mesh.flood_threshold", mesh.DefaultFloodThreshold)
	v.SetDefault("mesh.max_history", mesh.DefaultMaxHistory)
	v.SetDefault("mesh.replay_directed", false)
	v.SetDefault("mesh.max_retries", mesh.DefaultMaxRetries)
	v.SetDefault("mesh.retry_interval", mesh.DefaultRetryInterval.String())
	v.SetDefault("mesh.seen_cache_size", mesh.DefaultSeenCacheSize)
	v.SetDefault("mesh.connect_timeout", mesh.DefaultConnectTimeout.String())
	v.SetDefault("mesh.announce_interval", mesh.DefaultAnnounceInterval.String())
	v.SetDefault("mesh.max_announce_interval", mesh.DefaultMaxAnnounceInterval.String())
	v.SetDefault("mesh.maintenance_interval", mesh.DefaultMaintenanceInterval.String())
	v.SetDefault("mesh.signal_retry_interval", mesh.DefaultSignalRetryInterval.String())
	v.SetDefault("mesh.max_signal_retries", mesh.DefaultMaxSignalRetries)

	// Rendezvous defaults
	v.SetDefault("rendezvous.address", "127.0.0.1:7400")
	v.SetDefault("rendezvous.listen", ":7400")

	// Link defaults
	v.SetDefault("link.listen", ":7401")
	v.SetDefault("link.advertise", "")
	v.SetDefault("link.compression", true)
	v.SetDefault("link.read_limit", 512*1024)
	v.SetDefault("link.pong_wait", "60s")
	v.SetDefault("link.write_timeout", "10s")
	v.SetDefault("link.dial_timeout", "10s")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen", ":9400")
	v.SetDefault("metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}
