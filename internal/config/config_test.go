package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/goBeakon/internal/mesh"
)

func TestLoadConfig_Defaults(t *testing.T) {
	config, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "peersChannel", config.Node.Topic)
	assert.Equal(t, 10, config.Mesh.SoftCap)
	assert.Equal(t, 20, config.Mesh.MaxPeers)
	assert.Equal(t, 0.33, config.Mesh.MinFanout)
	assert.Equal(t, 10*time.Millisecond, config.Mesh.RetryInterval)
	assert.Equal(t, 5*time.Second, config.Mesh.AnnounceInterval)
	assert.True(t, config.Link.Compression)
	assert.Equal(t, "/metrics", config.Metrics.Path)
	assert.Equal(t, "info", config.Log.Level)
	assert.Empty(t, config.GetConfigPath())
}

func TestLoadConfig_File(t *testing.T) {
	tempDir := t.TempDir()

	content := `
[node]
topic = "lobby"

[mesh]
min_peers = 2
soft_cap = 6
max_peers = 9
max_history = 25
retry_interval = "50ms"

[rendezvous]
address = "rendezvous.internal:7400"

[link]
compression = false

[log]
level = "debug"
format = "json"
`
	path := filepath.Join(tempDir, "beakond.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, path, config.GetConfigPath())
	assert.Equal(t, "lobby", config.Node.Topic)
	assert.Equal(t, 2, config.Mesh.MinPeers)
	assert.Equal(t, 6, config.Mesh.SoftCap)
	assert.Equal(t, 9, config.Mesh.MaxPeers)
	assert.Equal(t, 25, config.Mesh.MaxHistory)
	assert.Equal(t, 50*time.Millisecond, config.Mesh.RetryInterval)
	assert.Equal(t, "rendezvous.internal:7400", config.Rendezvous.Address)
	assert.False(t, config.Link.Compression)
	assert.Equal(t, "json", config.Log.Format)

	// untouched keys keep their defaults
	assert.Equal(t, 0.66, config.Mesh.MaxFanout)
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("BEAKON_MESH_SOFT_CAP", "3")
	t.Setenv("BEAKON_NODE_TOPIC", "from-env")

	config, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 3, config.Mesh.SoftCap)
	assert.Equal(t, "from-env", config.Node.Topic)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	assert.ErrorContains(t, err, "does not exist")
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"fanout_inverted", map[string]string{"BEAKON_MESH_MIN_FANOUT": "0.9", "BEAKON_MESH_MAX_FANOUT": "0.1"}},
		{"zero_soft_cap", map[string]string{"BEAKON_MESH_SOFT_CAP": "0"}},
		{"bad_peer_id", map[string]string{"BEAKON_NODE_PEER_ID": "xyz"}},
		{"bad_metrics_path", map[string]string{"BEAKON_METRICS_PATH": "metrics"}},
		{"bad_log_level", map[string]string{"BEAKON_LOG_LEVEL": "loud"}},
		{"bad_log_format", map[string]string{"BEAKON_LOG_FORMAT": "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig("")
			assert.Error(t, err)
		})
	}
}

func TestConfig_MeshOptions(t *testing.T) {
	config, err := LoadConfig("")
	require.NoError(t, err)
	config.Node.PeerID = string(mesh.PeerID("00112233445566778899aabbccddeeff00112233"))
	config.Mesh.MaxHistory = 42

	cfg := mesh.DefaultConfig()
	for _, opt := range config.MeshOptions() {
		opt(&cfg)
	}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, mesh.PeerID(config.Node.PeerID), cfg.PeerID)
	assert.Equal(t, 42, cfg.MaxHistory)
	assert.Equal(t, config.Mesh.ConnectTimeout, cfg.ConnectTimeout)
	assert.False(t, cfg.Debug)
}

func TestConfig_LinkTransport(t *testing.T) {
	config, err := LoadConfig("")
	require.NoError(t, err)

	link := config.LinkTransport()
	assert.Equal(t, ":7401", link.Listen)
	assert.True(t, link.Compression)
	assert.Equal(t, int64(512*1024), link.ReadLimit)
	assert.Equal(t, 60*time.Second, link.PongWait)
}

func TestWriteExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.toml")
	require.NoError(t, WriteExample(path))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, mesh.DefaultSoftCap, config.Mesh.SoftCap)
	assert.Equal(t, mesh.DefaultRetryInterval, config.Mesh.RetryInterval)

	assert.Error(t, WriteExample(path), "existing files are kept")
	assert.Error(t, WriteExample(""))
}
