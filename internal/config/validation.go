package config

import (
	"errors"
	"fmt"

	"go.uber.org/zap/zapcore"

	"github.com/LeJamon/goBeakon/internal/mesh"
)

// ValidateConfig performs validation on the complete configuration
func ValidateConfig(config *Config) error {
	if err := validateMesh(config); err != nil {
		return fmt.Errorf("mesh config validation failed: %w", err)
	}
	if err := config.Rendezvous.Validate(); err != nil {
		return fmt.Errorf("rendezvous config validation failed: %w", err)
	}
	if err := config.Link.Validate(); err != nil {
		return fmt.Errorf("link config validation failed: %w", err)
	}
	if err := config.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config validation failed: %w", err)
	}
	if err := config.Log.Validate(); err != nil {
		return fmt.Errorf("log config validation failed: %w", err)
	}
	return nil
}

// validateMesh applies the node and mesh sections to a mesh config and
// validates the result.
func validateMesh(config *Config) error {
	cfg := mesh.DefaultConfig()
	for _, opt := range config.MeshOptions() {
		opt(&cfg)
	}
	return cfg.Validate()
}

// Validate validates the rendezvous section
func (c *RendezvousConfig) Validate() error {
	if c.Address == "" {
		return errors.New("address is required")
	}
	if c.Listen == "" {
		return errors.New("listen is required")
	}
	return nil
}

// Validate validates the link section
func (c *LinkConfig) Validate() error {
	if c.Listen == "" {
		return errors.New("listen is required")
	}
	if c.ReadLimit <= 0 {
		return fmt.Errorf("read_limit must be positive, got %d", c.ReadLimit)
	}
	if c.PongWait <= 0 || c.WriteTimeout <= 0 || c.DialTimeout <= 0 {
		return errors.New("pong_wait, write_timeout and dial_timeout must be positive")
	}
	return nil
}

// Validate validates the metrics section
func (c *MetricsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Listen == "" {
		return errors.New("listen is required when metrics are enabled")
	}
	if c.Path == "" || c.Path[0] != '/' {
		return fmt.Errorf("path must start with '/', got %q", c.Path)
	}
	return nil
}

// Validate validates the log section
func (c *LogConfig) Validate() error {
	if _, err := zapcore.ParseLevel(c.Level); err != nil {
		return err
	}
	switch c.Format {
	case "console", "json":
		return nil
	default:
		return fmt.Errorf("format must be console or json, got %q", c.Format)
	}
}
