package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/LeJamon/goBeakon/internal/config"
)

var (
	// Global flags
	configFile string
	debug      bool
	quiet      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "beakond",
	Short: "beakond - gossip overlay node",
	Long: `beakond joins a self-organizing gossip overlay. Peers meet on a shared
rendezvous topic, open direct links to each other and relay broadcast and
directed messages through the mesh.

Running beakond without a subcommand starts a node.`,
	Version:       "0.1.0-dev",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "conf", "", "configuration file path (defaults to ./"+config.DefaultConfigFile+" when present)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable normally suppressed debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log warnings and errors")
}

// loadConfig resolves the configuration file and applies global flags.
func loadConfig() (*config.Config, error) {
	path := configFile
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigFile); err == nil {
			path = config.DefaultConfigFile
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	switch {
	case debug:
		cfg.Log.Level = "debug"
	case quiet:
		cfg.Log.Level = "warn"
	}
	return cfg, nil
}
