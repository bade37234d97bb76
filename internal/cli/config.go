package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LeJamon/goBeakon/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a configuration file holding the defaults",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultConfigFile
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.WriteExample(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Load and validate the configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		source := cfg.GetConfigPath()
		if source == "" {
			source = "defaults and environment"
		}
		fmt.Fprintf(out, "configuration OK (%s)\n", source)
		fmt.Fprintf(out, "  topic:      %s\n", cfg.Node.Topic)
		fmt.Fprintf(out, "  peers:      min %d, soft cap %d, max %d\n", cfg.Mesh.MinPeers, cfg.Mesh.SoftCap, cfg.Mesh.MaxPeers)
		fmt.Fprintf(out, "  fanout:     %.2f-%.2f\n", cfg.Mesh.MinFanout, cfg.Mesh.MaxFanout)
		fmt.Fprintf(out, "  history:    %d\n", cfg.Mesh.MaxHistory)
		fmt.Fprintf(out, "  rendezvous: %s\n", cfg.Rendezvous.Address)
		fmt.Fprintf(out, "  links:      %s\n", cfg.Link.Listen)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd, configCheckCmd)
	rootCmd.AddCommand(configCmd)
}
