package cli

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/LeJamon/goBeakon/internal/rendezvous"
)

var rendezvousListen string

var rendezvousCmd = &cobra.Command{
	Use:   "rendezvous",
	Short: "Run a rendezvous server",
	Long: `Serve the shared publish/subscribe channel nodes use to discover each
other and exchange link descriptors.`,
	RunE: runRendezvous,
}

func init() {
	rendezvousCmd.Flags().StringVar(&rendezvousListen, "listen", "", "listen address (overrides config)")
	rootCmd.AddCommand(rendezvousCmd)
}

func runRendezvous(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if rendezvousListen != "" {
		cfg.Rendezvous.Listen = rendezvousListen
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	lis, err := net.Listen("tcp", cfg.Rendezvous.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Rendezvous.Listen, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := rendezvous.NewServer(rendezvous.NewHub(), logger)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		server.Stop()
		return nil
	})
	return g.Wait()
}
