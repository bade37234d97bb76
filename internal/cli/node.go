package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/LeJamon/goBeakon/internal/config"
	"github.com/LeJamon/goBeakon/internal/mesh"
	"github.com/LeJamon/goBeakon/internal/metrics"
	"github.com/LeJamon/goBeakon/internal/rendezvous"
	"github.com/LeJamon/goBeakon/internal/wslink"
)

var (
	// Node flags
	nodeRendezvous string
	nodeTopic      string
	nodeListen     string
	nodeAdvertise  string
	nodeNoStdin    bool
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run a mesh node",
	Long: `Start a node, announce it on the rendezvous topic and keep links to peers.

Lines read from stdin are sent to the mesh:
  text                 broadcast text
  @<peer>[,<peer>] text  send text to the given peers
  /peers               list connected peers
  /history             list replayable history`,
	RunE: runNode,
}

func init() {
	for _, cmd := range []*cobra.Command{rootCmd, nodeCmd} {
		cmd.Flags().StringVar(&nodeRendezvous, "rendezvous", "", "rendezvous server address (overrides config)")
		cmd.Flags().StringVar(&nodeTopic, "topic", "", "rendezvous topic (overrides config)")
		cmd.Flags().StringVar(&nodeListen, "listen", "", "link listen address (overrides config)")
		cmd.Flags().StringVar(&nodeAdvertise, "advertise", "", "websocket URL advertised to peers (overrides config)")
		cmd.Flags().BoolVar(&nodeNoStdin, "no-stdin", false, "do not read messages from stdin")
	}

	rootCmd.AddCommand(nodeCmd)
	rootCmd.RunE = runNode
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyNodeFlags(cfg)

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	signaling, err := rendezvous.Dial(cfg.Rendezvous.Address, logger)
	if err != nil {
		return err
	}
	defer signaling.Close()

	transport := wslink.New(cfg.LinkTransport(), logger)
	if _, err := transport.Listen(); err != nil {
		return err
	}
	defer transport.Close()

	opts := append(cfg.MeshOptions(), mesh.WithLogger(logger))

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, mesh.WithMetrics(metrics.New(reg)))

		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		metricsServer = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	node, err := mesh.New(signaling, transport, opts...)
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "peer %s on topic %q, links at %s\n", node.ID(), cfg.Node.Topic, transport.AdvertiseURL())

	node.OnPeer(func(evt mesh.PeerEvent) {
		fmt.Fprintf(out, "* %s %s\n", evt.ID.Short(), evt.Status)
	})
	node.OnData(func(env mesh.Envelope) {
		printEnvelope(out, env)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return node.Run(gctx)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-signaling.Done():
			return errors.New("rendezvous connection lost")
		}
	})
	if metricsServer != nil {
		g.Go(func() error {
			logger.Info("serving metrics", zap.String("addr", cfg.Metrics.Listen), zap.String("path", cfg.Metrics.Path))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}
	if !nodeNoStdin {
		// Not part of the group: a blocked stdin read must not hold up shutdown.
		go readInput(gctx, node, cmd.InOrStdin(), out, logger)
	}

	err = g.Wait()
	node.Teardown() //nolint:errcheck
	return err
}

func applyNodeFlags(cfg *config.Config) {
	if nodeRendezvous != "" {
		cfg.Rendezvous.Address = nodeRendezvous
	}
	if nodeTopic != "" {
		cfg.Node.Topic = nodeTopic
	}
	if nodeListen != "" {
		cfg.Link.Listen = nodeListen
	}
	if nodeAdvertise != "" {
		cfg.Link.Advertise = nodeAdvertise
	}
}

func printEnvelope(out io.Writer, env mesh.Envelope) {
	prefix := "<"
	if len(env.To) > 0 {
		prefix = "<@"
	}
	if env.Type != "" {
		fmt.Fprintf(out, "%s %s [%s] %s\n", prefix, env.SenderID.Short(), env.Type, env.Content)
		return
	}
	fmt.Fprintf(out, "%s %s %s\n", prefix, env.SenderID.Short(), env.Content)
}

// inputKind is the action requested by one stdin line.
type inputKind int

const (
	inputNone inputKind = iota
	inputBroadcast
	inputDirected
	inputPeers
	inputHistory
)

// input is one parsed stdin line.
type input struct {
	kind    inputKind
	to      []mesh.PeerID
	content string
}

// parseInput parses one stdin line. Blank lines yield inputNone.
func parseInput(line string) (input, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return input{kind: inputNone}, nil
	case line == "/peers":
		return input{kind: inputPeers}, nil
	case line == "/history":
		return input{kind: inputHistory}, nil
	case strings.HasPrefix(line, "/"):
		return input{}, fmt.Errorf("unknown command %q", line)
	case !strings.HasPrefix(line, "@"):
		return input{kind: inputBroadcast, content: line}, nil
	}

	targets, content, _ := strings.Cut(line[1:], " ")
	content = strings.TrimSpace(content)
	if content == "" {
		return input{}, errors.New("directed message has no content")
	}

	var to []mesh.PeerID
	for _, s := range strings.Split(targets, ",") {
		id, err := mesh.ParsePeerID(s)
		if err != nil {
			return input{}, err
		}
		to = append(to, id)
	}
	return input{kind: inputDirected, to: to, content: content}, nil
}

// readInput forwards stdin lines to node until ctx is done or in is exhausted.
func readInput(ctx context.Context, node *mesh.Node, in io.Reader, out io.Writer, logger *zap.Logger) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		cmd, err := parseInput(scanner.Text())
		if err != nil {
			fmt.Fprintf(out, "! %v\n", err)
			continue
		}

		switch cmd.kind {
		case inputBroadcast:
			node.Send(cmd.content)
		case inputDirected:
			node.Send(cmd.content, mesh.To(cmd.to...))
		case inputPeers:
			for _, id := range node.Connections() {
				fmt.Fprintf(out, "  %s\n", id)
			}
		case inputHistory:
			history, err := node.History(ctx)
			if err != nil {
				fmt.Fprintf(out, "! %v\n", err)
				continue
			}
			for _, env := range history {
				printEnvelope(out, env)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("stdin closed", zap.Error(err))
	}
}
