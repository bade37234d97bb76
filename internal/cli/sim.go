package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/LeJamon/goBeakon/internal/loopback"
	"github.com/LeJamon/goBeakon/internal/mesh"
	"github.com/LeJamon/goBeakon/internal/rendezvous"
)

const settleTimeout = 2 * time.Second

var (
	simPeers    int
	simMessages int
	simTimeout  time.Duration
	simSeed     int64
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run an in-process mesh simulation",
	Long: `Start several nodes in one process over an in-memory rendezvous hub and
loopback links, broadcast messages from every node and report how many each
node received.`,
	Args: cobra.NoArgs,
	RunE: runSim,
}

func init() {
	simCmd.Flags().IntVar(&simPeers, "peers", 8, "number of nodes")
	simCmd.Flags().IntVar(&simMessages, "messages", 10, "messages broadcast by each node")
	simCmd.Flags().DurationVar(&simTimeout, "timeout", 30*time.Second, "overall time limit")
	simCmd.Flags().Int64Var(&simSeed, "seed", 1, "random seed for peer selection")
	rootCmd.AddCommand(simCmd)
}

func runSim(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(cmd.Context(), simTimeout)
	defer cancel()

	params := simParams{
		peers:    simPeers,
		messages: simMessages,
		seed:     simSeed,
		options:  cfg.MeshOptions(),
	}
	report, err := simulate(ctx, params, logger)
	if err != nil {
		return err
	}
	report.print(cmd.OutOrStdout())
	if !report.complete() {
		return errors.New("not every message was delivered")
	}
	return nil
}

// simParams configures one simulation run.
type simParams struct {
	peers    int
	messages int
	seed     int64
	options  []mesh.Option
}

// simPeer tracks what one simulated node received.
type simPeer struct {
	node *mesh.Node

	mu         sync.Mutex
	seen       map[string]struct{}
	duplicates int
}

func (p *simPeer) record(env mesh.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.seen[env.MessageID]; ok {
		p.duplicates++
		return
	}
	p.seen[env.MessageID] = struct{}{}
}

func (p *simPeer) delivered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

// simResult is the outcome for one node.
type simResult struct {
	ID          mesh.PeerID
	Connections int
	Delivered   int
	Duplicates  int
}

// simReport is the outcome of a run.
type simReport struct {
	Expected int
	Elapsed  time.Duration
	Results  []simResult
}

func (r simReport) complete() bool {
	for _, res := range r.Results {
		if res.Delivered != r.Expected || res.Duplicates != 0 {
			return false
		}
	}
	return true
}

func (r simReport) print(out io.Writer) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PEER\tLINKS\tDELIVERED\tDUPLICATES")
	for _, res := range r.Results {
		fmt.Fprintf(w, "%s\t%d\t%d/%d\t%d\n", res.ID.Short(), res.Connections, res.Delivered, r.Expected, res.Duplicates)
	}
	w.Flush()
	fmt.Fprintf(out, "finished in %s\n", r.Elapsed.Round(time.Millisecond))
}

// simulate starts p.peers nodes, lets them connect, broadcasts p.messages
// from each and waits until ctx is done or every node has every message.
func simulate(ctx context.Context, p simParams, logger *zap.Logger) (simReport, error) {
	if p.peers < 2 {
		return simReport{}, fmt.Errorf("need at least 2 peers, got %d", p.peers)
	}
	if p.messages < 1 {
		return simReport{}, fmt.Errorf("need at least 1 message, got %d", p.messages)
	}
	start := time.Now()

	hub := rendezvous.NewHub()
	network := loopback.NewNetwork()

	cfg := mesh.DefaultConfig()
	for _, opt := range p.options {
		opt(&cfg)
	}

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	peers := make([]*simPeer, 0, p.peers)
	defer func() {
		for _, peer := range peers {
			peer.node.Teardown() //nolint:errcheck
		}
		stop()
		g.Wait() //nolint:errcheck
	}()

	for i := 0; i < p.peers; i++ {
		opts := append(append([]mesh.Option{}, p.options...),
			mesh.WithPeerID(""),
			mesh.WithLogger(logger.Named(fmt.Sprintf("sim%d", i))),
			mesh.WithRand(rand.New(rand.NewSource(p.seed+int64(i)))),
		)
		node, err := mesh.New(rendezvous.NewLocal(hub), network, opts...)
		if err != nil {
			return simReport{}, err
		}

		peer := &simPeer{node: node, seen: make(map[string]struct{})}
		node.OnData(peer.record)
		peers = append(peers, peer)

		before := hub.Subscribers(cfg.Topic)
		g.Go(func() error {
			return node.Run(gctx)
		})
		if err := waitUntil(ctx, func() bool { return hub.Subscribers(cfg.Topic) > before }); err != nil {
			return simReport{}, fmt.Errorf("node %d did not subscribe: %w", i, err)
		}
	}

	connectedAtLeast := func(want int) func() bool {
		return func() bool {
			for _, peer := range peers {
				if len(peer.node.Connections()) < want {
					return false
				}
			}
			return true
		}
	}
	if err := waitUntil(ctx, connectedAtLeast(min(p.peers-1, max(1, cfg.MinPeers)))); err != nil {
		return simReport{}, fmt.Errorf("mesh did not form: %w", err)
	}
	// Give the mesh a moment to fill up to the soft cap; history replay
	// covers links that form later.
	settleCtx, settle := context.WithTimeout(ctx, settleTimeout)
	waitUntil(settleCtx, connectedAtLeast(min(p.peers-1, cfg.SoftCap))) //nolint:errcheck
	settle()

	for m := 0; m < p.messages; m++ {
		for i, peer := range peers {
			peer.node.Send(fmt.Sprintf("sim %d/%d", i, m), mesh.OfType("sim"))
		}
	}

	expected := p.messages * (p.peers - 1)
	err := waitUntil(ctx, func() bool {
		for _, peer := range peers {
			if peer.delivered() < expected {
				return false
			}
		}
		return true
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return simReport{}, err
	}

	report := simReport{Expected: expected, Elapsed: time.Since(start)}
	for _, peer := range peers {
		peer.mu.Lock()
		report.Results = append(report.Results, simResult{
			ID:          peer.node.ID(),
			Connections: len(peer.node.Connections()),
			Delivered:   len(peer.seen),
			Duplicates:  peer.duplicates,
		})
		peer.mu.Unlock()
	}
	return report, nil
}

// waitUntil polls cond until it holds or ctx is done.
func waitUntil(ctx context.Context, cond func() bool) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if cond() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
