package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGossip_Counters tests that each recorder updates its collector
func TestGossip_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := New(reg)

	g.Sent("gossip")
	g.Sent("gossip")
	g.Received("history-response")
	g.Dropped(ReasonDuplicate)
	g.Retry()
	g.Signal(RouteRelay)
	g.SetPeers(4)
	g.SetHistory(10)

	assert.Equal(t, 2.0, testutil.ToFloat64(g.sent.WithLabelValues("gossip")))
	assert.Equal(t, 1.0, testutil.ToFloat64(g.received.WithLabelValues("history-response")))
	assert.Equal(t, 1.0, testutil.ToFloat64(g.dropped.WithLabelValues(ReasonDuplicate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(g.retries))
	assert.Equal(t, 1.0, testutil.ToFloat64(g.signals.WithLabelValues(RouteRelay)))
	assert.Equal(t, 4.0, testutil.ToFloat64(g.peers))
	assert.Equal(t, 10.0, testutil.ToFloat64(g.history))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

// TestGossip_Nil tests that a nil collector set is a no-op
func TestGossip_Nil(t *testing.T) {
	var g *Gossip
	assert.NotPanics(t, func() {
		g.Sent("gossip")
		g.Received("gossip")
		g.Dropped(ReasonMalformed)
		g.Retry()
		g.Signal(RouteDirect)
		g.SetPeers(1)
		g.SetHistory(1)
	})
	assert.Nil(t, g.Collectors())
}

// TestNew_WithoutRegistry tests creating collectors that are not registered
func TestNew_WithoutRegistry(t *testing.T) {
	g := New(nil)
	require.NotNil(t, g)
	assert.Len(t, g.Collectors(), 7)
}
