package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestStatsRuleCountsOutcomes(t *testing.T) {
	stats := NewStats()
	r := NewStatsRule("alice", stats)

	_, _ = r.Incoming(fulfiller)(context.Background(), testPrepare(10))
	_, _ = r.Incoming(fulfiller)(context.Background(), testPrepare(5))
	_, _ = r.Outgoing(rejecter("F02", "unreachable"))(context.Background(), testPrepare(7))
	_, _ = r.Outgoing(failer(errors.New("down")))(context.Background(), testPrepare(3))

	assert.Equal(t, 2.0, counterValue(t, stats.incomingPrepares.WithLabelValues("alice", resultFulfilled)))
	assert.Equal(t, 15.0, counterValue(t, stats.incomingMoney.WithLabelValues("alice", resultFulfilled)))
	assert.Equal(t, 1.0, counterValue(t, stats.outgoingPrepares.WithLabelValues("alice", resultRejected)))
	assert.Equal(t, 1.0, counterValue(t, stats.outgoingPrepares.WithLabelValues("alice", resultFailed)))
}

func TestNilStatsIsSafe(t *testing.T) {
	var s *Stats
	s.packet(true, "alice", 1, resultFulfilled)
	s.rateLimit("alice")
	s.throughputLimit("alice", "incoming")
	s.settlement("alice", true)
}

func TestStatsRegistryGathers(t *testing.T) {
	stats := NewStats()
	stats.rateLimit("bob")
	families, err := stats.Registry().Gather()
	assert.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "ilp_connector_rate_limited_packets_total")
}
