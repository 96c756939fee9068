package rules

import (
	"context"
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"ilp-connector/pkg/ilp"
)

const (
	resultFulfilled = "fulfilled"
	resultRejected  = "rejected"
	resultFailed    = "failed"
)

// Stats holds the connector's packet metrics on a dedicated registry. A nil
// *Stats records nothing.
type Stats struct {
	registry          *prometheus.Registry
	incomingPrepares  *prometheus.CounterVec
	outgoingPrepares  *prometheus.CounterVec
	incomingMoney     *prometheus.CounterVec
	outgoingMoney     *prometheus.CounterVec
	rateLimited       *prometheus.CounterVec
	throughputLimited *prometheus.CounterVec
	balance           *prometheus.GaugeVec
	settlements       *prometheus.CounterVec
}

func NewStats() *Stats {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ilp",
			Subsystem: "connector",
			Name:      name,
			Help:      help,
		}, labels)
	}
	return &Stats{
		registry:          reg,
		incomingPrepares:  counter("incoming_prepare_packets_total", "Prepare packets received from peers", "peer", "result"),
		outgoingPrepares:  counter("outgoing_prepare_packets_total", "Prepare packets forwarded to peers", "peer", "result"),
		incomingMoney:     counter("incoming_money_total", "Amount of incoming packets, in the peer's asset scale", "peer", "result"),
		outgoingMoney:     counter("outgoing_money_total", "Amount of outgoing packets, in the peer's asset scale", "peer", "result"),
		rateLimited:       counter("rate_limited_packets_total", "Packets rejected by the rate limit", "peer"),
		throughputLimited: counter("throughput_limited_packets_total", "Packets rejected by the throughput limit", "peer", "direction"),
		settlements:       counter("settlements_total", "Settlements sent to the settlement engine", "peer", "result"),
		balance: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ilp",
			Subsystem: "connector",
			Name:      "balance",
			Help:      "Balance owed to each peer, in the peer's asset scale",
		}, []string{"peer"}),
	}
}

// Registry is served on /metrics.
func (s *Stats) Registry() *prometheus.Registry {
	return s.registry
}

func resultOf(reply ilp.Reply, err error) string {
	switch {
	case err != nil:
		return resultFailed
	case ilp.IsFulfill(reply):
		return resultFulfilled
	default:
		return resultRejected
	}
}

func (s *Stats) packet(incoming bool, peerID string, amount uint64, result string) {
	if s == nil {
		return
	}
	prepares, money := s.outgoingPrepares, s.outgoingMoney
	if incoming {
		prepares, money = s.incomingPrepares, s.incomingMoney
	}
	prepares.WithLabelValues(peerID, result).Inc()
	money.WithLabelValues(peerID, result).Add(float64(amount))
}

func (s *Stats) rateLimit(peerID string) {
	if s == nil {
		return
	}
	s.rateLimited.WithLabelValues(peerID).Inc()
}

func (s *Stats) throughputLimit(peerID, direction string) {
	if s == nil {
		return
	}
	s.throughputLimited.WithLabelValues(peerID, direction).Inc()
}

func (s *Stats) setBalance(peerID string, v *big.Int) {
	if s == nil {
		return
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	s.balance.WithLabelValues(peerID).Set(f)
}

func (s *Stats) settlement(peerID string, ok bool) {
	if s == nil {
		return
	}
	result := resultFulfilled
	if !ok {
		result = resultFailed
	}
	s.settlements.WithLabelValues(peerID, result).Inc()
}

// StatsRule counts packets in both directions by outcome.
type StatsRule struct {
	Passthrough
	peerID string
	stats  *Stats
}

func NewStatsRule(peerID string, stats *Stats) *StatsRule {
	return &StatsRule{peerID: peerID, stats: stats}
}

func (r *StatsRule) Incoming(next ilp.Handler) ilp.Handler {
	return r.wrap(next, true)
}

func (r *StatsRule) Outgoing(next ilp.Handler) ilp.Handler {
	return r.wrap(next, false)
}

func (r *StatsRule) wrap(next ilp.Handler, incoming bool) ilp.Handler {
	return func(ctx context.Context, p *ilp.Prepare) (ilp.Reply, error) {
		reply, err := next(ctx, p)
		r.stats.packet(incoming, r.peerID, p.Amount, resultOf(reply, err))
		return reply, err
	}
}
