package rules

import (
	"context"
	"fmt"
	"time"

	"ilp-connector/pkg/ilp"
	"ilp-connector/pkg/model"
	"ilp-connector/pkg/tokenbucket"
)

// ThroughputOptions are the parameters of a throughput rule. An unset amount
// disables that direction. RefillPeriod is in milliseconds.
type ThroughputOptions struct {
	IncomingAmount model.Int `json:"incomingAmount"`
	OutgoingAmount model.Int `json:"outgoingAmount"`
	RefillPeriod   uint64    `json:"refillPeriod"`
}

// NewThroughputBuckets returns a bucket per configured direction. Each bucket
// holds one period's worth of money.
func NewThroughputBuckets(opts ThroughputOptions) (incoming, outgoing tokenbucket.Bucket, err error) {
	period := opts.RefillPeriod
	if period == 0 {
		period = defaultRefillPeriod
	}
	refill := time.Duration(period) * time.Millisecond

	build := func(name string, amount model.Int) (tokenbucket.Bucket, error) {
		if !amount.IsSet() {
			return nil, nil
		}
		n, err := amount.Uint64(0)
		if err != nil {
			return nil, fmt.Errorf("%w: throughput %s: %v", ErrInvalidOptions, name, err)
		}
		return tokenbucket.New(n, n, refill), nil
	}
	if incoming, err = build("incomingAmount", opts.IncomingAmount); err != nil {
		return nil, nil, err
	}
	if outgoing, err = build("outgoingAmount", opts.OutgoingAmount); err != nil {
		return nil, nil, err
	}
	return incoming, outgoing, nil
}

// Throughput limits the money per period in each direction. Exceeding it
// rejects with T04.
type Throughput struct {
	Passthrough
	peerID   string
	incoming tokenbucket.Bucket
	outgoing tokenbucket.Bucket
	stats    *Stats
}

func NewThroughput(peerID string, incoming, outgoing tokenbucket.Bucket, stats *Stats) *Throughput {
	return &Throughput{peerID: peerID, incoming: incoming, outgoing: outgoing, stats: stats}
}

func (r *Throughput) Incoming(next ilp.Handler) ilp.Handler {
	if r.incoming == nil {
		return next
	}
	return r.wrap(next, r.incoming, "incoming")
}

func (r *Throughput) Outgoing(next ilp.Handler) ilp.Handler {
	if r.outgoing == nil {
		return next
	}
	return r.wrap(next, r.outgoing, "outgoing")
}

func (r *Throughput) wrap(next ilp.Handler, bucket tokenbucket.Bucket, direction string) ilp.Handler {
	return func(ctx context.Context, p *ilp.Prepare) (ilp.Reply, error) {
		if !bucket.Take(p.Amount) {
			r.stats.throughputLimit(r.peerID, direction)
			return nil, ilp.InsufficientLiquidityError("exceeded money bandwidth, throttling.")
		}
		return next(ctx, p)
	}
}
