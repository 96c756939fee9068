package rules

import (
	"context"

	"ilp-connector/pkg/ilp"
)

// MaxPacketAmount rejects incoming packets larger than the limit with F08.
type MaxPacketAmount struct {
	Passthrough
	limit uint64
}

func NewMaxPacketAmount(limit uint64) *MaxPacketAmount {
	return &MaxPacketAmount{limit: limit}
}

func (r *MaxPacketAmount) Incoming(next ilp.Handler) ilp.Handler {
	return func(ctx context.Context, p *ilp.Prepare) (ilp.Reply, error) {
		if p.Amount > r.limit {
			return nil, ilp.AmountTooLargeError(p.Amount, r.limit)
		}
		return next(ctx, p)
	}
}
