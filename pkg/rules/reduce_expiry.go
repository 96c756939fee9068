package rules

import (
	"context"
	"time"

	"ilp-connector/pkg/ilp"
)

// ReduceExpiry shortens a packet's expiry so this hop keeps at least the
// minimum window for itself, and caps how long we hold funds for it.
type ReduceExpiry struct {
	Passthrough
	minIncoming time.Duration
	minOutgoing time.Duration
	maxHold     time.Duration
	now         func() time.Time
}

func NewReduceExpiry(minIncoming, minOutgoing, maxHold time.Duration) *ReduceExpiry {
	return &ReduceExpiry{
		minIncoming: minIncoming,
		minOutgoing: minOutgoing,
		maxHold:     maxHold,
		now:         time.Now,
	}
}

func (r *ReduceExpiry) Incoming(next ilp.Handler) ilp.Handler {
	return r.wrap(next, r.minIncoming)
}

func (r *ReduceExpiry) Outgoing(next ilp.Handler) ilp.Handler {
	return r.wrap(next, r.minOutgoing)
}

func (r *ReduceExpiry) wrap(next ilp.Handler, minWindow time.Duration) ilp.Handler {
	return func(ctx context.Context, p *ilp.Prepare) (ilp.Reply, error) {
		q, err := r.reduce(p, minWindow)
		if err != nil {
			return nil, err
		}
		return next(ctx, q)
	}
}

func (r *ReduceExpiry) reduce(p *ilp.Prepare, minWindow time.Duration) (*ilp.Prepare, error) {
	now := r.now()
	if !p.ExpiresAt.After(now) {
		return nil, ilp.InsufficientTimeoutError("source transfer has already expired. sourceExpiry=%s currentTime=%s",
			p.ExpiresAt.UTC().Format(time.RFC3339Nano), now.UTC().Format(time.RFC3339Nano))
	}

	dest := p.ExpiresAt.Add(-minWindow)
	if ceiling := now.Add(r.maxHold); dest.After(ceiling) {
		dest = ceiling
	}
	if dest.Sub(now) < minWindow {
		return nil, ilp.InsufficientTimeoutError("source transfer expires too soon to complete payment. actualSourceExpiry=%s requiredSourceExpiry=%s currentTime=%s",
			p.ExpiresAt.UTC().Format(time.RFC3339Nano),
			now.Add(2*minWindow).UTC().Format(time.RFC3339Nano),
			now.UTC().Format(time.RFC3339Nano))
	}
	return p.WithExpiry(dest), nil
}
