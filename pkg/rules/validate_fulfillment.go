package rules

import (
	"context"

	"go.uber.org/zap"

	"ilp-connector/pkg/ilp"
)

// ValidateFulfillment checks that a Fulfill coming back from the peer is the
// preimage of the packet's condition.
type ValidateFulfillment struct {
	Passthrough
	log *zap.Logger
}

func NewValidateFulfillment(log *zap.Logger) *ValidateFulfillment {
	return &ValidateFulfillment{log: log}
}

func (r *ValidateFulfillment) Outgoing(next ilp.Handler) ilp.Handler {
	return func(ctx context.Context, p *ilp.Prepare) (ilp.Reply, error) {
		reply, err := next(ctx, p)
		if err != nil {
			return nil, err
		}
		if f, ok := reply.(*ilp.Fulfill); ok && !ilp.Fulfills(f.Fulfillment, p.ExecutionCondition) {
			r.log.Warn("received incorrect fulfillment",
				zap.String("destination", p.Destination),
				zap.Binary("fulfillment", f.Fulfillment[:]))
			return nil, ilp.WrongConditionError("fulfillment did not match expected value.")
		}
		return reply, nil
	}
}
