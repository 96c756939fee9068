package rules

import (
	"context"
	"fmt"
	"time"

	"ilp-connector/pkg/ilp"
)

// Expire bounds an outgoing packet by its expiry. The downstream call runs with
// a context deadline at ExpiresAt and is abandoned if it outlives it. A panic
// below this rule comes back as an error so ErrorHandler can reject it.
type Expire struct {
	Passthrough
	now func() time.Time
}

func NewExpire() *Expire {
	return &Expire{now: time.Now}
}

type handlerResult struct {
	reply ilp.Reply
	err   error
}

func (r *Expire) Outgoing(next ilp.Handler) ilp.Handler {
	return func(ctx context.Context, p *ilp.Prepare) (ilp.Reply, error) {
		if !p.ExpiresAt.After(r.now()) {
			return nil, ilp.TransferTimedOutError("packet expired before it could be forwarded")
		}

		ctx, cancel := context.WithDeadline(ctx, p.ExpiresAt)
		defer cancel()

		done := make(chan handlerResult, 1)
		go func() {
			defer func() {
				if v := recover(); v != nil {
					err, ok := v.(error)
					if !ok {
						err = fmt.Errorf("%v", v)
					}
					done <- handlerResult{err: fmt.Errorf("panic while forwarding packet: %w", err)}
				}
			}()
			reply, err := next(ctx, p)
			done <- handlerResult{reply, err}
		}()

		select {
		case res := <-done:
			if res.err != nil && ctx.Err() == context.DeadlineExceeded {
				return nil, ilp.TransferTimedOutError("packet expired")
			}
			return res.reply, res.err
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return nil, ilp.TransferTimedOutError("packet expired")
			}
			return nil, ctx.Err()
		}
	}
}
