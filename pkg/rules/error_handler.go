package rules

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"ilp-connector/pkg/ilp"
)

// ErrorHandler turns errors and panics from the rest of the incoming chain into
// Rejects triggered by this connector.
type ErrorHandler struct {
	Passthrough
	address func() string
	log     *zap.Logger
}

func NewErrorHandler(address func() string, log *zap.Logger) *ErrorHandler {
	return &ErrorHandler{address: address, log: log}
}

func (r *ErrorHandler) Incoming(next ilp.Handler) ilp.Handler {
	return func(ctx context.Context, p *ilp.Prepare) (reply ilp.Reply, err error) {
		defer func() {
			if v := recover(); v != nil {
				r.log.Error("panic while handling packet",
					zap.String("destination", p.Destination),
					zap.Any("panic", v),
					zap.Stack("stack"))
				perr, ok := v.(error)
				if !ok {
					perr = fmt.Errorf("%v", v)
				}
				reply, err = r.reject(perr), nil
			}
		}()

		reply, err = next(ctx, p)
		if err != nil {
			r.log.Debug("rejecting packet", zap.String("destination", p.Destination), zap.Error(err))
			return r.reject(err), nil
		}
		if reply == nil {
			return r.reject(errors.New("handler returned no reply")), nil
		}
		return reply, nil
	}
}

func (r *ErrorHandler) reject(err error) *ilp.Reject {
	var ie *ilp.Error
	if !errors.As(err, &ie) {
		ie = &ilp.Error{Code: ilp.CodeBadRequest, Message: err.Error()}
	}
	return ie.Reject(r.address())
}
