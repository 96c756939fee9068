// Package rules holds the per-peer packet policies and the pipeline that
// composes them around a peer's endpoint.
package rules

import (
	"context"

	"ilp-connector/pkg/ilp"
)

// Rule wraps the handlers of one direction. Incoming sees packets the peer sent
// us; Outgoing sees packets we forward to the peer.
type Rule interface {
	Incoming(next ilp.Handler) ilp.Handler
	Outgoing(next ilp.Handler) ilp.Handler
	Startup(ctx context.Context) error
	Shutdown()
}

// Passthrough is a Rule that does nothing. Rules embed it and override the
// directions they act on.
type Passthrough struct{}

func (Passthrough) Incoming(next ilp.Handler) ilp.Handler { return next }
func (Passthrough) Outgoing(next ilp.Handler) ilp.Handler { return next }
func (Passthrough) Startup(context.Context) error { return nil }
func (Passthrough) Shutdown() {}
