package app

import (
	"context"
	"sync/atomic"

	"ilp-connector/pkg/endpoint"
	"ilp-connector/pkg/ilp"
	"ilp-connector/pkg/rules"
)

// pipelineEndpoint puts a peer's rule pipeline in front of its raw endpoint,
// so the connector only ever sees packets that passed the peer's rules. Once
// the peer is removed it refuses new packets; in-flight ones complete.
type pipelineEndpoint struct {
	peerID   string
	raw      endpoint.Endpoint
	pipeline *rules.Pipeline
	outgoing ilp.Handler
	removed  atomic.Bool
}

func newPipelineEndpoint(peerID string, raw endpoint.Endpoint, p *rules.Pipeline) *pipelineEndpoint {
	return &pipelineEndpoint{
		peerID:   peerID,
		raw:      raw,
		pipeline: p,
		outgoing: p.Outgoing(raw.SendOutgoingRequest),
	}
}

func (e *pipelineEndpoint) SendOutgoingRequest(ctx context.Context, p *ilp.Prepare) (ilp.Reply, error) {
	if e.removed.Load() {
		return nil, ilp.UnreachableError("peer %s has been removed", e.peerID)
	}
	return e.outgoing(ctx, p)
}

func (e *pipelineEndpoint) SetIncomingRequestHandler(h ilp.Handler) endpoint.Endpoint {
	incoming := e.pipeline.Incoming(h)
	e.raw.SetIncomingRequestHandler(func(ctx context.Context, p *ilp.Prepare) (ilp.Reply, error) {
		if e.removed.Load() {
			return ilp.UnreachableError("peer %s has been removed", e.peerID).Reject(""), nil
		}
		return incoming(ctx, p)
	})
	return e
}

func (e *pipelineEndpoint) markRemoved() {
	e.removed.Store(true)
}
