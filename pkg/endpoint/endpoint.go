// Package endpoint connects the connector to its peers: ILP over HTTP in both
// directions and a websocket plugin client.
package endpoint

import (
	"context"
	"errors"

	"ilp-connector/pkg/ilp"
)

var (
	ErrEndpointExists   = errors.New("endpoint already exists")
	ErrUnknownEndpoint  = errors.New("unknown endpoint type")
	ErrMissingOptions   = errors.New("endpoint options missing")
	ErrNotConnected     = errors.New("endpoint not connected")
	ErrEndpointNotFound = errors.New("endpoint not found")
)

// Endpoint exchanges packets with one peer.
type Endpoint interface {
	SendOutgoingRequest(ctx context.Context, p *ilp.Prepare) (ilp.Reply, error)
	// SetIncomingRequestHandler installs the handler for packets the peer sends us.
	SetIncomingRequestHandler(h ilp.Handler) Endpoint
}

// Connector is implemented by endpoints that hold a connection open.
type Connector interface {
	Connect(ctx context.Context) error
}

// Closer is implemented by endpoints that own resources.
type Closer interface {
	Close() error
}
