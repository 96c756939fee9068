package store

import (
	"errors"

	"ilp-connector/pkg/model"
)

var ErrNotFound = errors.New("not found")

// Store persists peers and static routes so they survive a restart.
// Implementations must be safe for concurrent use.
type Store interface {
	ListPeers() ([]model.PeerRecord, error)
	SavePeer(model.PeerRecord) error
	// DeletePeer also drops the routes through the peer.
	DeletePeer(id string) error
	ListRoutes() ([]model.Route, error)
	SaveRoute(model.Route) error
	DeleteRoute(prefix string) error
}

