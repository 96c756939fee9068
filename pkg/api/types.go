package api

import (
	"encoding/json"
	"net/http"
	"time"

	"ilp-connector/pkg/model"
)

// AddPeerRequest is the body of POST /api/v1/peers.
type AddPeerRequest struct {
	Peer     model.PeerInfo     `json:"peerInfo"`
	Endpoint model.EndpointInfo `json:"endpointInfo"`
}

type AddRouteRequest struct {
	Prefix string `json:"prefix"`
	PeerID string `json:"peerId"`
}

// PeerTokenResponse carries a bearer token the peer uses against our ILP endpoint.
type PeerTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SettlementRequest is sent by the settlement engine when the peer settled with us.
type SettlementRequest struct {
	Amount string `json:"amount"`
	Scale  int    `json:"scale"`
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxMessageBytes))
	return dec.Decode(v)
}
