package model

import "time"

// Alert records a repeated policy problem with a peer, e.g. it keeps hitting its maximum balance.
type Alert struct {
	ID          string    `json:"id"`
	PeerID      string    `json:"peerId"`
	TriggeredBy string    `json:"triggeredBy"`
	Message     string    `json:"message"`
	Count       int       `json:"count"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
