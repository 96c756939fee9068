package model

// Route maps an address prefix to the peer packets for it are sent to.
type Route struct {
	Prefix string   `json:"prefix" yaml:"prefix"`
	PeerID string   `json:"peerId" yaml:"peerId"`
	Path   []string `json:"path,omitempty" yaml:"path,omitempty"` // peers beyond PeerID; packets from them are not routed back
}
