package model

// EndpointType selects the transport used to reach a peer.
type EndpointType string

const (
	EndpointHTTP   EndpointType = "http"
	EndpointPlugin EndpointType = "plugin"
)

// EndpointInfo is the transport configuration for a peer.
type EndpointInfo struct {
	Type   EndpointType           `json:"type" yaml:"type"`
	HTTP   *HTTPEndpointOptions   `json:"httpOpts,omitempty" yaml:"httpOpts,omitempty"`
	Plugin *PluginEndpointOptions `json:"pluginOpts,omitempty" yaml:"pluginOpts,omitempty"`
}

// HTTPEndpointOptions configures ILP-over-HTTP.
type HTTPEndpointOptions struct {
	// PeerURL is where outgoing packets are posted.
	PeerURL string `json:"peerUrl" yaml:"peerUrl"`
	// PeerAuthToken is the bearer token presented to the peer.
	PeerAuthToken string `json:"peerAuthToken,omitempty" yaml:"peerAuthToken,omitempty"`
	// IncomingTokenHash is the bcrypt hash the peer's own bearer token must match.
	IncomingTokenHash string `json:"incomingTokenHash,omitempty" yaml:"incomingTokenHash,omitempty"`
}

// PluginEndpointOptions configures the websocket plugin transport.
type PluginEndpointOptions struct {
	URL       string `json:"url" yaml:"url"`
	AuthToken string `json:"authToken,omitempty" yaml:"authToken,omitempty"`
}
