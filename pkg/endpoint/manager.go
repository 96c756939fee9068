package endpoint

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/hashicorp/go-cleanhttp"
	"go.uber.org/zap"

	"ilp-connector/pkg/auth"
	"ilp-connector/pkg/ilp"
	"ilp-connector/pkg/model"
)

// ManagerOptions configures the ILP-over-HTTP server side.
type ManagerOptions struct {
	// Path prefix of the incoming packet route, "/ilp" by default.
	Path string
	// RequestsPerSecond per client IP; zero disables the limiter.
	RequestsPerSecond float64
	Burst             int
}

// Manager owns the endpoints of all peers and serves incoming ILP over HTTP.
type Manager struct {
	opts    ManagerOptions
	client  *http.Client
	limiter *ipLimiter
	log     *zap.Logger

	mu        sync.RWMutex
	endpoints map[string]Endpoint
}

func NewManager(opts ManagerOptions, log *zap.Logger) *Manager {
	if opts.Path == "" {
		opts.Path = "/ilp"
	}
	opts.Path = "/" + strings.Trim(opts.Path, "/")
	if opts.Burst <= 0 {
		opts.Burst = int(opts.RequestsPerSecond) + 1
	}
	return &Manager{
		opts:      opts,
		client:    cleanhttp.DefaultPooledClient(),
		limiter:   newIPLimiter(opts.RequestsPerSecond, opts.Burst),
		log:       log,
		endpoints: map[string]Endpoint{},
	}
}

// Create builds the endpoint described by info for peerID.
func (m *Manager) Create(peerID string, info model.EndpointInfo) (Endpoint, error) {
	var ep Endpoint
	switch info.Type {
	case model.EndpointHTTP:
		if info.HTTP == nil {
			return nil, fmt.Errorf("%w: httpOpts for peer %s", ErrMissingOptions, peerID)
		}
		ep = NewHTTPEndpoint(peerID, *info.HTTP, m.client, m.log.Named("http"))
	case model.EndpointPlugin:
		if info.Plugin == nil || info.Plugin.URL == "" {
			return nil, fmt.Errorf("%w: pluginOpts for peer %s", ErrMissingOptions, peerID)
		}
		ep = NewPluginEndpoint(peerID, *info.Plugin, m.log.Named("plugin"))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEndpoint, info.Type)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.endpoints[peerID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrEndpointExists, peerID)
	}
	m.endpoints[peerID] = ep
	return ep, nil
}

func (m *Manager) Get(peerID string) (Endpoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ep, ok := m.endpoints[peerID]
	return ep, ok
}

// Close removes the peer's endpoint and releases its connection.
func (m *Manager) Close(peerID string) error {
	m.mu.Lock()
	ep, ok := m.endpoints[peerID]
	delete(m.endpoints, peerID)
	m.mu.Unlock()
	if !ok {
		return ErrEndpointNotFound
	}
	if c, ok := ep.(Closer); ok {
		return c.Close()
	}
	return nil
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	eps := m.endpoints
	m.endpoints = map[string]Endpoint{}
	m.mu.Unlock()
	for id, ep := range eps {
		if c, ok := ep.(Closer); ok {
			if err := c.Close(); err != nil {
				m.log.Warn("close endpoint", zap.String("peer", id), zap.Error(err))
			}
		}
	}
	m.limiter.close()
}

// Handler serves POST {path}/{peerID}.
func (m *Manager) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+m.opts.Path+"/{peerID}", m.handlePacket)
	return mux
}

func (m *Manager) handlePacket(w http.ResponseWriter, r *http.Request) {
	if !m.limiter.allow(r) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}
	peerID := r.PathValue("peerID")
	m.mu.RLock()
	ep, _ := m.endpoints[peerID].(*HTTPEndpoint)
	m.mu.RUnlock()
	if ep == nil {
		http.Error(w, "unknown peer", http.StatusNotFound)
		return
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if err := auth.VerifyPeer(peerID, token, ep.opts.IncomingTokenHash); err != nil {
		m.log.Debug("rejected packet with bad credentials", zap.String("peer", peerID), zap.String("remote", clientIP(r)))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPacketBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	p, err := ilp.UnmarshalPrepare(body)
	if err != nil {
		http.Error(w, "invalid packet", http.StatusBadRequest)
		return
	}

	reply, err := ep.handleIncoming(r.Context(), p)
	if err != nil {
		reply = rejectFromError(err)
	}
	out, err := ilp.MarshalReply(reply)
	if err != nil {
		m.log.Error("encode reply", zap.String("peer", peerID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}
