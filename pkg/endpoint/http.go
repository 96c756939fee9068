package endpoint

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"ilp-connector/pkg/ilp"
	"ilp-connector/pkg/model"
	"ilp-connector/pkg/version"
)

const maxPacketBytes = 1 << 20

// HTTPEndpoint sends packets by POSTing them to the peer's ILP-over-HTTP URL.
// Packets from the peer arrive through the Manager's handler.
type HTTPEndpoint struct {
	peerID  string
	opts    model.HTTPEndpointOptions
	client  *http.Client
	log     *zap.Logger
	mu      sync.RWMutex
	handler ilp.Handler
}

func NewHTTPEndpoint(peerID string, opts model.HTTPEndpointOptions, client *http.Client, log *zap.Logger) *HTTPEndpoint {
	return &HTTPEndpoint{peerID: peerID, opts: opts, client: client, log: log}
}

func (e *HTTPEndpoint) SendOutgoingRequest(ctx context.Context, p *ilp.Prepare) (ilp.Reply, error) {
	if e.opts.PeerURL == "" {
		return nil, ilp.PeerUnreachableError("no url configured for peer %s", e.peerID)
	}
	body, err := ilp.MarshalPrepare(p)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.opts.PeerURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if e.opts.PeerAuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+e.opts.PeerAuthToken)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.log.Warn("peer request failed", zap.String("peer", e.peerID), zap.Error(err))
		return nil, ilp.PeerUnreachableError("failed to reach peer %s", e.peerID)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPacketBytes))
	if err != nil {
		return nil, ilp.PeerUnreachableError("failed to read reply from peer %s", e.peerID)
	}
	if resp.StatusCode != http.StatusOK {
		e.log.Warn("peer returned error status", zap.String("peer", e.peerID), zap.Int("status", resp.StatusCode), zap.ByteString("body", raw))
		return nil, ilp.PeerUnreachableError("peer %s responded with status %d", e.peerID, resp.StatusCode)
	}
	reply, err := ilp.UnmarshalReply(raw)
	if err != nil {
		return nil, ilp.PeerUnreachableError("invalid reply from peer %s: %v", e.peerID, err)
	}
	return reply, nil
}

func (e *HTTPEndpoint) SetIncomingRequestHandler(h ilp.Handler) Endpoint {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
	return e
}

func (e *HTTPEndpoint) handleIncoming(ctx context.Context, p *ilp.Prepare) (ilp.Reply, error) {
	e.mu.RLock()
	h := e.handler
	e.mu.RUnlock()
	if h == nil {
		return nil, ilp.UnreachableError("peer %s has no handler", e.peerID)
	}
	return h(ctx, p)
}
