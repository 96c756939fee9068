// Package settlement talks to a peer's settlement engine over its HTTP API.
package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-cleanhttp"
	"go.uber.org/zap"

	"ilp-connector/pkg/version"
)

var ErrEngine = errors.New("settlement engine error")

const maxResponseBytes = 1 << 20

// Client is bound to one engine base URL.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func NewClient(baseURL string, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    cleanhttp.DefaultPooledClient(),
		log:     log,
	}
}

type settleRequest struct {
	Amount string `json:"amount"`
	Scale  int    `json:"scale"`
}

// Settle asks the engine to pay amount (at scale) to the peer.
func (c *Client) Settle(ctx context.Context, peerID string, amount *big.Int, scale int) error {
	body, err := json.Marshal(settleRequest{Amount: amount.String(), Scale: scale})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.accountURL(peerID, "settlements"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())

	_, err = c.do(req)
	if err != nil {
		return fmt.Errorf("settle %s with %s: %w", amount, peerID, err)
	}
	c.log.Debug("settlement requested", zap.String("peer", peerID), zap.String("amount", amount.String()), zap.Int("scale", scale))
	return nil
}

// SendMessage hands an opaque message from the peer's engine to ours and
// returns our engine's response.
func (c *Client) SendMessage(ctx context.Context, peerID string, msg []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.accountURL(peerID, "messages"), bytes.NewReader(msg))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	out, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("send message for %s: %w", peerID, err)
	}
	return out, nil
}

func (c *Client) accountURL(peerID, action string) string {
	return c.baseURL + "/accounts/" + url.PathEscape(peerID) + "/" + action
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrEngine, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
