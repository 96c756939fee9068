// Package connector routes ILP packets between peers.
package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"ilp-connector/pkg/endpoint"
	"ilp-connector/pkg/ilp"
	"ilp-connector/pkg/model"
)

const (
	// PeerConfigAddress is answered locally with the child's address.
	PeerConfigAddress = "peer.config"
	// SettleAddress carries messages between settlement engines.
	SettleAddress = "peer.settle"

	addressFetchTimeout = 30 * time.Second
)

// PeerConfig is the payload of a peer.config fulfill.
type PeerConfig struct {
	ClientAddress string `json:"clientAddress"`
	AssetScale    int    `json:"assetScale"`
	AssetCode     string `json:"assetCode"`
}

// SettlementHandler handles settlement engine messages from a peer and returns the response data.
type SettlementHandler func(ctx context.Context, peerID string, data []byte) ([]byte, error)

type peerEntry struct {
	info     model.PeerInfo
	endpoint endpoint.Endpoint
}

type Connector struct {
	log   *zap.Logger
	table *RoutingTable

	mu           sync.RWMutex
	addresses    []string
	globalPrefix string
	peers        map[string]*peerEntry
	settle       SettlementHandler
}

func New(log *zap.Logger) *Connector {
	return &Connector{
		log:          log,
		table:        NewRoutingTable(),
		globalPrefix: "test",
		peers:        map[string]*peerEntry{},
	}
}

func (c *Connector) SetGlobalPrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.globalPrefix = prefix
}

func (c *Connector) GlobalPrefix() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.globalPrefix
}

func (c *Connector) SetSettlementHandler(h SettlementHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settle = h
}

// AddOwnAddress adds address and installs routes for children that did not
// have one yet.
func (c *Connector) AddOwnAddress(address string) {
	c.mu.Lock()
	for _, a := range c.addresses {
		if a == address {
			c.mu.Unlock()
			return
		}
	}
	if !strings.HasPrefix(address, c.globalPrefix+".") {
		c.log.Warn("own address outside global prefix", zap.String("address", address), zap.String("globalPrefix", c.globalPrefix))
	}
	c.addresses = append(c.addresses, address)
	first := len(c.addresses) == 1
	var children []string
	for id, p := range c.peers {
		if p.info.Relation == model.RelationChild {
			children = append(children, id)
		}
	}
	c.mu.Unlock()

	c.log.Info("own address added", zap.String("address", address))
	if first {
		for _, id := range children {
			c.table.Add(model.Route{Prefix: address + "." + id, PeerID: id})
		}
	}
}

// OwnAddress returns the primary address, or "" when none is known.
func (c *Connector) OwnAddress() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.addresses) == 0 {
		return ""
	}
	return c.addresses[0]
}

func (c *Connector) OwnAddresses() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.addresses...)
}

func (c *Connector) RemoveOwnAddress(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, a := range c.addresses {
		if a == address {
			c.addresses = append(c.addresses[:i], c.addresses[i+1:]...)
			return
		}
	}
}

func (c *Connector) AddRoute(r model.Route) error {
	c.mu.RLock()
	_, ok := c.peers[r.PeerID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("route %q: %w: %s", r.Prefix, model.ErrPeerNotFound, r.PeerID)
	}
	c.table.Add(r)
	return nil
}

func (c *Connector) RemoveRoute(prefix string) bool {
	return c.table.Remove(prefix)
}

func (c *Connector) Routes() []model.Route {
	return c.table.Routes()
}

// AddPeer registers the peer and installs the connector's packet handler on
// its endpoint. Children get a route under our address; a parent becomes the
// default route and, if we have no address yet, is asked for one.
func (c *Connector) AddPeer(ctx context.Context, info model.PeerInfo, ep endpoint.Endpoint) error {
	c.mu.Lock()
	if _, ok := c.peers[info.ID]; ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", model.ErrPeerExists, info.ID)
	}
	c.peers[info.ID] = &peerEntry{info: info, endpoint: ep}
	c.mu.Unlock()

	ep.SetIncomingRequestHandler(c.handlerFor(info.ID))

	switch info.Relation {
	case model.RelationChild:
		if own := c.OwnAddress(); own != "" {
			c.table.Add(model.Route{Prefix: own + "." + info.ID, PeerID: info.ID})
		}
	case model.RelationParent:
		if _, ok := c.table.Get(""); !ok {
			c.table.Add(model.Route{Prefix: "", PeerID: info.ID})
		}
		if c.OwnAddress() == "" {
			if err := c.fetchAddress(ctx, info.ID, ep); err != nil {
				c.log.Error("could not get address from parent", zap.String("peer", info.ID), zap.Error(err))
			}
		}
	}
	c.log.Info("peer added", zap.String("peer", info.ID), zap.String("relation", string(info.Relation)))
	return nil
}

func (c *Connector) fetchAddress(ctx context.Context, parentID string, ep endpoint.Endpoint) error {
	ctx, cancel := context.WithTimeout(ctx, addressFetchTimeout)
	defer cancel()
	reply, err := ep.SendOutgoingRequest(ctx, &ilp.Prepare{
		Destination:        PeerConfigAddress,
		ExecutionCondition: ilp.StaticCondition,
		ExpiresAt:          time.Now().Add(addressFetchTimeout),
	})
	if err != nil {
		return err
	}
	var f *ilp.Fulfill
	switch r := reply.(type) {
	case *ilp.Fulfill:
		f = r
	case *ilp.Reject:
		return fmt.Errorf("peer.config rejected: %s %s", r.Code, r.Message)
	default:
		return fmt.Errorf("peer.config: no reply from %s", parentID)
	}
	var cfg PeerConfig
	if err := json.Unmarshal(f.Data, &cfg); err != nil {
		return fmt.Errorf("decode peer.config: %w", err)
	}
	if cfg.ClientAddress == "" {
		return fmt.Errorf("parent %s returned an empty address", parentID)
	}
	c.AddOwnAddress(cfg.ClientAddress)
	return nil
}

// RemovePeer unregisters the peer and drops every route through it.
func (c *Connector) RemovePeer(id string) error {
	c.mu.Lock()
	_, ok := c.peers[id]
	delete(c.peers, id)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrPeerNotFound, id)
	}
	c.table.RemovePeer(id)
	c.log.Info("peer removed", zap.String("peer", id))
	return nil
}

func (c *Connector) PeerList() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.peers))
	for id := range c.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Connector) PeerInfo(id string) (model.PeerInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.peers[id]
	if !ok {
		return model.PeerInfo{}, false
	}
	return p.info, true
}

// SendOutgoingRequest sends p straight to peerID, skipping the routing table.
func (c *Connector) SendOutgoingRequest(ctx context.Context, peerID string, p *ilp.Prepare) (ilp.Reply, error) {
	c.mu.RLock()
	entry, ok := c.peers[peerID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrPeerNotFound, peerID)
	}
	return entry.endpoint.SendOutgoingRequest(ctx, p)
}

func (c *Connector) handlerFor(sourceID string) ilp.Handler {
	return func(ctx context.Context, p *ilp.Prepare) (ilp.Reply, error) {
		switch {
		case p.Destination == PeerConfigAddress:
			return c.handlePeerConfig(sourceID)
		case p.Destination == SettleAddress:
			return c.handleSettle(ctx, sourceID, p)
		case strings.HasPrefix(p.Destination, "peer."):
			return nil, ilp.UnreachableError("unknown peer protocol. destination=%s", p.Destination)
		}

		route, ok := c.table.Lookup(p.Destination)
		if !ok {
			return nil, ilp.UnreachableError("no route found. source=%s destination=%s", sourceID, p.Destination)
		}
		if route.PeerID == sourceID {
			return nil, ilp.UnreachableError("refusing to route packet back to its source. source=%s destination=%s", sourceID, p.Destination)
		}
		for _, hop := range route.Path {
			if hop == sourceID {
				return nil, ilp.UnreachableError("route loops through source. source=%s destination=%s", sourceID, p.Destination)
			}
		}
		c.log.Debug("forwarding packet", zap.String("source", sourceID), zap.String("nextHop", route.PeerID), zap.String("destination", p.Destination))
		reply, err := c.SendOutgoingRequest(ctx, route.PeerID, p)
		if errors.Is(err, model.ErrPeerNotFound) {
			return nil, ilp.UnreachableError("next hop %s is gone. destination=%s", route.PeerID, p.Destination)
		}
		return reply, err
	}
}

func (c *Connector) handlePeerConfig(sourceID string) (ilp.Reply, error) {
	info, ok := c.PeerInfo(sourceID)
	if !ok {
		return nil, ilp.UnreachableError("unknown peer %s", sourceID)
	}
	if info.Relation != model.RelationChild {
		return nil, ilp.UnreachableError("peer.config is only available to children")
	}
	own := c.OwnAddress()
	if own == "" {
		return nil, ilp.UnreachableError("connector has no address yet")
	}
	data, err := json.Marshal(PeerConfig{
		ClientAddress: own + "." + sourceID,
		AssetScale:    info.AssetScale,
		AssetCode:     info.AssetCode,
	})
	if err != nil {
		return nil, err
	}
	return &ilp.Fulfill{Fulfillment: ilp.StaticFulfillment, Data: data}, nil
}

func (c *Connector) handleSettle(ctx context.Context, sourceID string, p *ilp.Prepare) (ilp.Reply, error) {
	c.mu.RLock()
	h := c.settle
	c.mu.RUnlock()
	if h == nil {
		return nil, ilp.UnreachableError("settlement is not configured")
	}
	data, err := h(ctx, sourceID, p.Data)
	if err != nil {
		c.log.Warn("settlement message failed", zap.String("peer", sourceID), zap.Error(err))
		return nil, ilp.InternalError("settlement engine error")
	}
	return &ilp.Fulfill{Fulfillment: ilp.StaticFulfillment, Data: data}, nil
}
