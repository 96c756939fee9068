// Package app assembles a running connector: it owns every per-peer resource
// and keeps the connector, endpoints, balances and store in step as peers and
// routes come and go.
package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ilp-connector/pkg/balance"
	"ilp-connector/pkg/connector"
	"ilp-connector/pkg/endpoint"
	"ilp-connector/pkg/ilp"
	"ilp-connector/pkg/model"
	"ilp-connector/pkg/rules"
	"ilp-connector/pkg/store"
)

const (
	// UnknownAddress in the configuration means the address comes from a parent.
	UnknownAddress = "unknown"

	settlementMessageExpiry = time.Minute
)

var (
	ErrPeerNotFound       = model.ErrPeerNotFound
	ErrPeerExists         = model.ErrPeerExists
	ErrInvalidPeer        = errors.New("invalid peer")
	ErrInvalidSettlement  = rules.ErrInvalidSettlement
	ErrRouteNotFound      = errors.New("route not found")
	ErrSettlementRejected = errors.New("settlement message rejected")
	ErrNoSettlementEngine = errors.New("peer has no settlement engine")
)

type Config struct {
	// ILPAddress of this connector; empty or "unknown" to inherit one from a parent.
	ILPAddress string
	// Env "production" selects the "g" global prefix, anything else "test".
	Env                 string
	MinExpirationWindow time.Duration
	MaxHoldWindow       time.Duration
	Endpoints           endpoint.ManagerOptions
}

// Deps are optional collaborators. A nil Store keeps state in memory; a nil
// Redis client rules out the redis rate limit backend.
type Deps struct {
	Store store.Store
	Redis redis.Scripter
	Log   *zap.Logger
}

type App struct {
	cfg       Config
	log       *zap.Logger
	store     store.Store
	redis     redis.Scripter
	connector *connector.Connector
	endpoints *endpoint.Manager
	balances  *balance.Book
	stats     *rules.Stats
	alerts    *rules.Alerts

	mu    sync.RWMutex
	peers map[string]*peerState
}

func New(cfg Config, deps Deps) *App {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MinExpirationWindow <= 0 {
		cfg.MinExpirationWindow = time.Second
	}
	if cfg.MaxHoldWindow <= 0 {
		cfg.MaxHoldWindow = 30 * time.Second
	}
	st := deps.Store
	if st == nil {
		st = store.NewMemoryStore()
	}
	a := &App{
		cfg:       cfg,
		log:       log.Named("app"),
		store:     st,
		redis:     deps.Redis,
		connector: connector.New(log.Named("connector")),
		endpoints: endpoint.NewManager(cfg.Endpoints, log.Named("endpoint")),
		balances:  balance.NewBook(),
		stats:     rules.NewStats(),
		alerts:    rules.NewAlerts(),
		peers:     map[string]*peerState{},
	}
	if cfg.Env == "production" {
		a.connector.SetGlobalPrefix("g")
	} else {
		a.connector.SetGlobalPrefix("test")
	}
	a.connector.SetSettlementHandler(a.handleSettlementMessage)
	return a
}

func (a *App) Connector() *connector.Connector { return a.connector }
func (a *App) Stats() *rules.Stats { return a.stats }

// Handler serves incoming ILP over HTTP for every HTTP peer.
func (a *App) Handler() http.Handler {
	return a.endpoints.Handler()
}

// Start sets the configured address and brings back the persisted peers and routes.
func (a *App) Start(ctx context.Context) error {
	a.log.Info("starting connector")
	if addr := a.cfg.ILPAddress; addr != "" && addr != UnknownAddress {
		a.connector.AddOwnAddress(addr)
	}
	return a.loadFromStore(ctx)
}

func (a *App) loadFromStore(ctx context.Context) error {
	peers, err := a.store.ListPeers()
	if err != nil {
		return fmt.Errorf("list peers: %w", err)
	}
	for _, p := range peers {
		if err := a.AddPeer(ctx, p.Info, p.Endpoint, false); err != nil {
			a.log.Error("could not load peer", zap.String("peer", p.Info.ID), zap.Error(err))
		}
	}
	routes, err := a.store.ListRoutes()
	if err != nil {
		return fmt.Errorf("list routes: %w", err)
	}
	for _, r := range routes {
		if err := a.AddRoute(r.Prefix, r.PeerID, false); err != nil {
			a.log.Error("could not load route", zap.String("prefix", r.Prefix), zap.Error(err))
		}
	}
	a.log.Info("loaded state from store", zap.Int("peers", len(peers)), zap.Int("routes", len(routes)))
	return nil
}

// AddPeer builds the peer's rules and endpoint, registers it with the
// connector and starts the rules. With persist the peer is saved to the store.
func (a *App) AddPeer(ctx context.Context, info model.PeerInfo, ep model.EndpointInfo, persist bool) error {
	if info.ID == "" {
		return fmt.Errorf("%w: id required", ErrInvalidPeer)
	}
	if !info.Relation.Valid() {
		return fmt.Errorf("%w: %s has relation %q", ErrInvalidPeer, info.ID, info.Relation)
	}
	a.mu.RLock()
	_, exists := a.peers[info.ID]
	a.mu.RUnlock()
	if exists {
		return fmt.Errorf("%w: %s", ErrPeerExists, info.ID)
	}
	a.log.Info("adding peer", zap.String("peer", info.ID), zap.String("relation", string(info.Relation)), zap.String("endpoint", string(ep.Type)))

	st, err := a.createRules(info)
	if err != nil {
		return err
	}
	st.endpoint = ep

	raw, err := a.endpoints.Create(info.ID, ep)
	if err != nil {
		st.pipeline.Shutdown()
		return err
	}
	st.wrapper = newPipelineEndpoint(info.ID, raw, st.pipeline)

	if err := st.pipeline.Startup(ctx); err != nil {
		if err := a.endpoints.Close(info.ID); err != nil {
			a.log.Warn("close endpoint", zap.String("peer", info.ID), zap.Error(err))
		}
		return fmt.Errorf("start rules for peer %s: %w", info.ID, err)
	}

	a.mu.Lock()
	if _, ok := a.peers[info.ID]; ok {
		a.mu.Unlock()
		st.pipeline.Shutdown()
		if err := a.endpoints.Close(info.ID); err != nil {
			a.log.Warn("close endpoint", zap.String("peer", info.ID), zap.Error(err))
		}
		return fmt.Errorf("%w: %s", ErrPeerExists, info.ID)
	}
	a.peers[info.ID] = st
	a.mu.Unlock()
	if st.balance != nil {
		a.balances.Add(info.ID, st.balance)
	}

	// the address handshake with a parent needs the transport up
	if c, ok := raw.(endpoint.Connector); ok {
		if err := c.Connect(ctx); err != nil {
			a.log.Error("plugin endpoint failed to connect", zap.String("peer", info.ID), zap.Error(err))
		}
	}

	if err := a.connector.AddPeer(ctx, info, st.wrapper); err != nil {
		a.release(info.ID, st)
		return err
	}

	if persist {
		if err := a.store.SavePeer(model.PeerRecord{Info: info, Endpoint: ep}); err != nil {
			a.log.Error("could not save peer", zap.String("peer", info.ID), zap.Error(err))
		}
	}
	return nil
}

// RemovePeer tears down everything AddPeer built. Packets already in flight
// complete; new ones are rejected with F02.
func (a *App) RemovePeer(ctx context.Context, id string, persist bool) error {
	a.mu.RLock()
	st, ok := a.peers[id]
	a.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrPeerNotFound, id)
	}
	a.log.Info("removing peer", zap.String("peer", id))

	st.wrapper.markRemoved()
	if err := a.connector.RemovePeer(id); err != nil {
		a.log.Warn("connector did not know peer", zap.String("peer", id), zap.Error(err))
	}
	a.release(id, st)

	if persist {
		if err := a.store.DeletePeer(id); err != nil {
			a.log.Error("could not delete peer from store", zap.String("peer", id), zap.Error(err))
		}
	}
	return nil
}

func (a *App) release(id string, st *peerState) {
	a.mu.Lock()
	if a.peers[id] == st {
		delete(a.peers, id)
	}
	a.mu.Unlock()
	st.wrapper.markRemoved()
	if err := a.endpoints.Close(id); err != nil {
		a.log.Warn("close endpoint", zap.String("peer", id), zap.Error(err))
	}
	if st.balance != nil {
		a.balances.Remove(id)
	}
	st.pipeline.Shutdown()
}

// Shutdown removes every peer without touching the store.
func (a *App) Shutdown(ctx context.Context) {
	a.log.Info("shutting down connector")
	for _, id := range a.PeerIDs() {
		if err := a.RemovePeer(ctx, id, false); err != nil {
			a.log.Warn("remove peer", zap.String("peer", id), zap.Error(err))
		}
	}
	a.endpoints.CloseAll()
}

func (a *App) PeerIDs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]string, 0, len(a.peers))
	for id := range a.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Peers returns the configuration of every peer, ordered by id.
func (a *App) Peers() []model.PeerRecord {
	a.mu.RLock()
	out := make([]model.PeerRecord, 0, len(a.peers))
	for _, st := range a.peers {
		out = append(out, model.PeerRecord{Info: st.info, Endpoint: st.endpoint})
	}
	a.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Info.ID < out[j].Info.ID })
	return out
}

// Rules returns the peer's rules in pipeline order, or nil for an unknown peer.
func (a *App) Rules(id string) []rules.Rule {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st, ok := a.peers[id]
	if !ok {
		return nil
	}
	return st.pipeline.Rules()
}

func (a *App) Balance(id string) (model.BalanceSummary, error) {
	b, err := a.balances.Get(id)
	if err != nil {
		return model.BalanceSummary{}, err
	}
	return b.Summary(), nil
}

func (a *App) Balances() map[string]model.BalanceSummary {
	return a.balances.Summaries()
}

// UpdateBalance applies amountDiff, expressed at scale, to the peer's balance.
// A diff finer than the ledger's scale cannot be represented and is dropped.
func (a *App) UpdateBalance(id string, amountDiff *big.Int, scale int) error {
	applied, err := a.balances.UpdateScaled(id, amountDiff, scale)
	if err != nil {
		return err
	}
	if !applied {
		a.log.Warn("could not adjust balance due to scale differences",
			zap.String("peer", id), zap.String("amount", amountDiff.String()), zap.Int("scale", scale))
	}
	return nil
}

// AddRoute sends packets for prefix to peerID.
func (a *App) AddRoute(prefix, peerID string, persist bool) error {
	a.log.Info("adding route", zap.String("prefix", prefix), zap.String("peer", peerID))
	r := model.Route{Prefix: prefix, PeerID: peerID}
	if err := a.connector.AddRoute(r); err != nil {
		return err
	}
	if persist {
		if err := a.store.SaveRoute(r); err != nil {
			a.log.Error("could not save route", zap.String("prefix", prefix), zap.Error(err))
		}
	}
	return nil
}

func (a *App) RemoveRoute(prefix string, persist bool) error {
	if !a.connector.RemoveRoute(prefix) {
		return fmt.Errorf("%w: %q", ErrRouteNotFound, prefix)
	}
	a.log.Info("removed route", zap.String("prefix", prefix))
	if persist {
		if err := a.store.DeleteRoute(prefix); err != nil {
			a.log.Error("could not delete route", zap.String("prefix", prefix), zap.Error(err))
		}
	}
	return nil
}

func (a *App) Routes() []model.Route {
	return a.connector.Routes()
}

func (a *App) Alerts() []model.Alert {
	return a.alerts.List()
}

func (a *App) DismissAlert(id string) error {
	return a.alerts.Dismiss(id)
}

// ForwardSettlementMessage carries a message from our settlement engine to the
// peer's engine and returns its answer.
func (a *App) ForwardSettlementMessage(ctx context.Context, peerID string, msg []byte) ([]byte, error) {
	a.log.Debug("forwarding settlement message", zap.String("peer", peerID), zap.Int("bytes", len(msg)))
	reply, err := a.connector.SendOutgoingRequest(ctx, peerID, &ilp.Prepare{
		Amount:             0,
		Destination:        connector.SettleAddress,
		ExecutionCondition: ilp.StaticCondition,
		ExpiresAt:          time.Now().Add(settlementMessageExpiry),
		Data:               msg,
	})
	if err != nil {
		return nil, err
	}
	switch r := reply.(type) {
	case *ilp.Fulfill:
		return r.Data, nil
	case *ilp.Reject:
		return nil, fmt.Errorf("%w: %s %s", ErrSettlementRejected, r.Code, r.Message)
	default:
		return nil, fmt.Errorf("%w: no reply", ErrSettlementRejected)
	}
}

// handleSettlementMessage passes a peer.settle message from peerID to our engine.
func (a *App) handleSettlementMessage(ctx context.Context, peerID string, data []byte) ([]byte, error) {
	a.mu.RLock()
	st, ok := a.peers[peerID]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPeerNotFound, peerID)
	}
	if st.settler == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSettlementEngine, peerID)
	}
	return st.settler.SendMessage(ctx, peerID, data)
}
