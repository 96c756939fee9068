// Package api serves the connector's admin API and the callbacks used by
// settlement engines.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ilp-connector/pkg/app"
	"ilp-connector/pkg/auth"
	"ilp-connector/pkg/model"
	"ilp-connector/pkg/rules"
	"ilp-connector/pkg/version"
)

const defaultPeerTokenTTL = 365 * 24 * time.Hour

// Service is the part of the connector the API drives. *app.App implements it.
type Service interface {
	AddPeer(ctx context.Context, info model.PeerInfo, ep model.EndpointInfo, persist bool) error
	RemovePeer(ctx context.Context, id string, persist bool) error
	Peers() []model.PeerRecord
	AddRoute(prefix, peerID string, persist bool) error
	RemoveRoute(prefix string, persist bool) error
	Routes() []model.Route
	Balance(id string) (model.BalanceSummary, error)
	Balances() map[string]model.BalanceSummary
	UpdateBalance(id string, amountDiff *big.Int, scale int) error
	ForwardSettlementMessage(ctx context.Context, peerID string, msg []byte) ([]byte, error)
	Alerts() []model.Alert
	DismissAlert(id string) error
}

var _ Service = (*app.App)(nil)

type Options struct {
	// Token guards the admin routes; empty disables auth.
	Token string
	// Registry is exposed on /metrics when set.
	Registry *prometheus.Registry
	Log      *zap.Logger
}

// RegisterRoutes wires the admin handlers on the provided mux.
func RegisterRoutes(mux *http.ServeMux, svc Service, opts Options) {
	authorized := authFunc(opts.Token)
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": version.Build})
	})

	if opts.Registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("/api/v1/peers", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, svc.Peers())
		case http.MethodPost:
			var req AddPeerRequest
			if err := decodeJSON(r, &req); err != nil {
				http.Error(w, "invalid payload", http.StatusBadRequest)
				return
			}
			if req.Peer.ID == "" {
				http.Error(w, "peerInfo.id is required", http.StatusBadRequest)
				return
			}
			if err := svc.AddPeer(r.Context(), req.Peer, req.Endpoint, true); err != nil {
				log.Warn("add peer failed", zap.String("peer", req.Peer.ID), zap.Error(err))
				http.Error(w, err.Error(), statusOf(err))
				return
			}
			writeJSON(w, http.StatusCreated, model.PeerRecord{Info: req.Peer, Endpoint: req.Endpoint})
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// /api/v1/peers/{id} and /api/v1/peers/{id}/token
	mux.HandleFunc("/api/v1/peers/", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		rest := strings.TrimPrefix(r.URL.Path, "/api/v1/peers/")
		id, action, _ := strings.Cut(rest, "/")
		if id == "" {
			http.Error(w, "peer id is required", http.StatusBadRequest)
			return
		}
		switch {
		case action == "" && r.Method == http.MethodDelete:
			if err := svc.RemovePeer(r.Context(), id, true); err != nil {
				http.Error(w, err.Error(), statusOf(err))
				return
			}
			w.WriteHeader(http.StatusNoContent)
		case action == "token" && r.Method == http.MethodPost:
			issuePeerToken(w, r, svc, id)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/v1/routes", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, svc.Routes())
		case http.MethodPost:
			var req AddRouteRequest
			if err := decodeJSON(r, &req); err != nil {
				http.Error(w, "invalid payload", http.StatusBadRequest)
				return
			}
			if req.PeerID == "" {
				http.Error(w, "peerId is required", http.StatusBadRequest)
				return
			}
			if err := svc.AddRoute(req.Prefix, req.PeerID, true); err != nil {
				http.Error(w, err.Error(), statusOf(err))
				return
			}
			writeJSON(w, http.StatusCreated, model.Route{Prefix: req.Prefix, PeerID: req.PeerID})
		case http.MethodDelete:
			// the default route has an empty prefix, so presence of the parameter matters
			q := r.URL.Query()
			if !q.Has("prefix") {
				http.Error(w, "prefix is required", http.StatusBadRequest)
				return
			}
			if err := svc.RemoveRoute(q.Get("prefix"), true); err != nil {
				http.Error(w, err.Error(), statusOf(err))
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/v1/balances", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, svc.Balances())
	})

	mux.HandleFunc("/api/v1/balances/", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/api/v1/balances/")
		sum, err := svc.Balance(id)
		if err != nil {
			http.Error(w, err.Error(), statusOf(err))
			return
		}
		writeJSON(w, http.StatusOK, sum)
	})

	mux.HandleFunc("/api/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, svc.Alerts())
	})

	mux.HandleFunc("/api/v1/alerts/", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.Method != http.MethodDelete {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := svc.DismissAlert(strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/")); err != nil {
			http.Error(w, err.Error(), statusOf(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// issuePeerToken hands out a JWT the peer presents on our ILP-over-HTTP endpoint.
func issuePeerToken(w http.ResponseWriter, r *http.Request, svc Service, id string) {
	known := false
	for _, p := range svc.Peers() {
		if p.Info.ID == id {
			known = true
			break
		}
	}
	if !known {
		http.Error(w, "peer not found", http.StatusNotFound)
		return
	}
	ttl := defaultPeerTokenTTL
	if v := r.URL.Query().Get("ttl"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			http.Error(w, "invalid ttl", http.StatusBadRequest)
			return
		}
		ttl = d
	}
	token, err := auth.Generate(id, ttl)
	if err != nil {
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, PeerTokenResponse{Token: token, ExpiresAt: time.Now().Add(ttl)})
}

// statusOf maps connector errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrPeerNotFound),
		errors.Is(err, app.ErrRouteNotFound),
		errors.Is(err, rules.ErrAlertNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrPeerExists):
		return http.StatusConflict
	case errors.Is(err, app.ErrUnknownRule),
		errors.Is(err, app.ErrInvalidPeer),
		errors.Is(err, app.ErrInvalidSettlement),
		errors.Is(err, rules.ErrInvalidOptions):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func authFunc(token string) func(r *http.Request) bool {
	if token == "" {
		return func(_ *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		h := r.Header.Get("X-Auth-Token")
		if h == "" {
			// also allow simple Bearer token
			authz := r.Header.Get("Authorization")
			if strings.HasPrefix(authz, "Bearer ") {
				h = strings.TrimPrefix(authz, "Bearer ")
			}
		}
		return h == token
	}
}
