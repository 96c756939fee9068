//go:build consul

// Package consul keeps peers and routes in the Consul KV store, so several
// connector processes can share one configuration.
package consul

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	consulapi "github.com/hashicorp/consul/api"

	"ilp-connector/pkg/model"
)

var ErrNotFound = errors.New("key not found")

const (
	peerPrefix  = "ilp-connector/peers/"
	routePrefix = "ilp-connector/routes/"
	// the default route has an empty prefix, which cannot be a key of its own
	defaultRouteKey = "@default"
)

// Store is a Consul-backed store.Store implementation.
type Store struct {
	cli *consulapi.Client
}

func NewStore(addr string) (*Store, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	return &Store{cli: cli}, nil
}

func routeKey(prefix string) string {
	if prefix == "" {
		return routePrefix + defaultRouteKey
	}
	return routePrefix + url.PathEscape(prefix)
}

func (s *Store) ListPeers() ([]model.PeerRecord, error) {
	pairs, _, err := s.cli.KV().List(peerPrefix, nil)
	if err != nil {
		return nil, err
	}
	out := make([]model.PeerRecord, 0, len(pairs))
	for _, p := range pairs {
		var rec model.PeerRecord
		if err := json.Unmarshal(p.Value, &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", p.Key, err)
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Info.ID < out[j].Info.ID })
	return out, nil
}

func (s *Store) SavePeer(p model.PeerRecord) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.cli.KV().Put(&consulapi.KVPair{Key: peerPrefix + p.Info.ID, Value: b}, nil)
	return err
}

func (s *Store) DeletePeer(id string) error {
	kv, _, err := s.cli.KV().Get(peerPrefix+id, nil)
	if err != nil {
		return err
	}
	if kv == nil {
		return fmt.Errorf("peer %s: %w", id, ErrNotFound)
	}
	routes, err := s.ListRoutes()
	if err != nil {
		return err
	}
	ops := consulapi.KVTxnOps{{Verb: consulapi.KVDelete, Key: peerPrefix + id}}
	for _, r := range routes {
		if r.PeerID == id {
			ops = append(ops, &consulapi.KVTxnOp{Verb: consulapi.KVDelete, Key: routeKey(r.Prefix)})
		}
	}
	ok, resp, _, err := s.cli.KV().Txn(ops, nil)
	if err != nil {
		return err
	}
	if !ok {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.What)
		}
		return fmt.Errorf("delete peer %s: %s", id, strings.Join(msgs, "; "))
	}
	return nil
}

func (s *Store) ListRoutes() ([]model.Route, error) {
	pairs, _, err := s.cli.KV().List(routePrefix, nil)
	if err != nil {
		return nil, err
	}
	out := make([]model.Route, 0, len(pairs))
	for _, p := range pairs {
		var r model.Route
		if err := json.Unmarshal(p.Value, &r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", p.Key, err)
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Prefix < out[j].Prefix })
	return out, nil
}

func (s *Store) SaveRoute(r model.Route) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.cli.KV().Put(&consulapi.KVPair{Key: routeKey(r.Prefix), Value: b}, nil)
	return err
}

func (s *Store) DeleteRoute(prefix string) error {
	key := routeKey(prefix)
	kv, _, err := s.cli.KV().Get(key, nil)
	if err != nil {
		return err
	}
	if kv == nil {
		return fmt.Errorf("route %q: %w", prefix, ErrNotFound)
	}
	_, err = s.cli.KV().Delete(key, nil)
	return err
}

// Ping reports whether the agent has a cluster leader.
func (s *Store) Ping() error {
	leader, err := s.cli.Status().Leader()
	if err != nil {
		return err
	}
	if leader == "" {
		return errors.New("consul has no leader")
	}
	return nil
}
