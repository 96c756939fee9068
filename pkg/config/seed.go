package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"ilp-connector/pkg/model"
	"ilp-connector/pkg/store"
)

// Seed is the initial set of peers and routes of a fresh connector.
//
//	peers:
//	  - info: {id: alice, assetCode: USD, assetScale: 9, relation: child, rules: [{name: errorHandler}]}
//	    endpoint: {type: http, httpOpts: {peerUrl: "http://alice:7768/ilp"}}
//	routes:
//	  - {prefix: g.bob, peerId: bob}
type Seed struct {
	Peers  []model.PeerRecord `yaml:"peers"`
	Routes []model.Route      `yaml:"routes"`
}

func LoadSeed(path string) (*Seed, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var s Seed
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	known := make(map[string]bool, len(s.Peers))
	for i, p := range s.Peers {
		if p.Info.ID == "" {
			return nil, fmt.Errorf("%w: seed peer %d has no id", ErrInvalid, i)
		}
		if known[p.Info.ID] {
			return nil, fmt.Errorf("%w: seed peer %s listed twice", ErrInvalid, p.Info.ID)
		}
		known[p.Info.ID] = true
	}
	for _, r := range s.Routes {
		if !known[r.PeerID] {
			return nil, fmt.Errorf("%w: seed route %q points at unknown peer %q", ErrInvalid, r.Prefix, r.PeerID)
		}
	}
	return &s, nil
}

// Apply writes the seed into st unless st already holds peers. It reports
// whether anything was written.
func (s *Seed) Apply(st store.Store) (bool, error) {
	existing, err := st.ListPeers()
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		return false, nil
	}
	for _, p := range s.Peers {
		if err := st.SavePeer(p); err != nil {
			return false, err
		}
	}
	for _, r := range s.Routes {
		if err := st.SaveRoute(r); err != nil {
			return false, err
		}
	}
	return true, nil
}
