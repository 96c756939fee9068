package connector

import (
	"strings"
	"sync"
	"sync/atomic"

	iradix "github.com/hashicorp/go-immutable-radix"

	"ilp-connector/pkg/model"
)

// RoutingTable maps address prefixes to next-hop peers with longest-prefix
// matching on whole address segments. Lookups read an immutable snapshot and
// never block on writers.
type RoutingTable struct {
	mu   sync.Mutex // serialises writers
	tree atomic.Pointer[iradix.Tree]
}

func NewRoutingTable() *RoutingTable {
	t := &RoutingTable{}
	t.tree.Store(iradix.New())
	return t
}

// Keys end in "." so "g.alice" matches "g.alice.x" but not "g.alicex".
// The default route "" becomes the key "" and matches everything.
func routeKey(prefix string) []byte {
	if prefix == "" {
		return []byte{}
	}
	return []byte(strings.TrimSuffix(prefix, ".") + ".")
}

// Add installs r, replacing any route with the same prefix.
func (t *RoutingTable) Add(r model.Route) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r.Path = append([]string(nil), r.Path...)
	tree, _, _ := t.tree.Load().Insert(routeKey(r.Prefix), r)
	t.tree.Store(tree)
}

// Remove deletes the route for prefix and reports whether one existed.
func (t *RoutingTable) Remove(prefix string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	tree, _, ok := t.tree.Load().Delete(routeKey(prefix))
	if ok {
		t.tree.Store(tree)
	}
	return ok
}

// RemovePeer deletes every route whose next hop is peerID.
func (t *RoutingTable) RemovePeer(peerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	txn := t.tree.Load().Txn()
	t.tree.Load().Root().Walk(func(k []byte, v interface{}) bool {
		if v.(model.Route).PeerID == peerID {
			txn.Delete(k)
		}
		return false
	})
	t.tree.Store(txn.Commit())
}

// Lookup returns the most specific route for destination.
func (t *RoutingTable) Lookup(destination string) (model.Route, bool) {
	_, v, ok := t.tree.Load().Root().LongestPrefix([]byte(destination + "."))
	if !ok {
		return model.Route{}, false
	}
	return v.(model.Route), true
}

// Get returns the route stored under exactly prefix.
func (t *RoutingTable) Get(prefix string) (model.Route, bool) {
	v, ok := t.tree.Load().Get(routeKey(prefix))
	if !ok {
		return model.Route{}, false
	}
	return v.(model.Route), true
}

// Routes lists all routes ordered by prefix.
func (t *RoutingTable) Routes() []model.Route {
	tree := t.tree.Load()
	out := make([]model.Route, 0, tree.Len())
	tree.Root().Walk(func(_ []byte, v interface{}) bool {
		out = append(out, v.(model.Route))
		return false
	})
	return out
}
