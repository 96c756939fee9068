package connector

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ilp-connector/pkg/endpoint"
	"ilp-connector/pkg/ilp"
	"ilp-connector/pkg/model"
)

type fakeEndpoint struct {
	mu      sync.Mutex
	handler ilp.Handler
	sent    []*ilp.Prepare
	reply   ilp.Handler
}

func (e *fakeEndpoint) SendOutgoingRequest(ctx context.Context, p *ilp.Prepare) (ilp.Reply, error) {
	e.mu.Lock()
	e.sent = append(e.sent, p)
	reply := e.reply
	e.mu.Unlock()
	if reply == nil {
		return &ilp.Fulfill{}, nil
	}
	return reply(ctx, p)
}

func (e *fakeEndpoint) SetIncomingRequestHandler(h ilp.Handler) endpoint.Endpoint {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
	return e
}

func (e *fakeEndpoint) receive(p *ilp.Prepare) (ilp.Reply, error) {
	e.mu.Lock()
	h := e.handler
	e.mu.Unlock()
	return h(context.Background(), p)
}

func packet(dest string) *ilp.Prepare {
	return &ilp.Prepare{Amount: 1, Destination: dest, ExpiresAt: time.Now().Add(time.Minute)}
}

func TestRoutingTableLongestPrefix(t *testing.T) {
	rt := NewRoutingTable()
	_, ok := rt.Lookup("test.anything")
	assert.False(t, ok)

	rt.Add(model.Route{Prefix: "test.a", PeerID: "A"})
	rt.Add(model.Route{Prefix: "test.a.b", PeerID: "B"})

	for dest, want := range map[string]string{
		"test.a":       "A",
		"test.a.x":     "A",
		"test.a.b":     "B",
		"test.a.b.c.d": "B",
	} {
		r, ok := rt.Lookup(dest)
		require.True(t, ok, dest)
		assert.Equal(t, want, r.PeerID, dest)
	}
	_, ok = rt.Lookup("test.ab")
	assert.False(t, ok, "segments must match whole")

	rt.Add(model.Route{Prefix: "", PeerID: "D"})
	r, ok := rt.Lookup("test.ab")
	require.True(t, ok)
	assert.Equal(t, "D", r.PeerID)

	rt.Add(model.Route{Prefix: "test.a", PeerID: "A2"})
	r, _ = rt.Lookup("test.a.x")
	assert.Equal(t, "A2", r.PeerID)

	assert.True(t, rt.Remove("test.a.b"))
	assert.False(t, rt.Remove("test.a.b"))
	r, _ = rt.Lookup("test.a.b.c")
	assert.Equal(t, "A2", r.PeerID)

	rt.RemovePeer("A2")
	r, _ = rt.Lookup("test.a.b.c")
	assert.Equal(t, "D", r.PeerID)
	assert.Len(t, rt.Routes(), 1)
}

func newConnector(t *testing.T) *Connector {
	t.Helper()
	c := New(zap.NewNop())
	c.AddOwnAddress("test.connie")
	return c
}

func TestDispatch(t *testing.T) {
	c := newConnector(t)
	alice, bob := &fakeEndpoint{}, &fakeEndpoint{}
	require.NoError(t, c.AddPeer(context.Background(), model.PeerInfo{ID: "alice", Relation: model.RelationChild}, alice))
	require.NoError(t, c.AddPeer(context.Background(), model.PeerInfo{ID: "bob", Relation: model.RelationPeer}, bob))
	require.NoError(t, c.AddRoute(model.Route{Prefix: "test.bob", PeerID: "bob"}))

	reply, err := alice.receive(packet("test.bob.wallet"))
	require.NoError(t, err)
	assert.True(t, ilp.IsFulfill(reply))
	require.Len(t, bob.sent, 1)
	assert.Equal(t, "test.bob.wallet", bob.sent[0].Destination)

	// children are routable under our address
	_, err = bob.receive(packet("test.connie.alice.x"))
	require.NoError(t, err)
	assert.Len(t, alice.sent, 1)

	_, err = alice.receive(packet("test.nowhere"))
	assert.Equal(t, ilp.CodeUnreachable, ilp.CodeOf(err))

	_, err = bob.receive(packet("test.bob.loop"))
	assert.Equal(t, ilp.CodeUnreachable, ilp.CodeOf(err))
	assert.Len(t, bob.sent, 1)

	_, err = alice.receive(packet("peer.unknown"))
	assert.Equal(t, ilp.CodeUnreachable, ilp.CodeOf(err))
}

func TestAddRouteRequiresPeer(t *testing.T) {
	c := newConnector(t)
	err := c.AddRoute(model.Route{Prefix: "test.x", PeerID: "ghost"})
	assert.ErrorIs(t, err, model.ErrPeerNotFound)
}

func TestRemovePeerDropsRoutes(t *testing.T) {
	c := newConnector(t)
	alice, bob := &fakeEndpoint{}, &fakeEndpoint{}
	require.NoError(t, c.AddPeer(context.Background(), model.PeerInfo{ID: "alice", Relation: model.RelationPeer}, alice))
	require.NoError(t, c.AddPeer(context.Background(), model.PeerInfo{ID: "bob", Relation: model.RelationPeer}, bob))
	require.NoError(t, c.AddRoute(model.Route{Prefix: "test.bob", PeerID: "bob"}))

	require.NoError(t, c.RemovePeer("bob"))
	assert.ErrorIs(t, c.RemovePeer("bob"), model.ErrPeerNotFound)
	assert.Equal(t, []string{"alice"}, c.PeerList())
	assert.Empty(t, c.Routes())

	_, err := alice.receive(packet("test.bob"))
	assert.Equal(t, ilp.CodeUnreachable, ilp.CodeOf(err))

	_, err = c.SendOutgoingRequest(context.Background(), "bob", packet("test.bob"))
	assert.ErrorIs(t, err, model.ErrPeerNotFound)
}

func TestAddPeerTwice(t *testing.T) {
	c := newConnector(t)
	require.NoError(t, c.AddPeer(context.Background(), model.PeerInfo{ID: "alice", Relation: model.RelationPeer}, &fakeEndpoint{}))
	err := c.AddPeer(context.Background(), model.PeerInfo{ID: "alice", Relation: model.RelationPeer}, &fakeEndpoint{})
	assert.ErrorIs(t, err, model.ErrPeerExists)
}

func TestPeerConfigForChildren(t *testing.T) {
	c := newConnector(t)
	child, peer := &fakeEndpoint{}, &fakeEndpoint{}
	require.NoError(t, c.AddPeer(context.Background(), model.PeerInfo{ID: "kid", AssetCode: "USD", AssetScale: 2, Relation: model.RelationChild}, child))
	require.NoError(t, c.AddPeer(context.Background(), model.PeerInfo{ID: "bob", Relation: model.RelationPeer}, peer))

	reply, err := child.receive(packet(PeerConfigAddress))
	require.NoError(t, err)
	f, ok := reply.(*ilp.Fulfill)
	require.True(t, ok)
	assert.Equal(t, ilp.StaticFulfillment, f.Fulfillment)
	var cfg PeerConfig
	require.NoError(t, json.Unmarshal(f.Data, &cfg))
	assert.Equal(t, PeerConfig{ClientAddress: "test.connie.kid", AssetScale: 2, AssetCode: "USD"}, cfg)

	_, err = peer.receive(packet(PeerConfigAddress))
	assert.Equal(t, ilp.CodeUnreachable, ilp.CodeOf(err))
}

func TestParentProvidesAddress(t *testing.T) {
	c := New(zap.NewNop())
	c.SetGlobalPrefix("g")
	assert.Equal(t, "g", c.GlobalPrefix())

	// a child added before we know our address gets its route later
	kid := &fakeEndpoint{}
	require.NoError(t, c.AddPeer(context.Background(), model.PeerInfo{ID: "kid", Relation: model.RelationChild}, kid))
	assert.Empty(t, c.Routes())

	parent := &fakeEndpoint{reply: func(ctx context.Context, p *ilp.Prepare) (ilp.Reply, error) {
		if p.Destination != PeerConfigAddress {
			return &ilp.Fulfill{}, nil
		}
		data, _ := json.Marshal(PeerConfig{ClientAddress: "g.parent.us"})
		return &ilp.Fulfill{Fulfillment: ilp.StaticFulfillment, Data: data}, nil
	}}
	require.NoError(t, c.AddPeer(context.Background(), model.PeerInfo{ID: "parent", Relation: model.RelationParent}, parent))

	assert.Equal(t, "g.parent.us", c.OwnAddress())
	r, ok := c.table.Lookup("g.parent.us.kid.wallet")
	require.True(t, ok)
	assert.Equal(t, "kid", r.PeerID)
	r, ok = c.table.Lookup("g.elsewhere")
	require.True(t, ok)
	assert.Equal(t, "parent", r.PeerID)
}

func TestParentAddressFailureStillAddsPeer(t *testing.T) {
	c := New(zap.NewNop())
	parent := &fakeEndpoint{reply: func(ctx context.Context, p *ilp.Prepare) (ilp.Reply, error) {
		return nil, errors.New("down")
	}}
	require.NoError(t, c.AddPeer(context.Background(), model.PeerInfo{ID: "parent", Relation: model.RelationParent}, parent))
	assert.Equal(t, "", c.OwnAddress())
	assert.Equal(t, []string{"parent"}, c.PeerList())
}

func TestSettlementMessages(t *testing.T) {
	c := newConnector(t)
	alice := &fakeEndpoint{}
	require.NoError(t, c.AddPeer(context.Background(), model.PeerInfo{ID: "alice", Relation: model.RelationPeer}, alice))

	p := packet(SettleAddress)
	p.Data = []byte("ping")
	_, err := alice.receive(p)
	assert.Equal(t, ilp.CodeUnreachable, ilp.CodeOf(err))

	c.SetSettlementHandler(func(ctx context.Context, peerID string, data []byte) ([]byte, error) {
		assert.Equal(t, "alice", peerID)
		return append([]byte("pong:"), data...), nil
	})
	reply, err := alice.receive(p)
	require.NoError(t, err)
	assert.Equal(t, "pong:ping", string(reply.(*ilp.Fulfill).Data))

	c.SetSettlementHandler(func(ctx context.Context, peerID string, data []byte) ([]byte, error) {
		return nil, errors.New("engine down")
	})
	_, err = alice.receive(p)
	assert.Equal(t, ilp.CodeInternalError, ilp.CodeOf(err))
}

func TestOwnAddresses(t *testing.T) {
	c := newConnector(t)
	c.AddOwnAddress("test.alias")
	c.AddOwnAddress("test.alias")
	assert.Equal(t, []string{"test.connie", "test.alias"}, c.OwnAddresses())
	c.RemoveOwnAddress("test.connie")
	assert.Equal(t, "test.alias", c.OwnAddress())
}

func TestRoutePathBlocksLoops(t *testing.T) {
	c := newConnector(t)
	alice, bob, carl := &fakeEndpoint{}, &fakeEndpoint{}, &fakeEndpoint{}
	require.NoError(t, c.AddPeer(context.Background(), model.PeerInfo{ID: "alice", Relation: model.RelationPeer}, alice))
	require.NoError(t, c.AddPeer(context.Background(), model.PeerInfo{ID: "bob", Relation: model.RelationPeer}, bob))
	require.NoError(t, c.AddPeer(context.Background(), model.PeerInfo{ID: "carl", Relation: model.RelationPeer}, carl))
	require.NoError(t, c.AddRoute(model.Route{Prefix: "test.far", PeerID: "bob", Path: []string{"carl"}}))

	_, err := carl.receive(packet("test.far.x"))
	assert.Equal(t, ilp.CodeUnreachable, ilp.CodeOf(err))
	assert.Empty(t, bob.sent)

	reply, err := alice.receive(packet("test.far.x"))
	require.NoError(t, err)
	assert.True(t, ilp.IsFulfill(reply))
	assert.Len(t, bob.sent, 1)
}
