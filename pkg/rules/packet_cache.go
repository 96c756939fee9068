package rules

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"ilp-connector/pkg/ilp"
)

const DefaultPacketCacheTTL = 30 * time.Second

type cacheEntry struct {
	reply ilp.Reply
	timer *time.Timer
}

// PacketCache remembers replies by packet fingerprint so retransmitted packets
// are answered without being forwarded again. Concurrent identical packets
// share a single downstream call.
type PacketCache struct {
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu       sync.Mutex
	entries  map[[32]byte]*cacheEntry
	disposed bool
}

func NewPacketCache(ttl time.Duration) *PacketCache {
	if ttl <= 0 {
		ttl = DefaultPacketCacheTTL
	}
	return &PacketCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[[32]byte]*cacheEntry),
	}
}

// Fingerprint hashes the fields that identify a payment. ExpiresAt is left
// out so a retry with a fresh expiry still matches.
func Fingerprint(p *ilp.Prepare) [32]byte {
	h := sha256.New()
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], p.Amount)
	h.Write(n[:])
	binary.BigEndian.PutUint64(n[:], uint64(len(p.Destination)))
	h.Write(n[:])
	h.Write([]byte(p.Destination))
	h.Write(p.ExecutionCondition[:])
	h.Write(p.Data)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Do returns the cached reply for p, or calls next once for all concurrent
// callers with the same fingerprint. Errors are returned but not cached.
//
// The shared call is bounded by the packet's expiry, not by any one caller's
// context: a caller that goes away stops waiting but the others still get the
// reply.
func (c *PacketCache) Do(ctx context.Context, p *ilp.Prepare, next ilp.Handler) (ilp.Reply, error) {
	key := Fingerprint(p)
	if reply, ok := c.lookup(key); ok {
		return reply, nil
	}

	ch := c.group.DoChan(string(key[:]), func() (interface{}, error) {
		shared, cancel := context.WithDeadline(context.WithoutCancel(ctx), p.ExpiresAt)
		defer cancel()
		// a call that finished between lookup and Do may have stored it already
		if reply, ok := c.lookup(key); ok {
			return reply, nil
		}
		reply, err := next(shared, p)
		if err != nil {
			return nil, err
		}
		c.store(key, reply, p.ExpiresAt)
		return reply, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(ilp.Reply), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *PacketCache) lookup(key [32]byte) (ilp.Reply, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.reply, true
}

func (c *PacketCache) store(key [32]byte, reply ilp.Reply, expiresAt time.Time) {
	now := c.now()
	until := now.Add(c.ttl)
	if expiresAt.Before(until) {
		until = expiresAt
	}
	d := until.Sub(now)
	if d <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	if old, ok := c.entries[key]; ok {
		old.timer.Stop()
	}
	e := &cacheEntry{reply: reply}
	e.timer = time.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.entries[key] == e {
			delete(c.entries, key)
		}
	})
	c.entries[key] = e
}

// Len returns the number of cached replies.
func (c *PacketCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Dispose drops every entry and stops the expiry timers. It is safe to call
// more than once; a disposed cache still works but stores nothing.
func (c *PacketCache) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		e.timer.Stop()
		delete(c.entries, key)
	}
	c.disposed = true
}

// DeduplicateOptions are the parameters of a deduplicate rule. TTL is in milliseconds.
type DeduplicateOptions struct {
	TTL uint64 `json:"ttl"`
}

// Deduplicate answers repeated outgoing packets from a PacketCache.
type Deduplicate struct {
	Passthrough
	cache *PacketCache
}

func NewDeduplicate(cache *PacketCache) *Deduplicate {
	return &Deduplicate{cache: cache}
}

func (r *Deduplicate) Outgoing(next ilp.Handler) ilp.Handler {
	return func(ctx context.Context, p *ilp.Prepare) (ilp.Reply, error) {
		return r.cache.Do(ctx, p, next)
	}
}

func (r *Deduplicate) Shutdown() {
	r.cache.Dispose()
}
