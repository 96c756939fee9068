// Package tokenbucket implements the non-blocking token buckets used for
// per-peer packet rate and throughput limits.
package tokenbucket

import (
	"math/bits"
	"sync"
	"time"
)

// Bucket is consumed all-or-nothing; a failed Take leaves the bucket unchanged.
type Bucket interface {
	Take(amount uint64) bool
}

// TokenBucket refills at refillCount tokens per refillPeriod up to capacity.
// Refill is computed exactly in integer arithmetic; sub-token remainders carry
// over to the next refill rather than being dropped.
type TokenBucket struct {
	mu           sync.Mutex
	capacity     uint64
	refillCount  uint64
	refillPeriod uint64 // nanoseconds
	available    uint64
	residue      uint64 // remainder of elapsed*refillCount, in units of 1/refillPeriod tokens
	lastRefill   time.Time
	now          func() time.Time
}

// New returns a full bucket.
func New(capacity, refillCount uint64, refillPeriod time.Duration) *TokenBucket {
	return newWithClock(capacity, refillCount, refillPeriod, time.Now)
}

func newWithClock(capacity, refillCount uint64, refillPeriod time.Duration, now func() time.Time) *TokenBucket {
	if refillPeriod <= 0 {
		refillPeriod = time.Second
	}
	return &TokenBucket{
		capacity:     capacity,
		refillCount:  refillCount,
		refillPeriod: uint64(refillPeriod),
		available:    capacity,
		lastRefill:   now(),
		now:          now,
	}
}

// Take refills the bucket for the time elapsed since the last refill and then
// consumes amount tokens if they are all available.
func (b *TokenBucket) Take(amount uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.available < amount {
		return false
	}
	b.available -= amount
	return true
}

// Available returns the tokens left after the last refill.
func (b *TokenBucket) Available() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.available
}

// Capacity returns the bucket size.
func (b *TokenBucket) Capacity() uint64 {
	return b.capacity
}

func (b *TokenBucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	b.lastRefill = now
	if b.available == b.capacity {
		b.residue = 0
		return
	}

	hi, lo := bits.Mul64(uint64(elapsed), b.refillCount)
	var carry uint64
	lo, carry = bits.Add64(lo, b.residue, 0)
	hi += carry
	if hi >= b.refillPeriod {
		// quotient does not fit in 64 bits; far more than any capacity
		b.available = b.capacity
		b.residue = 0
		return
	}
	added, rem := bits.Div64(hi, lo, b.refillPeriod)
	b.residue = rem
	if added >= b.capacity-b.available {
		b.available = b.capacity
		b.residue = 0
		return
	}
	b.available += added
}
