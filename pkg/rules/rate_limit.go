package rules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ilp-connector/pkg/ilp"
	"ilp-connector/pkg/tokenbucket"
)

const (
	defaultRefillPeriod = 1000 // ms
	defaultRefillCount  = 10000

	BackendMemory = "memory"
	BackendRedis  = "redis"
)

var ErrInvalidOptions = errors.New("invalid rule options")

// RateLimitOptions are the parameters of a rateLimit rule. RefillPeriod is in milliseconds.
type RateLimitOptions struct {
	RefillPeriod uint64 `json:"refillPeriod"`
	RefillCount  uint64 `json:"refillCount"`
	Capacity     uint64 `json:"capacity"`
	Backend      string `json:"backend"`
}

// NewRateLimitBucket builds the packet bucket for peerID. A redis backend
// requires rdb.
func NewRateLimitBucket(peerID string, opts RateLimitOptions, rdb redis.Scripter, log *zap.Logger) (tokenbucket.Bucket, error) {
	period := opts.RefillPeriod
	if period == 0 {
		period = defaultRefillPeriod
	}
	count := opts.RefillCount
	if count == 0 {
		count = defaultRefillCount
	}
	capacity := opts.Capacity
	if capacity == 0 {
		capacity = count
	}
	refill := time.Duration(period) * time.Millisecond

	switch opts.Backend {
	case "", BackendMemory:
		return tokenbucket.New(capacity, count, refill), nil
	case BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("%w: rateLimit backend redis needs REDIS_ADDR", ErrInvalidOptions)
		}
		return tokenbucket.NewRedisBucket(rdb, "ratelimit:"+peerID, capacity, count, refill, log), nil
	default:
		return nil, fmt.Errorf("%w: unknown rateLimit backend %q", ErrInvalidOptions, opts.Backend)
	}
}

// RateLimit takes one token per incoming packet and rejects with T05 when empty.
type RateLimit struct {
	Passthrough
	peerID string
	bucket tokenbucket.Bucket
	stats  *Stats
}

func NewRateLimit(peerID string, bucket tokenbucket.Bucket, stats *Stats) *RateLimit {
	return &RateLimit{peerID: peerID, bucket: bucket, stats: stats}
}

func (r *RateLimit) Incoming(next ilp.Handler) ilp.Handler {
	return func(ctx context.Context, p *ilp.Prepare) (ilp.Reply, error) {
		if !r.bucket.Take(1) {
			r.stats.rateLimit(r.peerID)
			return nil, ilp.RateLimitedError("too many requests, throttling.")
		}
		return next(ctx, p)
	}
}
