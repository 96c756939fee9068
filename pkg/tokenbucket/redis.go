package tokenbucket

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// takeScript refills and consumes atomically.
// KEYS[1] bucket key; ARGV: refill rate (tokens/s), capacity, cost, now (s, float).
var takeScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])
if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
end
last_refill = now

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last_refill", last_refill)
if rate > 0 then
    redis.call("EXPIRE", key, math.ceil(capacity / rate) + 60)
end
return allowed
`)

// RedisBucket keeps the bucket state in Redis so several connector processes can
// share one limit. Errors fail closed.
type RedisBucket struct {
	client   redis.Scripter
	key      string
	capacity uint64
	rate     float64 // tokens per second
	timeout  time.Duration
	log      *zap.Logger
}

// NewRedisBucket creates a bucket stored under "tokenbucket:<name>".
func NewRedisBucket(client redis.Scripter, name string, capacity, refillCount uint64, refillPeriod time.Duration, log *zap.Logger) *RedisBucket {
	if refillPeriod <= 0 {
		refillPeriod = time.Second
	}
	return &RedisBucket{
		client:   client,
		key:      fmt.Sprintf("tokenbucket:%s", name),
		capacity: capacity,
		rate:     float64(refillCount) / refillPeriod.Seconds(),
		timeout:  time.Second,
		log:      log,
	}
}

func (b *RedisBucket) Take(amount uint64) bool {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	ok, err := b.take(ctx, amount)
	if err != nil {
		b.log.Error("redis token bucket failed", zap.String("key", b.key), zap.Error(err))
		return false
	}
	return ok
}

func (b *RedisBucket) take(ctx context.Context, amount uint64) (bool, error) {
	now := float64(time.Now().UnixMicro()) / 1e6
	allowed, err := takeScript.Run(ctx, b.client, []string{b.key}, b.rate, b.capacity, amount, now).Int64()
	if err != nil {
		return false, fmt.Errorf("run take script: %w", err)
	}
	return allowed == 1, nil
}
