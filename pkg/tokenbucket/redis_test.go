package tokenbucket

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// TestRedisBucket_Integration requires a running Redis on localhost:6379.
func TestRedisBucket_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer func() { _ = client.Close() }()
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	b := NewRedisBucket(client, "test-"+uuid.NewString(), 2, 1, time.Hour, zap.NewNop())
	assert.True(t, b.Take(1))
	assert.False(t, b.Take(2))
	assert.True(t, b.Take(1))
	assert.False(t, b.Take(1))
}

func TestRedisBucketFailsClosed(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer func() { _ = client.Close() }()

	b := NewRedisBucket(client, "unreachable", 10, 10, time.Second, zap.NewNop())
	assert.False(t, b.Take(1))
}
