//go:build integration

package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/purview/internal/preview"
	"github.com/serroba/purview/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getRedisAddr() string {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr
	}

	return "localhost:6379"
}

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: getRedisAddr()})
	t.Cleanup(func() { _ = client.Close() })

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	return client
}

func TestRedisConfigStoreIntegration(t *testing.T) {
	ctx := context.Background()
	client := newRedisClient(t)
	s := store.NewRedisConfigStore(client, "test-lenders:")

	t.Run("put and load", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "Money View", preview.PartnerConfig{Title: "MV"}))
		t.Cleanup(func() { client.Del(ctx, "test-lenders:money_view_default") })

		cfg, err := s.Load(ctx, "money_view")

		require.NoError(t, err)
		assert.Equal(t, "MV", cfg.Title)
	})

	t.Run("missing key is ErrConfigNotFound", func(t *testing.T) {
		_, err := s.Load(ctx, "nonexistent")

		assert.ErrorIs(t, err, preview.ErrConfigNotFound)
	})
}

func TestRateLimitRedisStoreIntegration(t *testing.T) {
	ctx := context.Background()
	client := newRedisClient(t)
	s := store.NewRateLimitRedisStore(client, nil)

	key := "itest:" + time.Now().Format(time.RFC3339Nano)
	t.Cleanup(func() { client.Del(ctx, "ratelimit:"+key) })

	for want := int64(1); want <= 3; want++ {
		count, err := s.Record(ctx, key, time.Minute)

		require.NoError(t, err)
		assert.Equal(t, want, count)
	}

	ttl, err := client.PTTL(ctx, "ratelimit:"+key).Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)
}
