package store

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/serroba/purview/internal/clock"
)

// RateLimitRedisStore implements ratelimit.Store with one sorted set per key,
// scored by request time, so limits hold across server instances.
type RateLimitRedisStore struct {
	client *redis.Client
	clock  clock.Clock
	prefix string
}

// NewRateLimitRedisStore creates a Redis-backed rate limit store.
func NewRateLimitRedisStore(client *redis.Client, clk clock.Clock) *RateLimitRedisStore {
	if clk == nil {
		clk = clock.Real{}
	}

	return &RateLimitRedisStore{
		client: client,
		clock:  clk,
		prefix: "ratelimit:",
	}
}

func (s *RateLimitRedisStore) Record(ctx context.Context, key string, window time.Duration) (int64, error) {
	now := s.clock.Now()
	cutoff := now.Add(-window).UnixMicro()
	redisKey := s.prefix + key

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(cutoff, 10))
	pipe.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixMicro()),
		Member: uuid.NewString(),
	})
	count := pipe.ZCard(ctx, redisKey)
	pipe.PExpire(ctx, redisKey, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	return count.Val(), nil
}
