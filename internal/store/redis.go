package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/purview/internal/preview"
)

// DefaultRedisConfigPrefix namespaces partner documents in Redis.
const DefaultRedisConfigPrefix = "lenders:"

// RedisConfigStore reads partner documents stored as JSON strings under
// {prefix}{key}_default.
type RedisConfigStore struct {
	client *redis.Client
	prefix string
}

// NewRedisConfigStore creates a Redis-backed partner config store.
func NewRedisConfigStore(client *redis.Client, prefix string) *RedisConfigStore {
	if prefix == "" {
		prefix = DefaultRedisConfigPrefix
	}

	return &RedisConfigStore{
		client: client,
		prefix: prefix,
	}
}

func (r *RedisConfigStore) key(partnerKey string) string {
	return r.prefix + preview.DocumentKey(partnerKey)
}

// Put stores cfg under the normalized form of partner.
func (r *RedisConfigStore) Put(ctx context.Context, partner string, cfg preview.PartnerConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}

	return r.client.Set(ctx, r.key(preview.NormalizePartnerKey(partner)), data, 0).Err()
}

func (r *RedisConfigStore) Load(ctx context.Context, partnerKey string) (*preview.PartnerConfig, error) {
	data, err := r.client.Get(ctx, r.key(partnerKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, preview.ErrConfigNotFound
		}

		return nil, fmt.Errorf("get partner config %s: %w", partnerKey, err)
	}

	return decodeConfig(data, FormatJSON)
}
