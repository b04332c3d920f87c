package repository

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/applerag/apple-rag-backend/internal/provider"
)

// providerKeySet is the Redis set holding the usable provider API keys.
// Evicted keys are removed so restarts do not resurrect them.
const providerKeySet = "provider:api_keys"

// RedisKeyStore persists provider key evictions in Redis.
type RedisKeyStore struct {
	client *redis.Client
}

// NewRedisKeyStore creates a RedisKeyStore.
func NewRedisKeyStore(client *redis.Client) *RedisKeyStore {
	return &RedisKeyStore{client: client}
}

// Compile-time check.
var _ provider.KeyStore = (*RedisKeyStore)(nil)

// SeedKeys seeds the backing set with the configured keys when the set is
// empty and returns them as given. When the set already has members, it
// adds nothing and returns the configured keys still in the set, in the
// configured order; configured keys missing from the set are treated as
// evicted.
func (s *RedisKeyStore) SeedKeys(ctx context.Context, configured []string) ([]string, error) {
	members, err := s.client.SMembers(ctx, providerKeySet).Result()
	if err != nil {
		return nil, fmt.Errorf("repository.SeedKeys: %w", err)
	}

	if len(members) == 0 {
		if len(configured) > 0 {
			if err := s.client.SAdd(ctx, providerKeySet, toAny(configured)...).Err(); err != nil {
				return nil, fmt.Errorf("repository.SeedKeys: %w", err)
			}
		}
		return configured, nil
	}

	live := make(map[string]struct{}, len(members))
	for _, m := range members {
		live[m] = struct{}{}
	}

	var keys []string
	for _, k := range configured {
		if _, ok := live[k]; ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// RemoveKey deletes an evicted key from the backing set.
func (s *RedisKeyStore) RemoveKey(ctx context.Context, key string) error {
	if err := s.client.SRem(ctx, providerKeySet, key).Err(); err != nil {
		return fmt.Errorf("repository.RemoveKey: %w", err)
	}
	return nil
}

func toAny(keys []string) []any {
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out
}
