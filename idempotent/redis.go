package idempotent

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures a RedisRepository.
type RedisConfig struct {
	// Prefix is prepended to every key. Defaults to "goroute:idempotent:".
	Prefix string
	// ClaimTTL bounds how long an added but unconfirmed key is kept, so keys
	// of crashed consumers expire. Defaults to five minutes.
	ClaimTTL time.Duration
	// ConfirmedTTL is the lifetime of a confirmed key. Zero keeps it forever.
	ConfirmedTTL time.Duration
}

func (c RedisConfig) parse() RedisConfig {
	if c.Prefix == "" {
		c.Prefix = "goroute:idempotent:"
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 5 * time.Minute
	}
	return c
}

const (
	redisClaimed   = "claimed"
	redisConfirmed = "confirmed"
)

// RedisRepository stores keys in Redis. Add is a single SETNX, so concurrent
// consumers in different processes agree on the first claim.
type RedisRepository struct {
	client redis.Cmdable
	cfg    RedisConfig
}

// NewRedisRepository creates a repository on client.
func NewRedisRepository(client redis.Cmdable, cfg RedisConfig) *RedisRepository {
	return &RedisRepository{client: client, cfg: cfg.parse()}
}

func (r *RedisRepository) key(key string) string {
	return r.cfg.Prefix + key
}

// Add implements Repository.
func (r *RedisRepository) Add(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(key), redisClaimed, r.cfg.ClaimTTL).Result()
	if err != nil {
		return false, fmt.Errorf("idempotent: redis add %q: %w", key, err)
	}
	return ok, nil
}

// Contains implements Repository.
func (r *RedisRepository) Contains(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("idempotent: redis contains %q: %w", key, err)
	}
	return n > 0, nil
}

// Remove implements Repository.
func (r *RedisRepository) Remove(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Del(ctx, r.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("idempotent: redis remove %q: %w", key, err)
	}
	return n > 0, nil
}

// Confirm implements Repository.
func (r *RedisRepository) Confirm(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetXX(ctx, r.key(key), redisConfirmed, r.cfg.ConfirmedTTL).Result()
	if err != nil {
		return false, fmt.Errorf("idempotent: redis confirm %q: %w", key, err)
	}
	return ok, nil
}
