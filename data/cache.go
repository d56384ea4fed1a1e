package data

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

func verifiedKey(source, link string) string {
	sum := sha256.Sum256([]byte(source + "\n" + link))
	return "verified:" + hex.EncodeToString(sum[:])
}

// MemoryCache remembers verified links in process, for ttl.
type MemoryCache struct {
	c *gocache.Cache
}

// NewMemoryCache returns a MemoryCache where entries expire after ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{c: gocache.New(ttl, time.Minute)}
}

func (m *MemoryCache) Verified(ctx context.Context, source, link string) bool {
	_, ok := m.c.Get(verifiedKey(source, link))
	return ok
}

func (m *MemoryCache) SetVerified(ctx context.Context, source, link string) error {
	m.c.SetDefault(verifiedKey(source, link), true)
	return nil
}

// RedisCache remembers verified links in Redis, so they are shared between
// instances.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisClient connects to Redis, checking the connection before returning.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}

	return rdb, nil
}

// NewRedisCache returns a RedisCache where entries expire after ttl.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

// Verified reports whether the link is cached as verified. Redis being
// unavailable is treated as a miss.
func (r *RedisCache) Verified(ctx context.Context, source, link string) bool {
	n, err := r.rdb.Exists(ctx, verifiedKey(source, link)).Result()
	return err == nil && n == 1
}

func (r *RedisCache) SetVerified(ctx context.Context, source, link string) error {
	return r.rdb.Set(ctx, verifiedKey(source, link), "1", r.ttl).Err()
}
