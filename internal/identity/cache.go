package identity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultCacheSize bounds the in-process cache.
const DefaultCacheSize = 4096

// Cache stores the profile list of an address for a fixed TTL. A cached
// empty list means the address is known to have no profile.
type Cache interface {
	Get(ctx context.Context, address string) ([]Profile, bool)
	Set(ctx context.Context, address string, profiles []Profile)
}

// MemoryCache is an in-process LRU with per-entry expiry.
type MemoryCache struct {
	lru *expirable.LRU[string, []Profile]
}

func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &MemoryCache{lru: expirable.NewLRU[string, []Profile](size, nil, ttl)}
}

func (c *MemoryCache) Get(_ context.Context, address string) ([]Profile, bool) {
	return c.lru.Get(address)
}

func (c *MemoryCache) Set(_ context.Context, address string, profiles []Profile) {
	c.lru.Add(address, profiles)
}

// Len returns the number of unexpired entries.
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}

// RedisCache shares lookups between API replicas. Redis errors degrade to
// cache misses.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache parses a redis:// URL.
func NewRedisCache(url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewRedisCacheWithClient(redis.NewClient(opts), ttl), nil
}

func NewRedisCacheWithClient(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: "identity:", ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, address string) ([]Profile, bool) {
	raw, err := c.client.Get(ctx, c.prefix+address).Bytes()
	if err != nil {
		return nil, false
	}
	var profiles []Profile
	if err := json.Unmarshal(raw, &profiles); err != nil {
		return nil, false
	}
	return profiles, true
}

func (c *RedisCache) Set(ctx context.Context, address string, profiles []Profile) {
	if profiles == nil {
		profiles = []Profile{}
	}
	raw, err := json.Marshal(profiles)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.prefix+address, raw, c.ttl).Err()
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Tiered reads the first tier before the second and back-fills the first
// on a second-tier hit.
type Tiered struct {
	Local  Cache
	Shared Cache
}

func (t Tiered) Get(ctx context.Context, address string) ([]Profile, bool) {
	if p, ok := t.Local.Get(ctx, address); ok {
		return p, true
	}
	if t.Shared == nil {
		return nil, false
	}
	p, ok := t.Shared.Get(ctx, address)
	if ok {
		t.Local.Set(ctx, address, p)
	}
	return p, ok
}

func (t Tiered) Set(ctx context.Context, address string, profiles []Profile) {
	t.Local.Set(ctx, address, profiles)
	if t.Shared != nil {
		t.Shared.Set(ctx, address, profiles)
	}
}
