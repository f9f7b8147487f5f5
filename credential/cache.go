package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/agentrouter/core"
)

// Cache stores tokens keyed by scope. Implementations must tolerate
// concurrent access for independent scopes.
type Cache interface {
	Get(ctx context.Context, scope string) (core.Token, bool, error)
	Set(ctx context.Context, scope string, tok core.Token, ttl time.Duration) error
}

// InMemoryCacheOptions configures an InMemoryCache.
type InMemoryCacheOptions struct {
	Now func() time.Time
}

// InMemoryCache is a process-local Cache.
type InMemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	token   core.Token
	expires time.Time
}

// NewInMemoryCache creates an empty cache.
func NewInMemoryCache(optFns ...func(o *InMemoryCacheOptions)) *InMemoryCache {
	opts := InMemoryCacheOptions{Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryCache{entries: make(map[string]cacheEntry), now: opts.Now}
}

// Get returns the cached token when present and unexpired.
func (c *InMemoryCache) Get(_ context.Context, scope string) (core.Token, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[scope]
	c.mu.RUnlock()
	if !ok {
		return core.Token{}, false, nil
	}
	if !c.now().Before(e.expires) {
		c.mu.Lock()
		if cur, ok := c.entries[scope]; ok && cur.expires.Equal(e.expires) {
			delete(c.entries, scope)
		}
		c.mu.Unlock()
		return core.Token{}, false, nil
	}
	return e.token, true, nil
}

// Set stores tok for ttl. A non-positive ttl is ignored.
func (c *InMemoryCache) Set(_ context.Context, scope string, tok core.Token, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	c.entries[scope] = cacheEntry{token: tok, expires: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// DefaultRedisCachePrefix namespaces token keys in Redis.
const DefaultRedisCachePrefix = "agentrouter:token:"

// RedisCache shares tokens between router instances. Expiry is delegated to
// Redis key TTLs.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCache creates a cache backed by client. An empty prefix selects
// DefaultRedisCachePrefix.
func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	if prefix == "" {
		prefix = DefaultRedisCachePrefix
	}
	return &RedisCache{client: client, prefix: prefix}
}

// Get reads the token for scope; a missing key is a miss, not an error.
func (c *RedisCache) Get(ctx context.Context, scope string) (core.Token, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+scope).Result()
	if errors.Is(err, redis.Nil) {
		return core.Token{}, false, nil
	}
	if err != nil {
		return core.Token{}, false, fmt.Errorf("redis get: %w", err)
	}

	var tok core.Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return core.Token{}, false, nil
	}
	return tok, true, nil
}

// Set writes tok with ttl. A non-positive ttl is ignored.
func (c *RedisCache) Set(ctx context.Context, scope string, tok core.Token, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+scope, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

var (
	_ Cache = (*InMemoryCache)(nil)
	_ Cache = (*RedisCache)(nil)
)
