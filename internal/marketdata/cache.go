package marketdata

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Cache stores get_bars results keyed by (symbol, interval, start, end).
// The key must be hash-stable across process restarts (§4.1).
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, val []byte, ttl time.Duration)
}

// BarCacheKey builds the hash-stable cache key for a get_bars call.
func BarCacheKey(symbol, interval string, start, end time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%d",
		symbol, interval, start.UTC().Unix(), end.UTC().Unix())))
	return hex.EncodeToString(sum[:])
}

type memoryCache struct {
	mu sync.Mutex
	m  map[string]cacheEntry
}

type cacheEntry struct {
	b   []byte
	exp time.Time
}

// NewMemoryCache returns an in-process cache suitable for single-node
// deployments and tests.
func NewMemoryCache() Cache {
	return &memoryCache{m: make(map[string]cacheEntry)}
}

func (c *memoryCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok || (!e.exp.IsZero() && time.Now().After(e.exp)) {
		return nil, false
	}
	return e.b, true
}

func (c *memoryCache) Set(key string, val []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := cacheEntry{b: append([]byte(nil), val...)}
	if ttl > 0 {
		e.exp = time.Now().Add(ttl)
	}
	c.m[key] = e
}

type redisCache struct{ r *redis.Client }

// NewCache returns a Redis-backed cache when REDIS_ADDR is set, else an
// in-process cache — the same auto-selection the rest of the platform uses
// for single-node-vs-cluster deployments.
func NewCache() Cache {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return &redisCache{r: redis.NewClient(&redis.Options{Addr: addr})}
	}
	return NewMemoryCache()
}

func (r *redisCache) Get(key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	v, err := r.r.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return v, true
}

func (r *redisCache) Set(key string, val []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = r.r.Set(ctx, key, val, ttl).Err()
}
