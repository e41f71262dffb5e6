// Package tiered implements a two-level (L1 + L2) cache adapter.
package tiered

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/agentopt/internal/port/cache"
)

// DefaultL2Backoff is how long L2 is bypassed after it fails.
const DefaultL2Backoff = 30 * time.Second

// Cache combines an in-process L1 with a shared L2. Callers that must not
// see each other's entries scope their keys.
//
// L2 is best effort: its errors are logged and treated as misses, and after
// a failure L2 is skipped for a backoff period so an unreachable broker does
// not add latency to task routing. L1 entries never outlive l1Expire.
type Cache struct {
	l1       cache.Cache
	l2       cache.Cache
	l1Expire time.Duration
	backoff  time.Duration
	now      func() time.Time

	mu        sync.Mutex
	skipUntil time.Time
}

// New creates a tiered cache with the given L1 and L2 backends.
func New(l1, l2 cache.Cache, l1Expire time.Duration) *Cache {
	return &Cache{l1: l1, l2: l2, l1Expire: l1Expire, backoff: DefaultL2Backoff, now: time.Now}
}

// WithBackoff overrides DefaultL2Backoff.
func (c *Cache) WithBackoff(d time.Duration) *Cache {
	c.backoff = d
	return c
}

func (c *Cache) l2Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.now().Before(c.skipUntil)
}

func (c *Cache) l2Failed(op, key string, err error) {
	c.mu.Lock()
	c.skipUntil = c.now().Add(c.backoff)
	c.mu.Unlock()
	slog.Warn("l2 cache unavailable", "op", op, "key", key, "backoff", c.backoff, "error", err)
}

func (c *Cache) l1TTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || (c.l1Expire > 0 && c.l1Expire < ttl) {
		return c.l1Expire
	}
	return ttl
}

// Get checks L1, then L2. An L2 hit is copied into L1.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	val, found, err := c.l1.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found || !c.l2Available() {
		return val, found, nil
	}

	val, found, err = c.l2.Get(ctx, key)
	if err != nil {
		c.l2Failed("get", key, err)
		return nil, false, nil
	}
	if !found {
		return nil, false, nil
	}
	_ = c.l1.Set(ctx, key, val, c.l1Expire)
	return val, true, nil
}

// Set writes to L1, then L2.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, c.l1TTL(ttl)); err != nil {
		return err
	}
	if !c.l2Available() {
		return nil
	}
	if err := c.l2.Set(ctx, key, value, ttl); err != nil {
		c.l2Failed("set", key, err)
	}
	return nil
}

// Delete removes from both levels. L2 failures are logged only.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.l1.Delete(ctx, key); err != nil {
		return err
	}
	if !c.l2Available() {
		return nil
	}
	if err := c.l2.Delete(ctx, key); err != nil {
		c.l2Failed("delete", key, err)
	}
	return nil
}
