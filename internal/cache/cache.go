// Package cache implements the three-tier response cache (C9): an L1
// in-process LRU, an L2 shared KeyValueStore, and a pluggable L3 semantic
// stub, plus tag/pattern invalidation, cross-instance pub/sub
// invalidation, and scheduled invalidation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aiorchestrator/orchestrator/internal/clock"
	"github.com/aiorchestrator/orchestrator/internal/domain"
	"github.com/aiorchestrator/orchestrator/internal/observability"
)

const (
	// DefaultMaxSize bounds L1 entries.
	DefaultMaxSize = 10_000
	// DefaultTTL is applied when a caller doesn't override it.
	DefaultTTL = 24 * time.Hour
	// DefaultCleanupInterval is how often the L1 sweeper removes expired
	// entries.
	DefaultCleanupInterval = 5 * time.Minute

	l2KeyPrefix    = "ai:cache:"
	tagKeyPrefix   = "cache:tag:"
	invalidationCh = "cache:invalidation"
	rulesKey       = "cache:invalidation:rules"
	scheduleKey    = "cache:invalidation:schedule"
)

// SemanticCache is the optional L3 tier. The default implementation is a
// no-op; a real embedding-backed implementation can be swapped in without
// touching Cache.
type SemanticCache interface {
	Lookup(ctx context.Context, prompt, model string, threshold float64) (string, bool, error)
	Store(ctx context.Context, prompt, response, model string) error
}

// NoopSemanticCache is the default L3: always a miss, writes are no-ops.
type NoopSemanticCache struct{}

func (NoopSemanticCache) Lookup(context.Context, string, string, float64) (string, bool, error) {
	return "", false, nil
}
func (NoopSemanticCache) Store(context.Context, string, string, string) error { return nil }

type entry struct {
	value     string
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Cache is the tiered response cache.
type Cache struct {
	mu  sync.Mutex
	l1  *lru.Cache[string, entry]
	l2  domain.KeyValueStore
	l3  SemanticCache
	clk domain.Clock

	instanceID string // used as pub/sub "source" for self-message dedup

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupOnce     sync.Once
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithSemanticCache swaps in a real L3 implementation.
func WithSemanticCache(l3 SemanticCache) Option {
	return func(c *Cache) { c.l3 = l3 }
}

// WithMaxSize overrides the L1 LRU size.
func WithMaxSize(maxSize int) Option {
	return func(c *Cache) {
		l1, err := lru.New[string, entry](maxSize)
		if err == nil {
			c.l1 = l1
		}
	}
}

// WithCleanupInterval overrides the L1 sweep cadence.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *Cache) { c.cleanupInterval = d }
}

// New constructs a Cache. l2 and clk are required; instanceID identifies
// this process in cross-instance invalidation messages.
func New(l2 domain.KeyValueStore, clk domain.Clock, instanceID string, opts ...Option) *Cache {
	if clk == nil {
		clk = clock.Real{}
	}
	l1, _ := lru.New[string, entry](DefaultMaxSize)
	c := &Cache{
		l1:              l1,
		l2:              l2,
		l3:              NoopSemanticCache{},
		clk:             clk,
		instanceID:      instanceID,
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key derives the canonical cache key for a (prompt, model) pair:
// sha256(trim(lowercase(prompt))) || ":" || model.
func Key(prompt, model string) string {
	normalized := strings.TrimSpace(strings.ToLower(prompt))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:]) + ":" + model
}

func l2Key(key string) string { return l2KeyPrefix + key }

// Get looks up key across L1 then L2, promoting an L2 hit back into L1.
// It does not consult L3 — callers needing semantic lookup call
// LookupSemantic explicitly, since that tier takes prompt/model/threshold
// rather than a precomputed key.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	now := c.clk.Now()

	c.mu.Lock()
	e, ok := c.l1.Get(key)
	c.mu.Unlock()
	if ok && !e.expired(now) {
		observability.CacheHitsTotal.WithLabelValues("l1").Inc()
		return e.value, true, nil
	}

	val, ok, err := c.l2.Get(ctx, l2Key(key))
	if err != nil {
		return "", false, err
	}
	if !ok {
		observability.CacheMissesTotal.WithLabelValues().Inc()
		return "", false, nil
	}
	observability.CacheHitsTotal.WithLabelValues("l2").Inc()

	c.mu.Lock()
	c.l1.Add(key, entry{value: val, expiresAt: now.Add(DefaultTTL)})
	c.mu.Unlock()
	return val, true, nil
}

// LookupSemantic consults L3 directly; it is never used implicitly by Get.
func (c *Cache) LookupSemantic(ctx context.Context, prompt, model string, threshold float64) (string, bool, error) {
	val, ok, err := c.l3.Lookup(ctx, prompt, model, threshold)
	if err == nil && ok {
		observability.CacheHitsTotal.WithLabelValues("l3").Inc()
	}
	return val, ok, err
}

// Set writes value under key into L1, L2, and (write-through) L3,
// tagging it for later tag-based invalidation.
func (c *Cache) Set(ctx context.Context, key, prompt, model, value string, ttl time.Duration, tags ...string) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := c.clk.Now()

	c.mu.Lock()
	c.l1.Add(key, entry{value: value, expiresAt: now.Add(ttl)})
	c.mu.Unlock()

	if err := c.l2.Set(ctx, l2Key(key), value, ttl); err != nil {
		return err
	}
	for _, tag := range tags {
		if err := c.l2.SAdd(ctx, tagKeyPrefix+tag, key); err != nil {
			return err
		}
	}
	if prompt != "" {
		_ = c.l3.Store(ctx, prompt, value, model)
	}
	return nil
}

// Invalidate deletes key from every tier and announces it cross-instance.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	c.deleteLocal(key)
	if err := c.l2.Del(ctx, l2Key(key)); err != nil {
		return err
	}
	return c.announce(ctx, "key", key, "")
}

func (c *Cache) deleteLocal(key string) {
	c.mu.Lock()
	c.l1.Remove(key)
	c.mu.Unlock()
}

// InvalidateByPattern removes every L1 key containing pattern as a
// substring and every L2 key matching ai:cache:*pattern*.
func (c *Cache) InvalidateByPattern(ctx context.Context, pattern string) error {
	c.invalidateLocalByPattern(pattern)

	keys, err := c.l2.Keys(ctx, l2KeyPrefix+"*"+pattern+"*")
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		if err := c.l2.Del(ctx, keys...); err != nil {
			return err
		}
	}
	return c.announce(ctx, "pattern", pattern, "")
}

func (c *Cache) invalidateLocalByPattern(pattern string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.l1.Keys() {
		if strings.Contains(key, pattern) {
			c.l1.Remove(key)
		}
	}
}

// InvalidateByTag removes every key ever Set with tag, across L1 and L2.
func (c *Cache) InvalidateByTag(ctx context.Context, tag string) error {
	members, err := c.l2.SMembers(ctx, tagKeyPrefix+tag)
	if err != nil {
		return err
	}
	for _, key := range members {
		c.deleteLocal(key)
	}
	if len(members) > 0 {
		l2Keys := make([]string, len(members))
		for i, k := range members {
			l2Keys[i] = l2Key(k)
		}
		if err := c.l2.Del(ctx, l2Keys...); err != nil {
			return err
		}
	}
	if err := c.l2.Del(ctx, tagKeyPrefix+tag); err != nil {
		return err
	}
	return c.announce(ctx, "tag", tag, "")
}

// ClearAll empties L1 and every ai:cache:* key in L2.
func (c *Cache) ClearAll(ctx context.Context) error {
	c.mu.Lock()
	c.l1.Purge()
	c.mu.Unlock()

	keys, err := c.l2.Keys(ctx, l2KeyPrefix+"*")
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		if err := c.l2.Del(ctx, keys...); err != nil {
			return err
		}
	}
	return c.announce(ctx, "clear", "", "")
}

// StartCleanup runs the L1 expired-entry sweeper until ctx is done or
// StopCleanup is called.
func (c *Cache) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(c.cleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCleanup:
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

// StopCleanup halts the sweeper; safe to call multiple times.
func (c *Cache) StopCleanup() {
	c.cleanupOnce.Do(func() { close(c.stopCleanup) })
}

func (c *Cache) sweep() {
	now := c.clk.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.l1.Keys() {
		e, ok := c.l1.Peek(key)
		if ok && e.expired(now) {
			c.l1.Remove(key)
		}
	}
}
