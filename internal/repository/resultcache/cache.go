package resultcache

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// DefaultTTL is applied by Put.
const DefaultTTL = 10 * time.Minute

type entry[V any] struct {
	data     []V
	storedAt time.Time
	ttl      time.Duration
}

func (e *entry[V]) valid(now time.Time) bool {
	return now.Sub(e.storedAt) < e.ttl
}

// Cache is a process-local key → result-set store with per-entry TTL.
// Hits go through sync.Map and never wait on writers; writes are last-write-wins per key.
// Expired entries are logically absent and are removed lazily on Get or eagerly by
// InvalidateExpired.
type Cache[V any] struct {
	entries sync.Map // string -> *entry[V]

	mu     sync.Mutex // guards policy
	policy Policy

	ttl       time.Duration
	now       func() time.Time
	lookups   *prometheus.CounterVec
	evictions *prometheus.CounterVec
	logger    *zap.Logger
}

// New creates a cache. ttl <= 0 falls back to DefaultTTL.
func New[V any](ttl time.Duration, logger *zap.Logger) *Cache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache[V]{ttl: ttl, now: time.Now, logger: logger}
}

// WithPolicy sets a size/eviction policy consulted on every Put. nil means unbounded.
func (c *Cache[V]) WithPolicy(p Policy) *Cache[V] {
	c.policy = p
	return c
}

// WithMetrics attaches counters. lookups has label "result" (hit/miss),
// evictions has label "reason" (expired/capacity). Either may be nil.
func (c *Cache[V]) WithMetrics(lookups, evictions *prometheus.CounterVec) *Cache[V] {
	c.lookups = lookups
	c.evictions = evictions
	return c
}

// WithClock overrides the time source.
func (c *Cache[V]) WithClock(now func() time.Time) *Cache[V] {
	c.now = now
	return c
}

// TTL returns the default entry lifetime.
func (c *Cache[V]) TTL() time.Duration { return c.ttl }

// Get returns the data stored at key if present and unexpired.
func (c *Cache[V]) Get(key string) ([]V, bool) {
	v, ok := c.entries.Load(key)
	if !ok {
		c.inc(c.lookups, "miss")
		return nil, false
	}

	e := v.(*entry[V])
	if !e.valid(c.now()) {
		// Only drop the entry we saw: a concurrent Put may have replaced it.
		if c.entries.CompareAndDelete(key, e) {
			c.forget(key)
			c.inc(c.evictions, "expired")
		}
		c.inc(c.lookups, "miss")
		return nil, false
	}

	c.touch(key)
	c.inc(c.lookups, "hit")
	return slices.Clone(e.data), true
}

// Put stores data at key with the default TTL.
func (c *Cache[V]) Put(key string, data []V) {
	c.PutTTL(key, data, c.ttl)
}

// PutTTL stores data at key with the given TTL, overwriting any previous entry.
func (c *Cache[V]) PutTTL(key string, data []V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	e := &entry[V]{
		data:     slices.Clone(data),
		storedAt: c.now(),
		ttl:      ttl,
	}

	if c.policy == nil {
		c.entries.Store(key, e)
		return
	}

	// Store, Added and the evictions it returns happen under mu so the policy and the
	// entry map never disagree about which keys are held.
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Store(key, e)
	for _, k := range c.policy.Added(key) {
		if _, loaded := c.entries.LoadAndDelete(k); loaded {
			c.inc(c.evictions, "capacity")
		}
	}
}

// InvalidateExpired removes every expired entry and returns how many were removed.
func (c *Cache[V]) InvalidateExpired() int {
	now := c.now()
	removed := 0
	c.entries.Range(func(k, v any) bool {
		if !v.(*entry[V]).valid(now) && c.entries.CompareAndDelete(k, v) {
			c.forget(k.(string))
			removed++
		}
		return true
	})
	if c.evictions != nil && removed > 0 {
		c.evictions.WithLabelValues("expired").Add(float64(removed))
	}
	return removed
}

// Clear drops every entry.
func (c *Cache[V]) Clear() {
	if c.policy != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.policy.Reset()
	}
	c.entries.Range(func(k, _ any) bool {
		c.entries.Delete(k)
		return true
	})
}

// Len returns the number of unexpired entries.
func (c *Cache[V]) Len() int {
	now := c.now()
	n := 0
	c.entries.Range(func(_, v any) bool {
		if v.(*entry[V]).valid(now) {
			n++
		}
		return true
	})
	return n
}

// Run sweeps expired entries every interval until ctx is done.
func (c *Cache[V]) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.InvalidateExpired(); n > 0 {
				c.logger.Debug("Swept expired cache entries", zap.Int("removed", n))
			}
		}
	}
}

// touch records a read with the policy. A busy policy lock skips the update so a read
// never waits on a writer.
func (c *Cache[V]) touch(key string) {
	if c.policy == nil || !c.mu.TryLock() {
		return
	}
	c.policy.Touched(key)
	c.mu.Unlock()
}

// forget drops key from the policy after its entry was deleted. It runs only on expiry,
// so waiting for mu is fine. A key stored again in the meantime stays tracked.
func (c *Cache[V]) forget(key string) {
	if c.policy == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries.Load(key); ok {
		return
	}
	c.policy.Removed(key)
}

func (c *Cache[V]) inc(vec *prometheus.CounterVec, label string) {
	if vec != nil {
		vec.WithLabelValues(label).Inc()
	}
}
