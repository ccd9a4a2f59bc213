package supabase

import (
	"sync"
	"time"

	"prism-backend/pkg/observability"
)

// Default TTLs for the read caches. The graph cache bounds the cost of
// redundant full refreshes triggered by UI polling; the member list changes
// far less often and lasts longer.
const (
	DefaultGraphCacheTTL   = 5 * time.Second
	DefaultMembersCacheTTL = 30 * time.Second
)

// ttlCache is a single-value read cache with a fixed TTL, invalidated
// synchronously on every local write. It offers intra-process cost
// reduction only, no cross-process consistency.
type ttlCache[T any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	value   T
	set     bool
	expires time.Time
	metrics *observability.Collector
}

func newTTLCache[T any](ttl time.Duration, metrics *observability.Collector) *ttlCache[T] {
	return &ttlCache[T]{ttl: ttl, metrics: metrics}
}

func (c *ttlCache[T]) get() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.set && time.Now().Before(c.expires) {
		c.metrics.CacheHit()
		return c.value, true
	}
	c.metrics.CacheMiss()
	var zero T
	return zero, false
}

func (c *ttlCache[T]) put(value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = value
	c.set = true
	c.expires = time.Now().Add(c.ttl)
}

func (c *ttlCache[T]) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	c.value = zero
	c.set = false
}
