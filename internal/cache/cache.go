// Package cache implements a per-key TTL cache with a get-or-compute
// contract. Slow sources use stale-while-revalidate semantics so request
// latency stays bounded; a failing compute never evicts the last good value.
package cache

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type entry struct {
	value     any
	fetchedAt time.Time
	ttl       time.Duration
}

func (e *entry) fresh(now time.Time) bool {
	return now.Sub(e.fetchedAt) < e.ttl
}

// Stats counts cache outcomes. Hooked up to Prometheus by the caller.
type Stats interface {
	Hit(key string)
	Miss(key string)
}

type nopStats struct{}

func (nopStats) Hit(string)  {}
func (nopStats) Miss(string) {}

// Cache is a thread-safe key→(value, timestamp, ttl) store. Each key carries
// its own TTL, set by the caller on every fetch.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	pending map[string]bool // keys with an in-flight background refresh
	clock   func() time.Time
	stats   Stats
	logger  zerolog.Logger
}

// New creates an empty cache.
func New(logger zerolog.Logger) *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		pending: make(map[string]bool),
		clock:   time.Now,
		stats:   nopStats{},
		logger:  logger.With().Str("component", "cache").Logger(),
	}
}

// SetStats installs a stats sink. Must be called before first use.
func (c *Cache) SetStats(s Stats) {
	if s != nil {
		c.stats = s
	}
}

// SetClock overrides the time source. Test hook.
func (c *Cache) SetClock(clock func() time.Time) {
	c.clock = clock
}

// Invalidate forces the next fetch of key to recompute regardless of TTL.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.fetchedAt = time.Time{}
	}
}

// Len returns the number of cached keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// lookup returns the entry value and whether it is fresh. The second return
// reports whether any value exists at all.
func (c *Cache) lookup(key string) (any, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, false
	}
	return e.value, e.fresh(c.clock()), true
}

func (c *Cache) store(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{value: value, fetchedAt: c.clock(), ttl: ttl}
}

// tryBeginRefresh marks key as having an in-flight refresh. Returns false if
// one is already running — callers must not start a second.
func (c *Cache) tryBeginRefresh(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[key] {
		return false
	}
	c.pending[key] = true
	return true
}

func (c *Cache) endRefresh(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, key)
}

// Fetch returns the cached value for key when fresh, otherwise invokes
// compute synchronously and stores the result. When compute fails the
// previous value (if any) is returned unchanged; the error is logged, never
// propagated — a failing source must not poison its slice of the dashboard.
// The bool reports whether the returned value is usable (false only when
// compute failed and no previous value exists).
func Fetch[T any](c *Cache, key string, ttl time.Duration, compute func() (T, error)) (T, bool) {
	if v, fresh, exists := c.lookup(key); exists && fresh {
		c.stats.Hit(key)
		return v.(T), true
	}

	c.stats.Miss(key)
	v, err := compute()
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("compute failed, serving previous value")
		if prev, _, exists := c.lookup(key); exists {
			return prev.(T), true
		}
		var zero T
		return zero, false
	}

	c.store(key, v, ttl)
	return v, true
}

// FetchStale is the stale-while-revalidate variant for slow sources (shell
// commands, network fetches). An expired entry is returned immediately and
// one background refresh is started; concurrent callers share that refresh.
// With no cached value at all the compute runs synchronously, same as Fetch.
func FetchStale[T any](c *Cache, key string, ttl time.Duration, compute func() (T, error)) (T, bool) {
	v, fresh, exists := c.lookup(key)
	if exists && fresh {
		c.stats.Hit(key)
		return v.(T), true
	}

	c.stats.Miss(key)
	if !exists {
		// Nothing to serve yet — pay the cost once, up front.
		return Fetch(c, key, ttl, compute)
	}

	if c.tryBeginRefresh(key) {
		go func() {
			defer c.endRefresh(key)
			nv, err := compute()
			if err != nil {
				c.logger.Warn().Err(err).Str("key", key).Msg("background refresh failed, keeping stale value")
				return
			}
			c.store(key, nv, ttl)
		}()
	}

	return v.(T), true
}
