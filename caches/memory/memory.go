// Package memory provides the in-process cache tier (L1).
//
// Entries carry their own write timestamp and TTL. Reads check expiry
// lazily; a background sweep removes expired entries and, when the map is
// still above its cap, evicts the oldest entries by insertion timestamp.
// Recency of access is not tracked.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ryanuber/go-glob"

	"github.com/blueberrycongee/embedcache/pkg/cache"
)

// Cache is the L1 map. It is safe for concurrent use.
type Cache struct {
	mu    sync.RWMutex
	items map[string]*item
	seq   uint64

	maxEntries      int
	cleanupInterval time.Duration
	now             func() time.Time

	started   atomic.Bool
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
	evictions atomic.Int64
	expired   atomic.Int64
	onSweep   func(expired, evicted int)
}

type item struct {
	entry *cache.Entry
	seq   uint64 // tie-breaker for equal timestamps
}

// Config holds configuration for Cache.
type Config struct {
	MaxEntries      int              `yaml:"max_entries"`      // Cap enforced by the sweep (default: 1000)
	CleanupInterval time.Duration    `yaml:"cleanup_interval"` // Sweep interval (default: 1 minute)
	Now             func() time.Time `yaml:"-"`                // Clock, for tests

	// OnSweep, if set, is called after each background sweep.
	OnSweep func(expired, evicted int) `yaml:"-"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxEntries:      1000,
		CleanupInterval: time.Minute,
	}
}

// New creates an L1 cache. Call Start to run the periodic sweep.
func New(cfg Config) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Cache{
		items:           make(map[string]*item),
		maxEntries:      cfg.MaxEntries,
		cleanupInterval: cfg.CleanupInterval,
		now:             cfg.Now,
		onSweep:         cfg.OnSweep,
		stopCh:          make(chan struct{}),
	}
}

// Start launches the background sweep. It stops when ctx is done or Close is called.
// Calling Start more than once has no effect.
func (c *Cache) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}

	c.wg.Add(1)
	go c.cleanupLoop(ctx)
}

func (c *Cache) cleanupLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			expired, evicted := c.Sweep()
			if c.onSweep != nil {
				c.onSweep(expired, evicted)
			}
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		}
	}
}

// Sweep runs one cleanup cycle: expired entries are removed, then the
// oldest entries are evicted until the map is within MaxEntries.
// It returns the number of expired and evicted entries.
func (c *Cache) Sweep() (expired, evicted int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, it := range c.items {
		if it.entry.Expired(now) {
			delete(c.items, key)
			expired++
		}
	}

	if over := len(c.items) - c.maxEntries; over > 0 {
		type candidate struct {
			key string
			ts  int64
			seq uint64
		}
		candidates := make([]candidate, 0, len(c.items))
		for key, it := range c.items {
			candidates = append(candidates, candidate{key: key, ts: it.entry.Timestamp, seq: it.seq})
		}
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].ts != candidates[j].ts {
				return candidates[i].ts < candidates[j].ts
			}
			return candidates[i].seq < candidates[j].seq
		})
		for _, cand := range candidates[:over] {
			delete(c.items, cand.key)
		}
		evicted = over
	}

	c.expired.Add(int64(expired))
	c.evictions.Add(int64(evicted))
	return expired, evicted
}

// Get returns a live entry. Expired entries are deleted and reported as a miss.
func (c *Cache) Get(key string) (*cache.Entry, bool) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if it.entry.Expired(c.now()) {
		c.mu.Lock()
		// Re-check: the key may have been rewritten since the read lock was released.
		if cur, ok := c.items[key]; ok && cur == it {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	return it.entry, true
}

// Set stores entry under key, replacing any previous entry.
func (c *Cache) Set(key string, entry *cache.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	c.items[key] = &item{entry: entry, seq: c.seq}
}

// Delete removes key. It reports whether the key was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.items[key]
	delete(c.items, key)
	return ok
}

// DeleteMatching removes every key matching the glob pattern ('*' wildcards)
// and returns the removed keys.
func (c *Cache) DeleteMatching(pattern string) []string {
	return c.DeleteFunc(func(key string, _ *cache.Entry) bool {
		return glob.Glob(pattern, key)
	})
}

// DeleteFunc removes every entry for which fn returns true and returns the removed keys.
func (c *Cache) DeleteFunc(fn func(key string, entry *cache.Entry) bool) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []string
	for key, it := range c.items {
		if fn(key, it.entry) {
			delete(c.items, key)
			removed = append(removed, key)
		}
	}
	return removed
}

// Keys returns a snapshot of every stored key, expired or not.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.items))
	for key := range c.items {
		keys = append(keys, key)
	}
	return keys
}

// Len returns the number of stored entries, including not-yet-swept expired ones.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// MaxEntries returns the configured cap.
func (c *Cache) MaxEntries() int {
	return c.maxEntries
}

// Evictions returns how many entries were evicted for capacity.
func (c *Cache) Evictions() int64 {
	return c.evictions.Load()
}

// Expirations returns how many expired entries the sweep removed.
func (c *Cache) Expirations() int64 {
	return c.expired.Load()
}

// Flush removes all entries.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*item)
}

// Close stops the background sweep and waits for it to exit.
func (c *Cache) Close() error {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
	return nil
}
