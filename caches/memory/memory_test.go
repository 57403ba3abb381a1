package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/embedcache/pkg/cache"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(maxEntries int) (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	c := New(Config{
		MaxEntries:      maxEntries,
		CleanupInterval: time.Hour,
		Now:             clock.Now,
	})
	return c, clock
}

func TestCache_BasicOperations(t *testing.T) {
	c, clock := newTestCache(100)
	defer c.Close()

	t.Run("set and get", func(t *testing.T) {
		c.Set("key1", cache.NewEntry([]byte(`"value1"`), time.Minute, nil, clock.Now()))

		entry, ok := c.Get("key1")
		require.True(t, ok)
		assert.JSONEq(t, `"value1"`, string(entry.Value))
	})

	t.Run("get non-existent key", func(t *testing.T) {
		entry, ok := c.Get("missing")
		assert.False(t, ok)
		assert.Nil(t, entry)
	})

	t.Run("delete", func(t *testing.T) {
		c.Set("key2", cache.NewEntry([]byte(`2`), time.Minute, nil, clock.Now()))
		assert.True(t, c.Delete("key2"))
		assert.False(t, c.Delete("key2"))

		_, ok := c.Get("key2")
		assert.False(t, ok)
	})

	t.Run("overwrite", func(t *testing.T) {
		c.Set("key3", cache.NewEntry([]byte(`"a"`), time.Minute, nil, clock.Now()))
		c.Set("key3", cache.NewEntry([]byte(`"b"`), time.Minute, nil, clock.Now()))

		entry, ok := c.Get("key3")
		require.True(t, ok)
		assert.JSONEq(t, `"b"`, string(entry.Value))
	})

	t.Run("flush", func(t *testing.T) {
		c.Flush()
		assert.Equal(t, 0, c.Len())
	})
}

func TestCache_ExpiredEntryIsNotAHit(t *testing.T) {
	c, clock := newTestCache(100)
	defer c.Close()

	c.Set("doc:42", cache.NewEntry([]byte(`{"id":42}`), time.Second, nil, clock.Now()))

	clock.Advance(time.Second)
	_, ok := c.Get("doc:42")
	assert.True(t, ok, "entry is live at exactly timestamp+ttl")

	clock.Advance(time.Millisecond)
	_, ok = c.Get("doc:42")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry should be removed on read")
}

func TestCache_SweepRemovesExpired(t *testing.T) {
	c, clock := newTestCache(100)
	defer c.Close()

	c.Set("short", cache.NewEntry([]byte(`1`), time.Second, nil, clock.Now()))
	c.Set("long", cache.NewEntry([]byte(`2`), time.Hour, nil, clock.Now()))

	clock.Advance(2 * time.Second)
	expired, evicted := c.Sweep()

	assert.Equal(t, 1, expired)
	assert.Equal(t, 0, evicted)
	assert.Equal(t, []string{"long"}, c.Keys())
	assert.Equal(t, int64(1), c.Expirations())
}

func TestCache_SweepEvictsOldestByInsertion(t *testing.T) {
	c, clock := newTestCache(3)
	defer c.Close()

	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), cache.NewEntry([]byte(`0`), time.Hour, nil, clock.Now()))
		clock.Advance(time.Millisecond)
	}

	// Reading k0 must not protect it: eviction ignores access recency.
	_, ok := c.Get("k0")
	require.True(t, ok)

	_, evicted := c.Sweep()
	assert.Equal(t, 2, evicted)
	assert.Equal(t, 3, c.Len())

	keys := c.Keys()
	sort.Strings(keys)
	assert.Equal(t, []string{"k2", "k3", "k4"}, keys)
	assert.Equal(t, int64(2), c.Evictions())
}

func TestCache_SweepEvictionTieBreaksOnWriteOrder(t *testing.T) {
	c, clock := newTestCache(1)
	defer c.Close()

	now := clock.Now()
	c.Set("first", cache.NewEntry([]byte(`1`), time.Hour, nil, now))
	c.Set("second", cache.NewEntry([]byte(`2`), time.Hour, nil, now))

	c.Sweep()
	assert.Equal(t, []string{"second"}, c.Keys())
}

func TestCache_DeleteMatching(t *testing.T) {
	c, clock := newTestCache(100)
	defer c.Close()

	for _, key := range []string{"app:search:u1:q1", "app:search:u1:q2", "app:search:u2:q1", "app:chat:u1"} {
		c.Set(key, cache.NewEntry([]byte(`0`), time.Hour, nil, clock.Now()))
	}

	removed := c.DeleteMatching("app:search:u1:*")
	sort.Strings(removed)
	assert.Equal(t, []string{"app:search:u1:q1", "app:search:u1:q2"}, removed)
	assert.Equal(t, 2, c.Len())
}

func TestCache_StartAndClose(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := New(Config{
		MaxEntries:      10,
		CleanupInterval: 10 * time.Millisecond,
		Now:             clock.Now,
	})

	c.Set("k", cache.NewEntry([]byte(`0`), time.Second, nil, clock.Now()))
	clock.Advance(time.Minute)

	c.Start(context.Background())
	c.Start(context.Background()) // second call is a no-op

	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestCache_StopsOnContextCancel(t *testing.T) {
	c := New(Config{CleanupInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	c.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweep goroutine did not exit after context cancel")
	}
}

func TestCache_Concurrency(t *testing.T) {
	c := New(Config{MaxEntries: 50, CleanupInterval: time.Millisecond})
	c.Start(context.Background())
	defer c.Close()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("g%d-%d", g, i%20)
				c.Set(key, cache.NewEntry([]byte(`0`), time.Minute, nil, time.Now()))
				c.Get(key)
				if i%7 == 0 {
					c.Delete(key)
				}
			}
		}(g)
	}
	wg.Wait()

	c.Sweep()
	assert.LessOrEqual(t, c.Len(), 50)
}

func TestCache_BackgroundSweepCallsOnSweep(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	swept := make(chan [2]int, 16)
	c := New(Config{
		MaxEntries:      10,
		CleanupInterval: 10 * time.Millisecond,
		Now:             clock.Now,
		OnSweep:         func(expired, evicted int) { swept <- [2]int{expired, evicted} },
	})
	defer c.Close()

	c.Set("k", cache.NewEntry([]byte(`0`), time.Second, nil, clock.Now()))
	clock.Advance(time.Minute)
	c.Start(context.Background())

	select {
	case got := <-swept:
		assert.Equal(t, [2]int{1, 0}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("OnSweep was not called")
	}
	assert.Equal(t, int64(1), c.Expirations())
}
