package testutil

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/blueberrycongee/embedcache/caches/redis"
	"github.com/blueberrycongee/embedcache/caches/tiered"
)

// NewTieredStore returns a tiered store backed by a fresh miniredis server.
// Both are closed when the test ends.
func NewTieredStore(t testing.TB, opts ...tiered.Option) (*tiered.Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	remote := redis.NewFromClient(goredis.NewClient(&goredis.Options{
		Addr:       mr.Addr(),
		MaxRetries: -1,
	}))
	t.Cleanup(func() { _ = remote.Close() })

	cfg := tiered.DefaultConfig()
	cfg.Prefix = "test"
	cfg.Memory.CleanupInterval = time.Hour

	store := tiered.New(remote, cfg, opts...)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}
