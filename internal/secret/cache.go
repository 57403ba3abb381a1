package secret

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// CachedProvider memoizes a Provider for ttl. Concurrent lookups of the
// same uncached path share one backend read, and failures are never stored.
type CachedProvider struct {
	inner   Provider
	values  *cache.Cache
	flights singleflight.Group
}

// NewCachedProvider wraps inner.
func NewCachedProvider(inner Provider, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		inner:  inner,
		values: cache.New(ttl, 2*ttl),
	}
}

// Get implements Provider.
func (p *CachedProvider) Get(ctx context.Context, path string) (string, error) {
	if v, ok := p.values.Get(path); ok {
		return v.(string), nil
	}

	v, err, _ := p.flights.Do(path, func() (any, error) {
		val, err := p.inner.Get(ctx, path)
		if err != nil {
			return "", err
		}
		p.values.SetDefault(path, val)
		return val, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Forget drops the cached value for path, or every value when path is empty.
func (p *CachedProvider) Forget(path string) {
	if path == "" {
		p.values.Flush()
		return
	}
	p.values.Delete(path)
}

// Close implements Provider.
func (p *CachedProvider) Close() error {
	return p.inner.Close()
}
