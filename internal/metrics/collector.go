package metrics

import (
	"time"

	"github.com/blueberrycongee/embedcache/pkg/cache"
	"github.com/blueberrycongee/embedcache/pkg/errors"
)

// CacheObserver records tiered store events.
type CacheObserver struct{}

func (CacheObserver) Hit(ns cache.Namespace, tier string) {
	CacheHits.WithLabelValues(namespaceLabel(ns), tier).Inc()
}

func (CacheObserver) Miss(ns cache.Namespace) {
	CacheMisses.WithLabelValues(namespaceLabel(ns)).Inc()
}

func (CacheObserver) Set(ns cache.Namespace) {
	CacheSets.WithLabelValues(namespaceLabel(ns)).Inc()
}

func (CacheObserver) Delete(ns cache.Namespace, n int) {
	if n > 0 {
		CacheDeletes.WithLabelValues(namespaceLabel(ns)).Add(float64(n))
	}
}

func (CacheObserver) Error(op string) {
	CacheErrors.WithLabelValues(op).Inc()
}

func (CacheObserver) MemoryEntries(n int) {
	CacheMemoryEntries.Set(float64(n))
}

func (CacheObserver) Swept(expired, evicted int) {
	if expired > 0 {
		CacheMemoryRemovals.WithLabelValues("expired").Add(float64(expired))
	}
	if evicted > 0 {
		CacheMemoryRemovals.WithLabelValues("evicted").Add(float64(evicted))
	}
}

func namespaceLabel(ns cache.Namespace) string {
	if ns == cache.NamespaceNone {
		return "none"
	}
	return string(ns)
}

// EmbeddingObserver records embedding pipeline events.
type EmbeddingObserver struct{}

func (EmbeddingObserver) Request(kind string, cached, generated int) {
	if cached > 0 {
		EmbeddingRequests.WithLabelValues(kind, "cached").Add(float64(cached))
	}
	if generated > 0 {
		EmbeddingRequests.WithLabelValues(kind, "generated").Add(float64(generated))
	}
}

func (EmbeddingObserver) ProviderCall(provider string, inputs int, latency time.Duration, err error) {
	provider = sanitizeLabel(provider)
	status := "ok"
	if err != nil {
		status = string(errors.Classify(err, provider, "").Code)
	}
	ProviderCalls.WithLabelValues(provider, status).Inc()
	ProviderInputs.WithLabelValues(provider).Add(float64(inputs))
	ProviderLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

func (EmbeddingObserver) Retry(provider string) {
	Retries.WithLabelValues(sanitizeLabel(provider)).Inc()
}
