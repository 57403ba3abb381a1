package embedcache

import (
	"log/slog"
	"time"

	"github.com/blueberrycongee/embedcache/caches/tiered"
	"github.com/blueberrycongee/embedcache/internal/resilience"
)

// TokenCounter counts the tokens of an input text.
type TokenCounter interface {
	CountTokens(text string) int
}

// Observer receives pipeline events, typically to export them as metrics.
type Observer interface {
	// Request is called once per GenerateEmbedding/GenerateEmbeddings call.
	Request(kind string, cached, generated int)
	// ProviderCall is called after every provider attempt.
	ProviderCall(provider string, inputs int, latency time.Duration, err error)
	// Retry is called before every retry of a provider call.
	Retry(provider string)
}

type nopObserver struct{}

func (nopObserver) Request(string, int, int)                       {}
func (nopObserver) ProviderCall(string, int, time.Duration, error) {}
func (nopObserver) Retry(string)                                   {}

// ClientConfig holds all configuration for the embedding client.
type ClientConfig struct {
	// Model and Dimensions used when a call does not set them.
	// Empty values fall back to the embedder's defaults.
	Model      string
	Dimensions int

	// Input validation
	MaxInputTokens int
	TokenCounter   TokenCounter

	// Retry
	MaxAttempts int
	RetryDelay  time.Duration // Delay before retry i is RetryDelay*i
	// FailFast stops retrying on credential and request-shape failures.
	// Off by default: every failure is retried up to MaxAttempts.
	FailFast bool

	// Batching
	MaxBatchSize int
	BatchDelay   time.Duration // Pause between chunks

	// Caching
	Store    *tiered.Store // nil disables caching
	CacheTTL time.Duration // 0 uses the embeddings namespace default

	// Concurrent identical misses share one provider call.
	Coalesce bool

	// Provider guards (rate limit, concurrency)
	Guard resilience.Config

	Logger   *slog.Logger
	Observer Observer
}

// Option is a function that configures the Client.
type Option func(*ClientConfig)

// defaultConfig returns sensible defaults.
func defaultConfig() *ClientConfig {
	return &ClientConfig{
		MaxInputTokens: 8191,
		MaxAttempts:    3,
		RetryDelay:     time.Second,
		MaxBatchSize:   100,
		BatchDelay:     100 * time.Millisecond,
		Logger:         slog.Default(),
		Observer:       nopObserver{},
	}
}

// WithModel sets the default model and dimensions.
func WithModel(model string, dimensions int) Option {
	return func(c *ClientConfig) {
		c.Model = model
		c.Dimensions = dimensions
	}
}

// WithStore enables caching through the tiered store.
func WithStore(store *tiered.Store) Option {
	return func(c *ClientConfig) {
		c.Store = store
	}
}

// WithCacheTTL sets the TTL of cached embeddings.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *ClientConfig) {
		c.CacheTTL = ttl
	}
}

// WithRetry configures retry behavior.
// attempts: total provider attempts (1 = no retries)
// delay: base delay; the wait before retry i is delay*i
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *ClientConfig) {
		c.MaxAttempts = attempts
		c.RetryDelay = delay
	}
}

// WithFailFast stops retries early when the provider rejects the API key or
// the request, instead of spending the remaining attempts.
func WithFailFast(enabled bool) Option {
	return func(c *ClientConfig) {
		c.FailFast = enabled
	}
}

// WithBatching sets the chunk size and the pause between chunks.
func WithBatching(maxBatchSize int, delay time.Duration) Option {
	return func(c *ClientConfig) {
		c.MaxBatchSize = maxBatchSize
		c.BatchDelay = delay
	}
}

// WithMaxInputTokens sets the per-text token ceiling.
func WithMaxInputTokens(n int) Option {
	return func(c *ClientConfig) {
		c.MaxInputTokens = n
	}
}

// WithTokenCounter replaces the ceil(chars/4) estimate used for validation.
func WithTokenCounter(counter TokenCounter) Option {
	return func(c *ClientConfig) {
		c.TokenCounter = counter
	}
}

// WithRequestCoalescing makes concurrent GenerateEmbedding calls for the
// same uncached text share a single provider call. Off by default.
func WithRequestCoalescing(enabled bool) Option {
	return func(c *ClientConfig) {
		c.Coalesce = enabled
	}
}

// WithProviderGuard wraps provider calls in the guards cfg enables.
func WithProviderGuard(cfg resilience.Config) Option {
	return func(c *ClientConfig) {
		c.Guard = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *ClientConfig) {
		c.Logger = logger
	}
}

// WithObserver sets the event observer.
func WithObserver(o Observer) Option {
	return func(c *ClientConfig) {
		c.Observer = o
	}
}
