// Package resilience guards calls to embedding providers with a request rate
// limit, a cap on concurrent in-flight calls and a circuit breaker.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/blueberrycongee/embedcache/pkg/errors"
	"github.com/blueberrycongee/embedcache/pkg/provider"
)

// Config configures a GuardedEmbedder. Zero values disable the matching guard.
type Config struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	MaxConcurrent     int64   `yaml:"max_concurrent"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// Enabled reports whether any guard is configured.
func (c Config) Enabled() bool {
	return c.RequestsPerSecond > 0 || c.MaxConcurrent > 0 || c.Breaker.Enabled()
}

// GuardedEmbedder wraps an Embedder. Embed waits for a rate token and a
// concurrency slot before calling through; both waits honour ctx.
type GuardedEmbedder struct {
	provider.Embedder
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	breaker *Breaker
}

var _ provider.Embedder = (*GuardedEmbedder)(nil)

// Guard wraps e with the configured guards. If none is configured, e is returned as is.
// Breaker transitions are logged to logger when it is non-nil.
func Guard(e provider.Embedder, cfg Config, logger *slog.Logger) provider.Embedder {
	if !cfg.Enabled() {
		return e
	}

	g := &GuardedEmbedder{Embedder: e}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	if cfg.MaxConcurrent > 0 {
		g.sem = semaphore.NewWeighted(cfg.MaxConcurrent)
	}
	if cfg.Breaker.Enabled() {
		g.breaker = NewBreaker(cfg.Breaker)
		if logger != nil {
			name := e.Name()
			g.breaker.OnTransition(func(from, to BreakerState) {
				logger.Warn("provider circuit changed state",
					"provider", name,
					"from", from.String(),
					"to", to.String(),
				)
			})
		}
	}
	return g
}

// BreakerState returns the circuit state. It is StateClosed when no breaker is configured.
func (g *GuardedEmbedder) BreakerState() BreakerState {
	if g.breaker == nil {
		return StateClosed
	}
	return g.breaker.State()
}

// Embed implements provider.Embedder.
func (g *GuardedEmbedder) Embed(ctx context.Context, texts []string, req provider.EmbedRequest) (*provider.EmbedResponse, error) {
	if g.breaker != nil && !g.breaker.Allow() {
		e := errors.NewGenericError(g.Name(), g.Model(), "provider circuit is open", http.StatusServiceUnavailable)
		e.Err = ErrCircuitOpen
		return nil, e
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			g.abandon()
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	if g.sem != nil {
		if err := g.sem.Acquire(ctx, 1); err != nil {
			g.abandon()
			return nil, fmt.Errorf("concurrency wait: %w", err)
		}
		defer g.sem.Release(1)
	}

	resp, err := g.Embedder.Embed(ctx, texts, req)
	g.release(ctx, err)
	return resp, err
}

// release reports the outcome of an allowed call to the breaker. A permanent
// request error still means the provider answered.
func (g *GuardedEmbedder) release(ctx context.Context, err error) {
	if g.breaker == nil {
		return
	}
	switch {
	case err == nil, !errors.IsRetryable(err):
		g.breaker.Success()
	case ctx.Err() != nil:
		g.breaker.Abandon()
	default:
		g.breaker.Failure()
	}
}

func (g *GuardedEmbedder) abandon() {
	if g.breaker != nil {
		g.breaker.Abandon()
	}
}
