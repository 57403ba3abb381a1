package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/blueberrycongee/embedcache/caches/redis"
	"github.com/blueberrycongee/embedcache/caches/tiered"
	"github.com/blueberrycongee/embedcache/internal/config"
	"github.com/blueberrycongee/embedcache/internal/metrics"
)

// buildStore creates the tiered store and starts its sweep. It returns nil
// when caching is disabled.
func buildStore(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) (*tiered.Store, error) {
	if !cfg.Enabled {
		logger.Info("cache disabled")
		return nil, nil
	}

	var remote *redis.Store
	if cfg.RemoteEnabled() {
		var err error
		remote, err = redis.New(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
	}

	opts := []tiered.Option{
		tiered.WithLogger(logger),
		tiered.WithObserver(metrics.CacheObserver{}),
	}

	var store *tiered.Store
	if remote != nil {
		store = tiered.New(remote, cfg.Tiered(), opts...)
	} else {
		store = tiered.New(nil, cfg.Tiered(), opts...)
	}
	store.Start(ctx)

	logger.Info("cache enabled",
		"prefix", cfg.Prefix,
		"remote", cfg.RemoteEnabled(),
		"memory_max_entries", cfg.Memory.MaxEntries,
	)
	return store, nil
}
