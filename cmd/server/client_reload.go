package main

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/blueberrycongee/embedcache"
	"github.com/blueberrycongee/embedcache/caches/tiered"
	"github.com/blueberrycongee/embedcache/internal/config"
)

type clientSwapper interface {
	SwapClient(*embedcache.Client)
}

type secretRefresher interface {
	Refresh()
}

// configApplier pushes a reloaded configuration into the running service.
// Server, cache connection and admin token changes need a restart.
type configApplier struct {
	logger     *slog.Logger
	store      *tiered.Store
	secrets    secretRefresher
	swapper    clientSwapper
	build      func(context.Context, *config.Config) (*embedcache.Client, error)
	timeout    time.Duration
	inProgress atomic.Bool
}

func (a *configApplier) Apply(cfg *config.Config) {
	if !a.inProgress.CompareAndSwap(false, true) {
		a.logger.Warn("config apply already in progress")
		return
	}
	defer a.inProgress.Store(false)

	if a.store != nil {
		a.store.SetTTLPolicy(cfg.Cache.TTL)
	}
	if a.secrets != nil {
		a.secrets.Refresh()
	}

	timeout := a.timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	next, err := a.build(ctx, cfg)
	if err != nil {
		a.logger.Error("failed to rebuild embedding client, keeping current", "error", err)
		return
	}
	a.swapper.SwapClient(next)

	a.logger.Info("configuration applied",
		"provider", cfg.Provider.Name,
		"model", cfg.Provider.Model,
		"embeddings_ttl", cfg.Cache.TTL.Embeddings,
	)
}
