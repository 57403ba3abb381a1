package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/blueberrycongee/embedcache"
	"github.com/blueberrycongee/embedcache/caches/tiered"
	"github.com/blueberrycongee/embedcache/internal/config"
	"github.com/blueberrycongee/embedcache/internal/metrics"
	"github.com/blueberrycongee/embedcache/internal/secret"
	"github.com/blueberrycongee/embedcache/internal/secret/env"
	"github.com/blueberrycongee/embedcache/internal/secret/vault"
	"github.com/blueberrycongee/embedcache/internal/tokenizer"
	"github.com/blueberrycongee/embedcache/pkg/provider"
	"github.com/blueberrycongee/embedcache/providers/azure"
	"github.com/blueberrycongee/embedcache/providers/openai"
)

func buildSecrets(cfg config.SecretsConfig, logger *slog.Logger) (*secret.Manager, error) {
	m := secret.NewManager(cfg.CacheTTL)
	m.Register("env", env.New())

	if cfg.Vault.Enabled {
		v, err := vault.New(cfg.Vault.Config, logger)
		if err != nil {
			return nil, fmt.Errorf("init vault: %w", err)
		}
		m.Register("vault", v)
		logger.Info("vault secret provider enabled", "address", cfg.Vault.Address)
	}
	return m, nil
}

// buildEmbedder resolves the API key and creates the configured provider.
func buildEmbedder(ctx context.Context, cfg provider.Config, secrets *secret.Manager) (provider.Embedder, error) {
	if cfg.APIKey != "" {
		key, err := secrets.Get(ctx, cfg.APIKey)
		if err != nil {
			return nil, fmt.Errorf("provider %q api_key: %w", cfg.Name, err)
		}
		cfg.APIKey = key
	}

	switch cfg.Type {
	case "openai":
		return openai.NewFromConfig(cfg)
	case "azure":
		return azure.NewFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Type)
	}
}

func clientOptions(cfg *config.Config, store *tiered.Store, logger *slog.Logger) []embedcache.Option {
	e := cfg.Embedding
	opts := []embedcache.Option{
		embedcache.WithLogger(logger),
		embedcache.WithObserver(metrics.EmbeddingObserver{}),
		embedcache.WithMaxInputTokens(e.MaxInputTokens),
		embedcache.WithRetry(e.MaxAttempts, e.RetryDelay),
		embedcache.WithFailFast(e.FailFast),
		embedcache.WithBatching(e.MaxBatchSize, e.BatchDelay),
		embedcache.WithRequestCoalescing(e.Coalesce),
		embedcache.WithProviderGuard(e.Guard),
	}
	if store != nil {
		opts = append(opts, embedcache.WithStore(store), embedcache.WithCacheTTL(e.CacheTTL))
	}
	if e.ExactTokens {
		counter := tokenizer.NewCounter(cfg.Provider.Model)
		if !counter.Exact() {
			logger.Warn("tiktoken encoding unavailable, counting tokens by estimate", "model", cfg.Provider.Model)
		}
		opts = append(opts, embedcache.WithTokenCounter(counter))
	}
	return opts
}

// buildClient creates the embedding client for cfg.
func buildClient(ctx context.Context, cfg *config.Config, store *tiered.Store, secrets *secret.Manager, logger *slog.Logger) (*embedcache.Client, error) {
	embedder, err := buildEmbedder(ctx, cfg.Provider, secrets)
	if err != nil {
		return nil, err
	}
	return embedcache.New(embedder, clientOptions(cfg, store, logger)...)
}
