// Package main is the entry point for the embedcache server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blueberrycongee/embedcache"
	"github.com/blueberrycongee/embedcache/internal/api"
	"github.com/blueberrycongee/embedcache/internal/config"
	"github.com/blueberrycongee/embedcache/internal/observability"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LoggingConfig, redactor *observability.Redactor) *slog.Logger {
	return observability.NewLogger(observability.LoggerConfig{
		Level:      observability.ParseLevel(cfg.Level),
		Output:     os.Stdout,
		JSONFormat: cfg.Format != "text",
	}, redactor).Slog()
}

func run(ctx context.Context, configPath string) error {
	redactor := observability.NewRedactor()
	bootLogger := newLogger(config.LoggingConfig{Level: "info", Format: "json"}, redactor)

	cfgManager, err := config.NewManager(configPath, bootLogger)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	defer cfgManager.Close()

	cfg := cfgManager.Get()
	logger := newLogger(cfg.Logging, redactor)
	slog.SetDefault(logger)
	logger.Info("starting embedcache", "version", version, "config", configPath)

	for _, w := range cfg.Warnings() {
		logger.Warn("configuration warning", "code", w.Code, "message", w.Message)
	}

	tracing, err := observability.InitTracing(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	secrets, err := buildSecrets(cfg.Secrets, logger)
	if err != nil {
		return err
	}
	defer secrets.Close()

	store, err := buildStore(ctx, cfg.Cache, logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	build := func(ctx context.Context, c *config.Config) (*embedcache.Client, error) {
		return buildClient(ctx, c, store, secrets, logger)
	}
	client, err := build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create embedding client: %w", err)
	}

	adminToken, err := secrets.Get(ctx, cfg.Server.AdminToken)
	if err != nil {
		return fmt.Errorf("resolve admin token: %w", err)
	}
	redactor.AddSecret(adminToken)
	routeCfg := *cfg
	routeCfg.Server.AdminToken = adminToken

	handler := api.NewHandler(client, store, logger, api.WithMaxBodySize(cfg.Server.MaxBodyBytes))
	admin := api.NewAdminHandler(store, cfgManager, logger)
	mux, err := buildMux(&routeCfg, handler, admin)
	if err != nil {
		return err
	}

	applier := &configApplier{
		logger:  logger,
		store:   store,
		secrets: secrets,
		swapper: handler,
		build:   build,
	}
	cfgManager.OnChange(applier.Apply)
	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           wrapMiddleware(mux),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
	return nil
}
