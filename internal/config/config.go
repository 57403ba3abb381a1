// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/blueberrycongee/embedcache/caches/memory"
	"github.com/blueberrycongee/embedcache/caches/redis"
	"github.com/blueberrycongee/embedcache/caches/tiered"
	"github.com/blueberrycongee/embedcache/internal/observability"
	"github.com/blueberrycongee/embedcache/internal/resilience"
	"github.com/blueberrycongee/embedcache/internal/secret/vault"
	"github.com/blueberrycongee/embedcache/pkg/cache"
	"github.com/blueberrycongee/embedcache/pkg/provider"
)

// Config represents the complete service configuration.
type Config struct {
	Server    ServerConfig                `yaml:"server"`
	Provider  provider.Config             `yaml:"provider"`
	Embedding EmbeddingConfig             `yaml:"embedding"`
	Cache     CacheConfig                 `yaml:"cache"`
	Secrets   SecretsConfig               `yaml:"secrets"`
	Logging   LoggingConfig               `yaml:"logging"`
	Metrics   MetricsConfig               `yaml:"metrics"`
	Tracing   observability.TracingConfig `yaml:"tracing"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	// AdminToken protects the /admin endpoints. Empty leaves them open.
	AdminToken string `yaml:"admin_token"`
}

// EmbeddingConfig configures the embedding pipeline.
type EmbeddingConfig struct {
	MaxInputTokens int           `yaml:"max_input_tokens"`
	MaxAttempts    int           `yaml:"max_attempts"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	MaxBatchSize   int           `yaml:"max_batch_size"`
	BatchDelay     time.Duration `yaml:"batch_delay"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	Coalesce       bool          `yaml:"coalesce"`
	// FailFast stops retrying on 401/403 and 400/422 provider responses.
	FailFast bool `yaml:"fail_fast"`
	// ExactTokens counts with tiktoken instead of the chars/4 estimate.
	ExactTokens bool              `yaml:"exact_tokens"`
	Guard       resilience.Config `yaml:"guard"`
}

// CacheConfig configures the tiered cache.
type CacheConfig struct {
	Enabled bool            `yaml:"enabled"`
	Prefix  string          `yaml:"prefix"`
	TTL     cache.TTLPolicy `yaml:"ttl"`
	Memory  memory.Config   `yaml:"memory"`
	Redis   redis.Config    `yaml:"redis"`
}

// RemoteEnabled reports whether a Redis tier is configured.
func (c CacheConfig) RemoteEnabled() bool {
	return c.Redis.Addr != "" || len(c.Redis.ClusterAddrs) > 0 || len(c.Redis.SentinelAddrs) > 0
}

// Tiered returns the store configuration for this cache.
func (c CacheConfig) Tiered() tiered.Config {
	return tiered.Config{
		Prefix: c.Prefix,
		TTL:    c.TTL,
		Memory: c.Memory,
	}
}

// SecretsConfig configures resolution of env:// and vault:// references.
type SecretsConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
	Vault    VaultConfig   `yaml:"vault"`
}

// VaultConfig enables the vault:// scheme.
type VaultConfig struct {
	Enabled      bool `yaml:"enabled"`
	vault.Config `yaml:",inline"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    8 << 20,
		},
		Provider: provider.Config{
			Name: "openai",
			Type: "openai",
		},
		Embedding: EmbeddingConfig{
			MaxInputTokens: 8191,
			MaxAttempts:    3,
			RetryDelay:     time.Second,
			MaxBatchSize:   100,
			BatchDelay:     100 * time.Millisecond,
		},
		Cache: CacheConfig{
			Enabled: true,
			Prefix:  "embedcache",
			TTL:     cache.DefaultTTLPolicy(),
			Memory:  memory.DefaultConfig(),
			Redis:   redis.DefaultConfig(),
		},
		Secrets: SecretsConfig{
			CacheTTL: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: observability.DefaultTracingConfig(),
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over DefaultConfig and validates the result.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("server.max_body_bytes cannot be negative")
	}

	p := c.Provider
	switch p.Type {
	case "openai":
	case "azure":
		if p.BaseURL == "" {
			return fmt.Errorf("provider %q: base_url is required for azure", p.Name)
		}
	default:
		return fmt.Errorf("provider %q: unsupported type %q (openai, azure)", p.Name, p.Type)
	}
	if p.APIKey == "" && !p.AllowPrivate {
		return fmt.Errorf("provider %q: api_key is required", p.Name)
	}
	if p.Dimensions < 0 {
		return fmt.Errorf("provider %q: dimensions cannot be negative", p.Name)
	}
	if p.MaxBatchSize < 0 {
		return fmt.Errorf("provider %q: max_batch_size cannot be negative", p.Name)
	}
	if p.Timeout < 0 {
		return fmt.Errorf("provider %q: timeout cannot be negative", p.Name)
	}

	e := c.Embedding
	if e.MaxInputTokens <= 0 {
		return fmt.Errorf("embedding.max_input_tokens must be positive")
	}
	if e.MaxAttempts < 1 {
		return fmt.Errorf("embedding.max_attempts must be at least 1")
	}
	if e.MaxBatchSize <= 0 {
		return fmt.Errorf("embedding.max_batch_size must be positive")
	}
	if e.RetryDelay < 0 || e.BatchDelay < 0 || e.CacheTTL < 0 {
		return fmt.Errorf("embedding delays and cache_ttl cannot be negative")
	}
	if e.Guard.RequestsPerSecond < 0 || e.Guard.Burst < 0 || e.Guard.MaxConcurrent < 0 {
		return fmt.Errorf("embedding.guard values cannot be negative")
	}
	if b := e.Guard.Breaker; b.FailureThreshold < 0 || b.SuccessThreshold < 0 || b.Cooldown < 0 || b.HalfOpenMaxCalls < 0 {
		return fmt.Errorf("embedding.guard.breaker values cannot be negative")
	}

	if c.Cache.Enabled {
		if c.Cache.Prefix == "" {
			return fmt.Errorf("cache.prefix is required")
		}
		if c.Cache.Memory.MaxEntries <= 0 {
			return fmt.Errorf("cache.memory.max_entries must be positive")
		}
		if c.Cache.Memory.CleanupInterval <= 0 {
			return fmt.Errorf("cache.memory.cleanup_interval must be positive")
		}
		if err := validateTTLs(c.Cache.TTL); err != nil {
			return err
		}
	}

	if c.Secrets.Vault.Enabled && c.Secrets.Vault.Address == "" {
		return fmt.Errorf("secrets.vault.address is required when vault is enabled")
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
	}

	return nil
}

func validateTTLs(p cache.TTLPolicy) error {
	if p.Default <= 0 {
		return fmt.Errorf("cache.ttl.default must be positive")
	}
	for name, ttl := range map[string]time.Duration{
		"embeddings": p.Embeddings,
		"search":     p.Search,
		"documents":  p.Documents,
		"chat":       p.Chat,
	} {
		if ttl < 0 {
			return fmt.Errorf("cache.ttl.%s cannot be negative", name)
		}
	}
	return nil
}

// Warning codes returned by Warnings.
const (
	WarningAdminWithoutToken = "admin_without_token"
	WarningMemoryOnlyCache   = "memory_only_cache"
)

// Warning describes a valid but risky setting.
type Warning struct {
	Code    string
	Message string
}

// Warnings reports valid configurations that are probably not intended in production.
func (c *Config) Warnings() []Warning {
	var out []Warning
	if c.Cache.Enabled && c.Server.AdminToken == "" {
		out = append(out, Warning{
			Code:    WarningAdminWithoutToken,
			Message: "cache admin endpoints are enabled without server.admin_token",
		})
	}
	if c.Cache.Enabled && !c.Cache.RemoteEnabled() {
		out = append(out, Warning{
			Code:    WarningMemoryOnlyCache,
			Message: "no redis tier configured; cached embeddings are per-process and lost on restart",
		})
	}
	return out
}
