// Package tiered provides the two-tier cache store: an in-process map (L1)
// in front of a shared remote store (L2), with namespaced keys, per-namespace
// default TTLs and a tag index for bulk invalidation.
//
// Reads check L1 first, then L2; an L2 hit backfills L1. Writes go to both
// tiers. Transport failures talking to L2 are counted and returned as
// *errors.StoreError; callers that want fail-soft behaviour handle them.
package tiered

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/embedcache/caches/memory"
	"github.com/blueberrycongee/embedcache/pkg/cache"
	"github.com/blueberrycongee/embedcache/pkg/errors"
)

// ErrInvalidArgument is returned, wrapped, when a call is missing a required argument.
var ErrInvalidArgument = stderrors.New("invalid argument")

// Tier names reported to the Observer.
const (
	TierMemory = "memory"
	TierRemote = "remote"
)

// Observer receives cache events, typically to export them as metrics.
type Observer interface {
	Hit(ns cache.Namespace, tier string)
	Miss(ns cache.Namespace)
	Set(ns cache.Namespace)
	Delete(ns cache.Namespace, n int)
	Error(op string)
	MemoryEntries(n int)
	// Swept reports entries removed from L1 by one sweep.
	Swept(expired, evicted int)
}

type nopObserver struct{}

func (nopObserver) Hit(cache.Namespace, string) {}
func (nopObserver) Miss(cache.Namespace) {}
func (nopObserver) Set(cache.Namespace) {}
func (nopObserver) Delete(cache.Namespace, int) {}
func (nopObserver) Error(string) {}
func (nopObserver) MemoryEntries(int) {}
func (nopObserver) Swept(int, int) {}

// Config holds configuration for Store.
type Config struct {
	Prefix string          `yaml:"prefix"` // Key prefix (default: "embedcache")
	TTL    cache.TTLPolicy `yaml:"ttl"`
	Memory memory.Config   `yaml:"memory"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Prefix: "embedcache",
		TTL:    cache.DefaultTTLPolicy(),
		Memory: memory.DefaultConfig(),
	}
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver sets the event observer.
func WithObserver(o Observer) Option {
	return func(s *Store) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithClock overrides time.Now for both tiers.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is the tiered cache. It is safe for concurrent use.
type Store struct {
	keys     KeyBuilder
	local    *memory.Cache
	remote   cache.RemoteStore
	policy   atomic.Pointer[cache.TTLPolicy]
	logger   *slog.Logger
	observer Observer
	now      func() time.Time

	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
	errors  atomic.Int64
}

// New creates a Store over remote. A nil remote runs the store memory-only.
// Call Start to run the L1 sweep and Close to stop it.
func New(remote cache.RemoteStore, cfg Config, opts ...Option) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = "embedcache"
	}
	if cfg.TTL.Default <= 0 {
		cfg.TTL.Default = time.Hour
	}

	s := &Store{
		keys:     KeyBuilder{Prefix: cfg.Prefix},
		remote:   remote,
		logger:   slog.Default(),
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	memCfg := cfg.Memory
	if memCfg.Now == nil {
		memCfg.Now = s.now
	}
	memCfg.OnSweep = s.swept
	s.local = memory.New(memCfg)

	policy := cfg.TTL
	s.policy.Store(&policy)
	return s
}

// Start launches the periodic L1 sweep.
func (s *Store) Start(ctx context.Context) {
	s.local.Start(ctx)
}

// Close stops the sweep. The remote store is owned by the caller.
func (s *Store) Close() error {
	return s.local.Close()
}

// Sweep runs one L1 cleanup cycle synchronously.
func (s *Store) Sweep() (expired, evicted int) {
	expired, evicted = s.local.Sweep()
	s.swept(expired, evicted)
	return expired, evicted
}

// swept runs after every L1 sweep, periodic or explicit.
func (s *Store) swept(expired, evicted int) {
	size := s.local.Len()
	s.observer.MemoryEntries(size)
	s.observer.Swept(expired, evicted)
	if expired > 0 || evicted > 0 {
		s.logger.Debug("memory cache swept", "expired", expired, "evicted", evicted, "size", size)
	}
}

// Keys returns the key builder in use.
func (s *Store) Keys() KeyBuilder {
	return s.keys
}

// TTLPolicy returns the current namespace TTL policy.
func (s *Store) TTLPolicy() cache.TTLPolicy {
	return *s.policy.Load()
}

// SetTTLPolicy replaces the namespace TTL policy. Existing entries keep their TTL.
func (s *Store) SetTTLPolicy(p cache.TTLPolicy) {
	if p.Default <= 0 {
		p.Default = s.TTLPolicy().Default
	}
	s.policy.Store(&p)
}

// Get returns the JSON value stored under key. A miss in both tiers returns (nil, false, nil).
func (s *Store) Get(ctx context.Context, key string, opts cache.GetOptions) ([]byte, bool, error) {
	fullKey, err := s.keys.Build(opts.Namespace, key, opts.Context)
	if err != nil {
		return nil, false, s.fail("get", key, err)
	}

	if !opts.SkipMemory {
		if entry, ok := s.local.Get(fullKey); ok {
			s.hits.Add(1)
			s.observer.Hit(opts.Namespace, TierMemory)
			return bytes.Clone(entry.Value), true, nil
		}
	}

	if !opts.SkipRemote && s.remote != nil {
		raw, err := s.remote.Get(ctx, fullKey)
		if err != nil {
			return nil, false, s.fail("get", fullKey, err)
		}
		if raw != nil {
			var entry cache.Entry
			if err := json.Unmarshal(raw, &entry); err != nil {
				return nil, false, s.fail("get", fullKey, fmt.Errorf("decode entry: %w", err))
			}

			now := s.now()
			if !entry.Expired(now) {
				if !opts.SkipMemory {
					ttl := s.TTLPolicy().Resolve(opts.TTL, opts.Namespace)
					s.local.Set(fullKey, cache.NewEntry(entry.Value, ttl, entry.Tags, now))
				}
				s.hits.Add(1)
				s.observer.Hit(opts.Namespace, TierRemote)
				return bytes.Clone(entry.Value), true, nil
			}
		}
	}

	s.misses.Add(1)
	s.observer.Miss(opts.Namespace)
	return nil, false, nil
}

// Set stores a JSON value under key in both tiers and registers it with
// every tag in opts.Tags.
func (s *Store) Set(ctx context.Context, key string, value []byte, opts cache.SetOptions) error {
	fullKey, err := s.keys.Build(opts.Namespace, key, opts.Context)
	if err != nil {
		return s.fail("set", key, err)
	}
	if !json.Valid(value) {
		return s.fail("set", fullKey, fmt.Errorf("value is not valid JSON"))
	}

	ttl := s.TTLPolicy().Resolve(opts.TTL, opts.Namespace)
	// L1 keeps its own copies; callers may reuse value and opts.Tags.
	entry := cache.NewEntry(bytes.Clone(value), ttl, slices.Clone(opts.Tags), s.now())

	if !opts.SkipMemory {
		s.local.Set(fullKey, entry)
	}

	if !opts.SkipRemote && s.remote != nil {
		data, err := json.Marshal(entry)
		if err != nil {
			return s.fail("set", fullKey, fmt.Errorf("encode entry: %w", err))
		}
		if err := s.remote.SetWithTTL(ctx, fullKey, data, ttl); err != nil {
			return s.fail("set", fullKey, err)
		}
		for _, tag := range opts.Tags {
			if err := s.tag(ctx, tag, fullKey, ttl); err != nil {
				return s.fail("set", s.keys.Tag(tag), err)
			}
		}
	}

	s.sets.Add(1)
	s.observer.Set(opts.Namespace)
	return nil
}

// Delete removes key from both tiers. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string, opts cache.DeleteOptions) error {
	fullKey, err := s.keys.Build(opts.Namespace, key, opts.Context)
	if err != nil {
		return s.fail("delete", key, err)
	}

	s.local.Delete(fullKey)
	if s.remote != nil {
		if err := s.remote.Delete(ctx, fullKey); err != nil {
			return s.fail("delete", fullKey, err)
		}
	}

	s.deletes.Add(1)
	s.observer.Delete(opts.Namespace, 1)
	return nil
}

// InvalidateByPattern deletes every key matching pattern within the
// namespace from both tiers and returns the number of distinct keys removed.
// L2 uses the store's native glob; L1 matches '*' wildcards only. Tag sets
// are index data, not entries: they are never matched here.
func (s *Store) InvalidateByPattern(ctx context.Context, pattern string, opts cache.PatternOptions) (int, error) {
	full := s.keys.Pattern(opts.Namespace, pattern)

	removed := make(map[string]struct{})
	for _, key := range s.local.DeleteMatching(full) {
		removed[key] = struct{}{}
	}

	if s.remote != nil {
		matched, err := s.remote.Keys(ctx, full)
		if err != nil {
			return 0, s.fail("invalidate_pattern", full, err)
		}
		tagPrefix := s.keys.Tag("")
		keys := slices.DeleteFunc(matched, func(k string) bool {
			return strings.HasPrefix(k, tagPrefix)
		})
		if err := s.remote.Delete(ctx, keys...); err != nil {
			return 0, s.fail("invalidate_pattern", full, err)
		}
		for _, key := range keys {
			removed[key] = struct{}{}
		}
	}

	n := len(removed)
	s.deletes.Add(int64(n))
	s.observer.Delete(opts.Namespace, n)
	s.logger.Info("cache invalidated by pattern", "pattern", full, "count", n)
	return n, nil
}

// InvalidateNamespace deletes every key in the namespace.
func (s *Store) InvalidateNamespace(ctx context.Context, ns cache.Namespace) (int, error) {
	if ns == cache.NamespaceNone {
		return 0, fmt.Errorf("%w: namespace is required", ErrInvalidArgument)
	}
	return s.InvalidateByPattern(ctx, "*", cache.PatternOptions{Namespace: ns})
}

// InvalidateEmbeddings deletes every cached embedding and the embeddings tag set.
func (s *Store) InvalidateEmbeddings(ctx context.Context) (int, error) {
	n, err := s.InvalidateNamespace(ctx, cache.NamespaceEmbeddings)
	if err != nil {
		return n, err
	}
	if s.remote != nil {
		tagKey := s.keys.Tag(string(cache.NamespaceEmbeddings))
		if err := s.remote.Delete(ctx, tagKey); err != nil {
			return n, s.fail("invalidate_tag", tagKey, err)
		}
	}
	return n, nil
}

// InvalidateUserSearch deletes the search results cached for one user
// (keys of the form <userID>:<query...> in the search namespace).
func (s *Store) InvalidateUserSearch(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	return s.InvalidateByPattern(ctx, userID+":*", cache.PatternOptions{Namespace: cache.NamespaceSearch})
}

// ClearAll flushes L1 and deletes every L2 key under the prefix, tag sets included.
func (s *Store) ClearAll(ctx context.Context) error {
	s.local.Flush()
	s.observer.MemoryEntries(0)

	if s.remote != nil {
		keys, err := s.remote.Keys(ctx, s.keys.All())
		if err != nil {
			return s.fail("clear", s.keys.All(), err)
		}
		if err := s.remote.Delete(ctx, keys...); err != nil {
			return s.fail("clear", s.keys.All(), err)
		}
		s.logger.Info("cache cleared", "remote_keys", len(keys))
	}
	return nil
}

// Ping checks the remote tier.
func (s *Store) Ping(ctx context.Context) error {
	if s.remote == nil {
		return nil
	}
	return s.remote.Ping(ctx)
}

// Stats returns the counters accumulated since creation or the last ResetStats.
func (s *Store) Stats() cache.Stats {
	hits := s.hits.Load()
	misses := s.misses.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	size := s.local.Len()
	s.observer.MemoryEntries(size)

	return cache.Stats{
		Hits:       hits,
		Misses:     misses,
		Sets:       s.sets.Load(),
		Deletes:    s.deletes.Load(),
		Errors:     s.errors.Load(),
		HitRate:    hitRate,
		MemorySize: size,
	}
}

// ResetStats zeroes every counter.
func (s *Store) ResetStats() {
	s.hits.Store(0)
	s.misses.Store(0)
	s.sets.Store(0)
	s.deletes.Store(0)
	s.errors.Store(0)
}

func (s *Store) fail(op, key string, err error) error {
	s.errors.Add(1)
	s.observer.Error(op)
	s.logger.Warn("cache operation failed", "op", op, "key", key, "error", err)
	return errors.NewStoreError(op, key, err)
}

// GetValue reads key and decodes it into T.
func GetValue[T any](ctx context.Context, s *Store, key string, opts cache.GetOptions) (T, bool, error) {
	var zero T
	raw, ok, err := s.Get(ctx, key, opts)
	if err != nil || !ok {
		return zero, ok, err
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false, fmt.Errorf("decode cached value: %w", err)
	}
	return v, true, nil
}

// SetValue encodes v as JSON and stores it under key.
func SetValue[T any](ctx context.Context, s *Store, key string, v T, opts cache.SetOptions) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}
	return s.Set(ctx, key, data, opts)
}
