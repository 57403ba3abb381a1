// Package cache provides the public types shared by the tiered cache store:
// namespaces with their default TTLs, per-operation options, statistics,
// the stored entry envelope and the remote (L2) store contract.
package cache

import (
	"context"
	"time"

	"github.com/goccy/go-json"
)

// Namespace is a logical partition of the key space with its own default TTL.
type Namespace string

const (
	NamespaceNone       Namespace = ""           // No namespace segment in the key
	NamespaceEmbeddings Namespace = "embeddings" // Embedding vectors keyed by content hash
	NamespaceSearch     Namespace = "search"     // Search results, keyed per user
	NamespaceDocuments  Namespace = "documents"  // Document metadata
	NamespaceChat       Namespace = "chat"       // Chat session state
)

// Namespaces lists every known namespace.
var Namespaces = []Namespace{
	NamespaceEmbeddings,
	NamespaceSearch,
	NamespaceDocuments,
	NamespaceChat,
}

// Valid reports whether n is one of the known namespaces (or none).
func (n Namespace) Valid() bool {
	switch n {
	case NamespaceNone, NamespaceEmbeddings, NamespaceSearch, NamespaceDocuments, NamespaceChat:
		return true
	default:
		return false
	}
}

// ParseNamespace converts a string into a Namespace.
func ParseNamespace(s string) (Namespace, bool) {
	n := Namespace(s)
	return n, n.Valid()
}

// TTLPolicy maps namespaces to their default TTLs.
// A zero field falls back to Default.
type TTLPolicy struct {
	Default    time.Duration `yaml:"default"`
	Embeddings time.Duration `yaml:"embeddings"`
	Search     time.Duration `yaml:"search"`
	Documents  time.Duration `yaml:"documents"`
	Chat       time.Duration `yaml:"chat"`
}

// DefaultTTLPolicy returns sensible defaults.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Default:    time.Hour,
		Embeddings: 7 * 24 * time.Hour,
		Search:     15 * time.Minute,
		Documents:  time.Hour,
		Chat:       30 * time.Minute,
	}
}

// For returns the default TTL for the namespace.
func (p TTLPolicy) For(n Namespace) time.Duration {
	var ttl time.Duration
	switch n {
	case NamespaceEmbeddings:
		ttl = p.Embeddings
	case NamespaceSearch:
		ttl = p.Search
	case NamespaceDocuments:
		ttl = p.Documents
	case NamespaceChat:
		ttl = p.Chat
	case NamespaceNone:
	}
	if ttl <= 0 {
		ttl = p.Default
	}
	return ttl
}

// Resolve applies the precedence explicit > namespace default > global default.
func (p TTLPolicy) Resolve(explicit time.Duration, n Namespace) time.Duration {
	if explicit > 0 {
		return explicit
	}
	return p.For(n)
}

// GetOptions controls a single read.
type GetOptions struct {
	Namespace  Namespace
	Context    map[string]any // Folded into the key as an 8-hex digest
	TTL        time.Duration  // TTL used when backfilling L1
	SkipMemory bool           // Do not consult L1
	SkipRemote bool           // Do not consult L2
}

// SetOptions controls a single write.
type SetOptions struct {
	Namespace  Namespace
	Context    map[string]any
	TTL        time.Duration
	Tags       []string
	SkipMemory bool
	SkipRemote bool
}

// DeleteOptions controls a single delete.
type DeleteOptions struct {
	Namespace Namespace
	Context   map[string]any
}

// PatternOptions scopes a pattern invalidation to a namespace.
type PatternOptions struct {
	Namespace Namespace
}

// Entry is the envelope stored in both tiers.
type Entry struct {
	Value     json.RawMessage `json:"value"`
	Timestamp int64           `json:"timestamp"` // Unix milliseconds at write time
	TTL       float64         `json:"ttl"`       // Seconds
	Tags      []string        `json:"tags,omitempty"`
}

// NewEntry builds an entry stamped with now.
func NewEntry(value []byte, ttl time.Duration, tags []string, now time.Time) *Entry {
	return &Entry{
		Value:     value,
		Timestamp: now.UnixMilli(),
		TTL:       ttl.Seconds(),
		Tags:      tags,
	}
}

// ExpiresAt returns the absolute expiry time.
func (e *Entry) ExpiresAt() time.Time {
	return time.UnixMilli(e.Timestamp + int64(e.TTL*1000))
}

// Expired reports whether now is past timestamp + ttl.
func (e *Entry) Expired(now time.Time) bool {
	return now.UnixMilli() > e.Timestamp+int64(e.TTL*1000)
}

// Stats holds process-wide cache counters.
type Stats struct {
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	Sets       int64   `json:"sets"`
	Deletes    int64   `json:"deletes"`
	Errors     int64   `json:"errors"`
	HitRate    float64 `json:"hit_rate"`
	MemorySize int     `json:"memory_size"`
}

// RemoteStore is the shared key/value tier (L2).
type RemoteStore interface {
	// Get returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// SetWithTTL stores value under key with the given TTL.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes keys; missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// AddToSet adds member to the set at setKey.
	AddToSet(ctx context.Context, setKey, member string) error

	// Expire sets the TTL of key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining TTL of key, or a negative duration if it has none.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Members returns the members of the set at setKey.
	Members(ctx context.Context, setKey string) ([]string, error)

	// Keys returns every key matching the glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Ping checks if the store is healthy.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
