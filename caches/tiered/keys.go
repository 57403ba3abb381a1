package tiered

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/embedcache/pkg/cache"
)

// digestLen is the number of hex characters of the context digest kept in a key.
const digestLen = 8

// KeyBuilder composes the wire-format keys shared by both tiers:
//
//	<prefix>[:<namespace>]:<key>[:<digest>]
//	<prefix>:tag:<tag>
type KeyBuilder struct {
	Prefix string
}

// Build returns the full cache key. The digest segment is present only when
// extra is non-empty.
func (b KeyBuilder) Build(ns cache.Namespace, key string, extra map[string]any) (string, error) {
	var sb strings.Builder
	sb.WriteString(b.Prefix)
	if ns != cache.NamespaceNone {
		sb.WriteString(":")
		sb.WriteString(string(ns))
	}
	sb.WriteString(":")
	sb.WriteString(key)

	if len(extra) > 0 {
		digest, err := ContextDigest(extra)
		if err != nil {
			return "", err
		}
		sb.WriteString(":")
		sb.WriteString(digest)
	}
	return sb.String(), nil
}

// Tag returns the key of the set holding the members of tag.
func (b KeyBuilder) Tag(tag string) string {
	return b.Prefix + ":tag:" + tag
}

// Pattern resolves a caller pattern against the namespaced key space.
func (b KeyBuilder) Pattern(ns cache.Namespace, pattern string) string {
	if ns == cache.NamespaceNone {
		return b.Prefix + ":" + pattern
	}
	return b.Prefix + ":" + string(ns) + ":" + pattern
}

// All matches every key owned by this prefix, tag sets included.
func (b KeyBuilder) All() string {
	return b.Prefix + ":*"
}

// ContextDigest returns the first 8 hex characters of SHA-256 over the JSON
// encoding of extra. Map keys are encoded in sorted order, so equal maps
// always produce the same digest.
func ContextDigest(extra map[string]any) (string, error) {
	data, err := json.Marshal(extra)
	if err != nil {
		return "", fmt.Errorf("encode key context: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:digestLen], nil
}
