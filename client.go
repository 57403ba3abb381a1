// Package embedcache generates text embeddings through an external provider,
// cache-aside over a tiered cache store.
//
// Every input is validated, hashed and looked up in the store's embeddings
// namespace. Misses go to the provider with bounded linear retry and are then
// cached best-effort: cache failures never fail an embedding call.
package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/blueberrycongee/embedcache/caches/tiered"
	"github.com/blueberrycongee/embedcache/internal/observability"
	"github.com/blueberrycongee/embedcache/internal/resilience"
	"github.com/blueberrycongee/embedcache/internal/tokenizer"
	"github.com/blueberrycongee/embedcache/pkg/cache"
	"github.com/blueberrycongee/embedcache/pkg/errors"
	"github.com/blueberrycongee/embedcache/pkg/provider"
)

// EmbeddingTag is attached to every cached embedding.
const EmbeddingTag = "embeddings"

// EmbeddingOptions controls a single GenerateEmbedding/GenerateEmbeddings call.
// Zero values use the client defaults.
type EmbeddingOptions struct {
	Model      string
	Dimensions int
	NoCache    bool          // Skip both the lookup and the write
	CacheTTL   time.Duration // Overrides the client cache TTL
}

// EmbeddingResult is the outcome of GenerateEmbedding.
type EmbeddingResult struct {
	Embedding   []float64 `json:"embedding"`
	Model       string    `json:"model"`
	Dimensions  int       `json:"dimensions"`
	TokenCount  int       `json:"token_count"`
	ContentHash string    `json:"content_hash"`
	Cached      bool      `json:"cached"`
}

// BatchResult is the outcome of GenerateEmbeddings. Embeddings and
// TokenCounts are in input order.
type BatchResult struct {
	Embeddings  [][]float64 `json:"embeddings"`
	TokenCounts []int       `json:"token_counts"`
	Model       string      `json:"model"`
	Dimensions  int         `json:"dimensions"`

	// TotalTokens sums the estimated token count of every input, cached or not.
	TotalTokens int `json:"total_tokens"`
	// BilledTokens sums the usage reported by the provider for generated inputs.
	BilledTokens int `json:"billed_tokens"`

	CachedCount    int `json:"cached_count"`
	GeneratedCount int `json:"generated_count"`
}

// embeddingRecord is the cached form of a vector.
type embeddingRecord struct {
	ContentHash string    `json:"content_hash"`
	Vector      []float64 `json:"vector"`
	Model       string    `json:"model"`
	Dimensions  int       `json:"dimensions"`
	CachedAt    time.Time `json:"cached_at"`
}

// Client is the embedding pipeline.
//
// Client is safe for concurrent use by multiple goroutines.
type Client struct {
	embedder provider.Embedder
	store    *tiered.Store
	config   *ClientConfig
	counter  TokenCounter
	logger   *slog.Logger
	group    singleflight.Group
}

// New creates a client over embedder.
//
// Example:
//
//	client, err := embedcache.New(
//	    openai.New(openai.WithAPIKey(os.Getenv("OPENAI_API_KEY"))),
//	    embedcache.WithStore(store),
//	)
func New(embedder provider.Embedder, opts ...Option) (*Client, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}
	if cfg.MaxInputTokens <= 0 {
		cfg.MaxInputTokens = 8191
	}
	if cfg.Model == "" {
		cfg.Model = embedder.Model()
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = embedder.Dimensions()
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive")
	}

	counter := cfg.TokenCounter
	if counter == nil {
		counter = tokenizer.Estimator{}
	}

	c := &Client{
		embedder: resilience.Guard(embedder, cfg.Guard, cfg.Logger),
		store:    cfg.Store,
		config:   cfg,
		counter:  counter,
		logger:   cfg.Logger,
	}

	c.logger.Info("embedding client initialized",
		"provider", embedder.Name(),
		"model", cfg.Model,
		"dimensions", cfg.Dimensions,
		"cache_enabled", cfg.Store != nil,
		"coalesce", cfg.Coalesce,
	)
	return c, nil
}

// Store returns the cache store, or nil if caching is disabled.
func (c *Client) Store() *tiered.Store {
	return c.store
}

// GenerateEmbedding returns the embedding of text, from cache when possible.
func (c *Client) GenerateEmbedding(ctx context.Context, text string, opts EmbeddingOptions) (*EmbeddingResult, error) {
	normalized, tokens, verr := c.validate(text)
	if verr != nil {
		return nil, verr
	}

	req := c.request(opts)
	hash := ContentHash(normalized)

	ctx, span := observability.StartEmbeddingSpan(ctx, "embedcache.GenerateEmbedding", observability.EmbeddingSpanAttributes{
		Provider:   c.embedder.Name(),
		Model:      req.Model,
		Dimensions: req.Dimensions,
		Inputs:     1,
	})
	defer span.End()

	result := &EmbeddingResult{
		Model:       req.Model,
		Dimensions:  req.Dimensions,
		TokenCount:  tokens,
		ContentHash: hash,
	}

	useCache := c.store != nil && !opts.NoCache
	if useCache {
		if vec, ok := c.lookup(ctx, hash, req); ok {
			result.Embedding = vec
			result.Cached = true
			c.config.Observer.Request("single", 1, 0)
			observability.RecordEmbeddingResult(span, 1, 0, tokens)
			return result, nil
		}
	}

	generate := func() ([]float64, error) {
		resp, err := c.embedWithRetry(ctx, []string{normalized}, req)
		if err != nil {
			return nil, err
		}
		vec := resp.Vectors[0]
		if useCache {
			c.save(ctx, hash, req, vec, c.cacheTTL(opts))
		}
		return vec, nil
	}

	var (
		vec []float64
		err error
	)
	if c.config.Coalesce {
		key := fmt.Sprintf("%s|%s|%d", hash, req.Model, req.Dimensions)
		v, err, shared := c.group.Do(key, func() (any, error) {
			return generate()
		})
		if err != nil {
			observability.RecordError(span, err)
			return nil, err
		}
		vec = v.([]float64)
		if shared {
			vec = slices.Clone(vec)
		}
	} else {
		vec, err = generate()
		if err != nil {
			observability.RecordError(span, err)
			return nil, err
		}
	}

	result.Embedding = vec
	c.config.Observer.Request("single", 0, 1)
	observability.RecordEmbeddingResult(span, 0, 1, tokens)
	return result, nil
}

// GenerateEmbeddings returns the embeddings of texts in input order.
//
// Every text is validated before any work starts. Texts are processed in
// chunks of MaxBatchSize; within a chunk, cached texts are served from the
// store and the remaining distinct texts go to the provider in one call.
func (c *Client) GenerateEmbeddings(ctx context.Context, texts []string, opts EmbeddingOptions) (*BatchResult, error) {
	if len(texts) == 0 {
		return nil, errors.NewValidationError("No texts provided")
	}

	normalized := make([]string, len(texts))
	tokens := make([]int, len(texts))
	for i, text := range texts {
		n, t, err := c.validate(text)
		if err != nil {
			err.Message = fmt.Sprintf("text %d: %s", i, err.Message)
			return nil, err
		}
		normalized[i] = n
		tokens[i] = t
	}

	req := c.request(opts)
	batchID := uuid.NewString()
	chunkSize := c.chunkSize()

	ctx, span := observability.StartEmbeddingSpan(ctx, "embedcache.GenerateEmbeddings", observability.EmbeddingSpanAttributes{
		Provider:   c.embedder.Name(),
		Model:      req.Model,
		Dimensions: req.Dimensions,
		Inputs:     len(texts),
	})
	defer span.End()

	result := &BatchResult{
		Embeddings:  make([][]float64, len(texts)),
		TokenCounts: tokens,
		Model:       req.Model,
		Dimensions:  req.Dimensions,
	}
	for _, t := range tokens {
		result.TotalTokens += t
	}

	for start := 0; start < len(texts); start += chunkSize {
		if start > 0 && c.config.BatchDelay > 0 {
			if err := sleep(ctx, c.config.BatchDelay); err != nil {
				embErr := errors.Classify(err, c.embedder.Name(), req.Model)
				observability.RecordError(span, embErr)
				return nil, embErr
			}
		}

		end := min(start+chunkSize, len(texts))
		if err := c.processChunk(ctx, normalized[start:end], start, req, opts, result); err != nil {
			c.logger.Error("embedding batch failed",
				"batch_id", batchID,
				"chunk_start", start,
				"chunk_size", end-start,
				"error", err,
			)
			observability.RecordError(span, err)
			return nil, err
		}
	}

	c.logger.Debug("embedding batch completed",
		"batch_id", batchID,
		"texts", len(texts),
		"cached", result.CachedCount,
		"generated", result.GeneratedCount,
		"total_tokens", result.TotalTokens,
	)
	c.config.Observer.Request("batch", result.CachedCount, result.GeneratedCount)
	observability.RecordEmbeddingResult(span, result.CachedCount, result.GeneratedCount, result.TotalTokens)
	return result, nil
}

// pendingText is a distinct uncached text and every position it fills.
type pendingText struct {
	text    string
	hash    string
	indices []int
}

// processChunk fills result.Embeddings[offset:offset+len(chunk)].
func (c *Client) processChunk(
	ctx context.Context,
	chunk []string,
	offset int,
	req provider.EmbedRequest,
	opts EmbeddingOptions,
	result *BatchResult,
) error {
	useCache := c.store != nil && !opts.NoCache

	hits := make(map[string][]float64)
	byHash := make(map[string]*pendingText)
	var pending []*pendingText

	for i, text := range chunk {
		idx := offset + i
		hash := ContentHash(text)

		if vec, ok := hits[hash]; ok {
			result.Embeddings[idx] = slices.Clone(vec)
			result.CachedCount++
			continue
		}
		if p, ok := byHash[hash]; ok {
			p.indices = append(p.indices, idx)
			continue
		}

		if useCache {
			if vec, ok := c.lookup(ctx, hash, req); ok {
				hits[hash] = vec
				result.Embeddings[idx] = vec
				result.CachedCount++
				continue
			}
		}

		p := &pendingText{text: text, hash: hash, indices: []int{idx}}
		byHash[hash] = p
		pending = append(pending, p)
	}

	if len(pending) == 0 {
		return nil
	}

	inputs := make([]string, len(pending))
	for i, p := range pending {
		inputs[i] = p.text
	}

	resp, err := c.embedWithRetry(ctx, inputs, req)
	if err != nil {
		return err
	}
	result.BilledTokens += resp.UsageTokens

	ttl := c.cacheTTL(opts)
	for i, p := range pending {
		vec := resp.Vectors[i]
		for n, idx := range p.indices {
			if n == 0 {
				result.Embeddings[idx] = vec
			} else {
				result.Embeddings[idx] = slices.Clone(vec)
			}
			result.GeneratedCount++
		}
		if useCache {
			c.save(ctx, p.hash, req, vec, ttl)
		}
	}
	return nil
}

// validate trims text and checks it against the token ceiling.
func (c *Client) validate(text string) (string, int, *errors.EmbeddingError) {
	normalized := strings.TrimSpace(text)
	if normalized == "" {
		return "", 0, errors.NewValidationError("Text cannot be empty")
	}

	tokens := c.counter.CountTokens(normalized)
	if tokens > c.config.MaxInputTokens {
		return "", 0, errors.NewValidationError(fmt.Sprintf(
			"Text exceeds maximum token limit (%d > %d)", tokens, c.config.MaxInputTokens))
	}
	return normalized, tokens, nil
}

// lookup reads a cached vector. Store errors are logged and treated as a miss.
func (c *Client) lookup(ctx context.Context, hash string, req provider.EmbedRequest) ([]float64, bool) {
	rec, ok, err := tiered.GetValue[embeddingRecord](ctx, c.store, hash, cache.GetOptions{
		Namespace: cache.NamespaceEmbeddings,
		Context:   keyContext(req),
	})
	if err != nil {
		c.logger.Warn("embedding cache read failed", "content_hash", hash, "error", err)
		return nil, false
	}
	if !ok || len(rec.Vector) != req.Dimensions {
		return nil, false
	}
	return rec.Vector, true
}

// save caches a vector. Failures are logged and otherwise ignored.
func (c *Client) save(ctx context.Context, hash string, req provider.EmbedRequest, vec []float64, ttl time.Duration) {
	rec := embeddingRecord{
		ContentHash: hash,
		Vector:      vec,
		Model:       req.Model,
		Dimensions:  req.Dimensions,
		CachedAt:    time.Now().UTC(),
	}
	err := tiered.SetValue(ctx, c.store, hash, rec, cache.SetOptions{
		Namespace: cache.NamespaceEmbeddings,
		Context:   keyContext(req),
		TTL:       ttl,
		Tags:      []string{EmbeddingTag},
	})
	if err != nil {
		c.logger.Warn("embedding cache write failed", "content_hash", hash, "error", err)
	}
}

func (c *Client) request(opts EmbeddingOptions) provider.EmbedRequest {
	req := provider.EmbedRequest{Model: opts.Model, Dimensions: opts.Dimensions}
	if req.Model == "" {
		req.Model = c.config.Model
	}
	if req.Dimensions <= 0 {
		req.Dimensions = c.config.Dimensions
	}
	return req
}

func (c *Client) cacheTTL(opts EmbeddingOptions) time.Duration {
	if opts.CacheTTL > 0 {
		return opts.CacheTTL
	}
	return c.config.CacheTTL
}

func (c *Client) chunkSize() int {
	size := c.config.MaxBatchSize
	if limit := c.embedder.MaxBatchSize(); limit > 0 && limit < size {
		size = limit
	}
	return size
}

// keyContext separates cache entries of the same text across models and sizes.
func keyContext(req provider.EmbedRequest) map[string]any {
	return map[string]any{
		"model":      req.Model,
		"dimensions": req.Dimensions,
	}
}

// ContentHash returns the hex SHA-256 of text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
