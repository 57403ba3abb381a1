// Package api provides the HTTP surface of the embedding service: an
// OpenAI-compatible embeddings endpoint, cosine similarity, health checks
// and cache administration.
package api

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/embedcache"
	"github.com/blueberrycongee/embedcache/caches/tiered"
	"github.com/blueberrycongee/embedcache/internal/observability"
)

// Handler serves the data-plane endpoints.
type Handler struct {
	clients *clientSwap
	store   *tiered.Store
	logger  *slog.Logger
	maxBody int64
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithMaxBodySize caps request bodies.
func WithMaxBodySize(n int64) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// NewHandler creates a handler serving client. store may be nil.
func NewHandler(client *embedcache.Client, store *tiered.Store, logger *slog.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		clients: newClientSwap(client),
		store:   store,
		logger:  logger,
		maxBody: DefaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SwapClient replaces the embedding client used by new requests.
func (h *Handler) SwapClient(client *embedcache.Client) {
	h.clients.swap(client)
	h.logger.Info("embedding client swapped", "generation", h.clients.swaps.Load())
}

// EmbeddingsRequest is the OpenAI-compatible request body. Input is either
// a string or an array of strings.
type EmbeddingsRequest struct {
	Input          json.RawMessage `json:"input"`
	Model          string          `json:"model,omitempty"`
	Dimensions     int             `json:"dimensions,omitempty"`
	EncodingFormat string          `json:"encoding_format,omitempty"`
	User           string          `json:"user,omitempty"`

	// Cache controls.
	NoCache         bool `json:"no_cache,omitempty"`
	CacheTTLSeconds int  `json:"cache_ttl_seconds,omitempty"`
}

// EmbeddingData is one vector of the response.
type EmbeddingData struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

// EmbeddingsUsage reports estimated and provider-billed tokens.
type EmbeddingsUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
	BilledTokens int `json:"billed_tokens"`
}

// CacheUsage reports how many inputs were served from cache.
type CacheUsage struct {
	Cached    int `json:"cached"`
	Generated int `json:"generated"`
}

// EmbeddingsResponse is the OpenAI-compatible response body.
type EmbeddingsResponse struct {
	Object string          `json:"object"`
	Data   []EmbeddingData `json:"data"`
	Model  string          `json:"model"`
	Usage  EmbeddingsUsage `json:"usage"`
	Cache  CacheUsage      `json:"cache"`
}

// decodeInput accepts a JSON string or array of strings.
func decodeInput(raw json.RawMessage) (texts []string, single bool, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false, fmt.Errorf("input is required")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, false, fmt.Errorf("input: %w", err)
		}
		return []string{s}, true, nil
	}
	if err := json.Unmarshal(raw, &texts); err != nil {
		return nil, false, fmt.Errorf("input must be a string or an array of strings")
	}
	return texts, false, nil
}

// Embeddings handles POST /v1/embeddings.
func (h *Handler) Embeddings(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)

	var req EmbeddingsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.EncodingFormat != "" && req.EncodingFormat != "float" {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "only float encoding_format is supported")
		return
	}
	if req.Dimensions < 0 || req.CacheTTLSeconds < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "dimensions and cache_ttl_seconds cannot be negative")
		return
	}

	texts, single, err := decodeInput(req.Input)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	if len(texts) > MaxBatchInputs {
		writeError(w, http.StatusBadRequest, "invalid_request_error",
			fmt.Sprintf("too many inputs: %d > %d", len(texts), MaxBatchInputs))
		return
	}

	opts := embedcache.EmbeddingOptions{
		Model:      req.Model,
		Dimensions: req.Dimensions,
		NoCache:    req.NoCache,
		CacheTTL:   time.Duration(req.CacheTTLSeconds) * time.Second,
	}

	client := h.clients.acquire()
	var resp EmbeddingsResponse
	if single {
		res, err := client.GenerateEmbedding(r.Context(), texts[0], opts)
		if err != nil {
			writeEmbeddingError(w, logger, err)
			return
		}
		resp = singleResponse(res)
	} else {
		res, err := client.GenerateEmbeddings(r.Context(), texts, opts)
		if err != nil {
			writeEmbeddingError(w, logger, err)
			return
		}
		resp = batchResponse(res)
	}

	w.Header().Set("X-Cache", cacheHeader(resp.Cache))
	writeJSON(w, http.StatusOK, resp)
}

func singleResponse(res *embedcache.EmbeddingResult) EmbeddingsResponse {
	resp := EmbeddingsResponse{
		Object: "list",
		Data:   []EmbeddingData{{Object: "embedding", Index: 0, Embedding: res.Embedding}},
		Model:  res.Model,
		Usage:  EmbeddingsUsage{PromptTokens: res.TokenCount, TotalTokens: res.TokenCount},
	}
	if res.Cached {
		resp.Cache.Cached = 1
	} else {
		resp.Cache.Generated = 1
	}
	return resp
}

func batchResponse(res *embedcache.BatchResult) EmbeddingsResponse {
	data := make([]EmbeddingData, len(res.Embeddings))
	for i, vec := range res.Embeddings {
		data[i] = EmbeddingData{Object: "embedding", Index: i, Embedding: vec}
	}
	return EmbeddingsResponse{
		Object: "list",
		Data:   data,
		Model:  res.Model,
		Usage: EmbeddingsUsage{
			PromptTokens: res.TotalTokens,
			TotalTokens:  res.TotalTokens,
			BilledTokens: res.BilledTokens,
		},
		Cache: CacheUsage{Cached: res.CachedCount, Generated: res.GeneratedCount},
	}
}

func cacheHeader(c CacheUsage) string {
	switch {
	case c.Generated == 0:
		return "HIT"
	case c.Cached == 0:
		return "MISS"
	default:
		return "PARTIAL"
	}
}

// SimilarityRequest compares two vectors, or two texts embedded on the fly.
type SimilarityRequest struct {
	A     []float64 `json:"a,omitempty"`
	B     []float64 `json:"b,omitempty"`
	TextA string    `json:"text_a,omitempty"`
	TextB string    `json:"text_b,omitempty"`
	Model string    `json:"model,omitempty"`
}

// SimilarityResponse carries the cosine similarity in [-1, 1].
type SimilarityResponse struct {
	Similarity float64 `json:"similarity"`
}

// Similarity handles POST /v1/similarity.
func (h *Handler) Similarity(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)

	var req SimilarityRequest
	if !h.decode(w, r, &req) {
		return
	}

	a, b := req.A, req.B
	switch {
	case len(a) > 0 || len(b) > 0:
		if req.TextA != "" || req.TextB != "" {
			writeError(w, http.StatusBadRequest, "invalid_request_error", "provide either vectors or texts, not both")
			return
		}
	case req.TextA != "" || req.TextB != "":
		res, err := h.clients.acquire().GenerateEmbeddings(r.Context(), []string{req.TextA, req.TextB},
			embedcache.EmbeddingOptions{Model: req.Model})
		if err != nil {
			writeEmbeddingError(w, logger, err)
			return
		}
		a, b = res.Embeddings[0], res.Embeddings[1]
	default:
		writeError(w, http.StatusBadRequest, "invalid_request_error", "vectors a and b or texts text_a and text_b are required")
		return
	}

	sim, err := embedcache.CosineSimilarity(a, b)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	if math.IsNaN(sim) {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "similarity is undefined for a zero vector")
		return
	}
	writeJSON(w, http.StatusOK, SimilarityResponse{Similarity: sim})
}

// HealthLive handles GET /health/live.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady handles GET /health/ready. It fails when the remote cache tier
// is unreachable.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			h.logger.Warn("readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"cache":  "remote tier unreachable",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request body too large or unreadable")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body")
		return false
	}
	return true
}

func (h *Handler) requestLogger(r *http.Request) *slog.Logger {
	if id := observability.RequestIDFromContext(r.Context()); id != "" {
		return h.logger.With("request_id", id)
	}
	return h.logger
}
