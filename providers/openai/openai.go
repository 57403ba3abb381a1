// Package openai provides the OpenAI embeddings provider.
// It also serves any OpenAI-compatible /embeddings endpoint via WithBaseURL.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/embedcache/internal/httputil"
	"github.com/blueberrycongee/embedcache/pkg/errors"
	"github.com/blueberrycongee/embedcache/pkg/provider"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "openai"

	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	DefaultModel        = "text-embedding-3-small"
	DefaultDimensions   = 1536
	DefaultMaxBatchSize = 2048
	DefaultTimeout      = 30 * time.Second

	// maxErrorBody bounds how much of an error response is read.
	maxErrorBody = 64 << 10
)

// Provider implements provider.Embedder for the OpenAI API.
type Provider struct {
	apiKey       string
	baseURL      string
	model        string
	dimensions   int
	maxBatchSize int
	headers      map[string]string
	client       *http.Client
}

var _ provider.Embedder = (*Provider)(nil)

// New creates a new OpenAI provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		baseURL:      DefaultBaseURL,
		model:        DefaultModel,
		dimensions:   DefaultDimensions,
		maxBatchSize: DefaultMaxBatchSize,
		headers:      make(map[string]string),
		client:       &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewFromConfig creates a provider from a Config struct.
// A custom base URL is validated before the API key is ever sent to it.
func NewFromConfig(cfg provider.Config) (*Provider, error) {
	if cfg.BaseURL != "" {
		if err := provider.ValidateBaseURL(cfg.BaseURL, cfg.AllowPrivate); err != nil {
			return nil, err
		}
	}
	opts := []Option{
		WithAPIKey(cfg.APIKey),
		WithBaseURL(cfg.BaseURL),
		WithModel(cfg.Model, cfg.Dimensions),
		WithMaxBatchSize(cfg.MaxBatchSize),
		WithOrganization(cfg.Organization),
		WithProject(cfg.Project),
		WithTimeout(cfg.Timeout),
	}
	return New(opts...), nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return ProviderName }

// Model returns the default embedding model.
func (p *Provider) Model() string { return p.model }

// Dimensions returns the default vector size.
func (p *Provider) Dimensions() int { return p.dimensions }

// MaxBatchSize returns the largest number of inputs per request.
func (p *Provider) MaxBatchSize() int { return p.maxBatchSize }

// Embed sends texts to the embeddings endpoint in one request.
func (p *Provider) Embed(ctx context.Context, texts []string, req provider.EmbedRequest) (*provider.EmbedResponse, error) {
	if req.Model == "" {
		req.Model = p.model
	}
	if req.Dimensions <= 0 {
		req.Dimensions = p.dimensions
	}

	httpReq, err := p.BuildEmbeddingRequest(ctx, texts, req)
	if err != nil {
		return nil, err
	}
	return Do(p.client, httpReq, ProviderName, req.Model)
}

// Do executes an embeddings request and parses the response.
// Transport failures are returned unwrapped so callers retry them.
func Do(client *http.Client, httpReq *http.Request, name, model string) (*provider.EmbedResponse, error) {
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", name, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusOK {
		body, _ := httputil.ReadLimited(resp.Body, maxErrorBody) //nolint:errcheck // truncated error bodies are fine
		return nil, MapError(name, model, resp.StatusCode, body)
	}
	return ParseEmbeddingResponse(resp)
}

// MapError converts an error response to an EmbeddingError.
func MapError(name, model string, statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
	}

	message := http.StatusText(statusCode)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}
	if message == "" {
		message = "unknown error"
	}
	return errors.FromHTTPStatus(name, model, statusCode, message)
}
