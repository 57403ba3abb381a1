// Package azure provides the Azure OpenAI embeddings provider.
// Azure OpenAI uses the same wire format as OpenAI but addresses a deployment
// in the URL and authenticates with an api-key header.
package azure

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/embedcache/internal/observability"
	"github.com/blueberrycongee/embedcache/pkg/provider"
	"github.com/blueberrycongee/embedcache/providers/openai"
)

const (
	ProviderName      = "azure"
	DefaultAPIVersion = "2024-02-01"
)

// Provider implements provider.Embedder for an Azure OpenAI resource.
type Provider struct {
	apiKey       string
	baseURL      string
	apiVersion   string
	deployment   string
	dimensions   int
	maxBatchSize int
	headers      map[string]string
	client       *http.Client
}

var _ provider.Embedder = (*Provider)(nil)

func New(opts ...Option) *Provider {
	p := &Provider{
		apiVersion:   DefaultAPIVersion,
		deployment:   openai.DefaultModel,
		dimensions:   openai.DefaultDimensions,
		maxBatchSize: openai.DefaultMaxBatchSize,
		headers:      make(map[string]string),
		client:       &http.Client{Timeout: openai.DefaultTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func NewFromConfig(cfg provider.Config) (*Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("azure provider requires base_url")
	}
	if err := provider.ValidateBaseURL(cfg.BaseURL, cfg.AllowPrivate); err != nil {
		return nil, err
	}

	deployment := cfg.Deployment
	if deployment == "" {
		deployment = cfg.Model
	}
	opts := []Option{
		WithAPIKey(cfg.APIKey),
		WithBaseURL(cfg.BaseURL),
		WithAPIVersion(cfg.APIVersion),
		WithDeployment(deployment, cfg.Dimensions),
		WithMaxBatchSize(cfg.MaxBatchSize),
		WithTimeout(cfg.Timeout),
	}
	return New(opts...), nil
}

func (p *Provider) Name() string      { return ProviderName }
func (p *Provider) Model() string     { return p.deployment }
func (p *Provider) Dimensions() int   { return p.dimensions }
func (p *Provider) MaxBatchSize() int { return p.maxBatchSize }

// Embed sends texts to the deployment named by req.Model, or the default one.
func (p *Provider) Embed(ctx context.Context, texts []string, req provider.EmbedRequest) (*provider.EmbedResponse, error) {
	if req.Model == "" {
		req.Model = p.deployment
	}
	if req.Dimensions <= 0 {
		req.Dimensions = p.dimensions
	}

	httpReq, err := p.BuildEmbeddingRequest(ctx, texts, req)
	if err != nil {
		return nil, err
	}
	return openai.Do(p.client, httpReq, ProviderName, req.Model)
}

func (p *Provider) BuildEmbeddingRequest(ctx context.Context, texts []string, req provider.EmbedRequest) (*http.Request, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no input texts")
	}

	base, err := url.Parse(strings.TrimSuffix(p.baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base_url: %w", err)
	}
	prefix := base.EscapedPath()
	base.Path += "/openai/deployments/" + req.Model + "/embeddings"
	base.RawPath = prefix + "/openai/deployments/" + url.PathEscape(req.Model) + "/embeddings"
	q := base.Query()
	q.Set("api-version", p.apiVersion)
	base.RawQuery = q.Encode()

	// The deployment selects the model; the body carries only inputs and size.
	wire := openai.NewEmbeddingRequest(texts, req)
	wire.Model = ""
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	observability.PropagateRequestID(httpReq)
	httpReq.Header.Set("api-key", p.apiKey)
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}
