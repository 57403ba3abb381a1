package openai

import (
	"net/http"
	"strings"
	"time"
)

// Option configures the OpenAI provider.
type Option func(*Provider)

// WithAPIKey sets the bearer token sent on every request.
func WithAPIKey(key string) Option {
	return func(p *Provider) { p.apiKey = key }
}

// WithBaseURL points the provider at an OpenAI-compatible endpoint.
// The URL should include the version segment, e.g. https://host/v1.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url = strings.TrimSpace(url); url != "" {
			p.baseURL = strings.TrimSuffix(url, "/")
		}
	}
}

// WithModel sets the default model and the vector size requested for it.
func WithModel(model string, dimensions int) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
		if dimensions > 0 {
			p.dimensions = dimensions
		}
	}
}

func WithMaxBatchSize(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.maxBatchSize = n
		}
	}
}

// WithOrganization scopes requests and billing to an OpenAI organization.
func WithOrganization(org string) Option {
	return WithHeader("OpenAI-Organization", org)
}

// WithProject scopes requests and billing to an OpenAI project.
func WithProject(project string) Option {
	return WithHeader("OpenAI-Project", project)
}

// WithHeader adds a header to every upstream request. Empty values are ignored.
func WithHeader(key, value string) Option {
	return func(p *Provider) {
		if value != "" {
			p.headers[http.CanonicalHeaderKey(key)] = value
		}
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.client = c
		}
	}
}

// WithTimeout bounds each upstream call, keeping the current transport.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d <= 0 {
			return
		}
		c := *p.client
		c.Timeout = d
		p.client = &c
	}
}
