package azure

import (
	"net/http"
	"strings"
	"time"
)

// Option configures the Azure provider.
type Option func(*Provider)

// WithAPIKey sets the value of the api-key header.
func WithAPIKey(key string) Option {
	return func(p *Provider) { p.apiKey = key }
}

// WithBaseURL sets the resource endpoint, e.g. https://name.openai.azure.com.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url = strings.TrimSpace(url); url != "" {
			p.baseURL = strings.TrimSuffix(url, "/")
		}
	}
}

// WithDeployment sets the default deployment and its vector size.
func WithDeployment(name string, dimensions int) Option {
	return func(p *Provider) {
		if name != "" {
			p.deployment = name
		}
		if dimensions > 0 {
			p.dimensions = dimensions
		}
	}
}

// WithAPIVersion overrides the api-version query parameter.
func WithAPIVersion(version string) Option {
	return func(p *Provider) {
		if version != "" {
			p.apiVersion = version
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

func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			c := *p.client
			c.Timeout = d
			p.client = &c
		}
	}
}
