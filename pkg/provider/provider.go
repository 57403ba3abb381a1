// Package provider defines the public contract for embedding providers.
// Each provider (OpenAI, Azure OpenAI, ...) implements Embedder to turn
// a list of texts into vectors in one upstream call.
package provider

import (
	"context"
	"time"
)

// Embedder generates embedding vectors for text.
type Embedder interface {
	// Name returns the provider identifier (e.g., "openai", "azure").
	Name() string

	// Model returns the default embedding model.
	Model() string

	// Dimensions returns the default vector dimensionality.
	Dimensions() int

	// MaxBatchSize returns the largest number of texts accepted per call.
	MaxBatchSize() int

	// Embed generates one vector per input text, in input order.
	// Failures should be returned as *errors.EmbeddingError so callers can
	// distinguish rate limiting, credential and request-shape failures.
	Embed(ctx context.Context, texts []string, req EmbedRequest) (*EmbedResponse, error)
}

// EmbedRequest carries per-call parameters. Zero values use the provider defaults.
type EmbedRequest struct {
	Model      string `json:"model,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`
}

// EmbedResponse is the unified provider response.
type EmbedResponse struct {
	Vectors     [][]float64 `json:"vectors"`
	Model       string      `json:"model"`
	UsageTokens int         `json:"usage_tokens"`
}

// Config holds common configuration for HTTP embedding providers.
type Config struct {
	Name         string        `yaml:"name"`
	Type         string        `yaml:"type"` // openai, azure
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	APIVersion   string        `yaml:"api_version"`  // azure only
	Deployment   string        `yaml:"deployment"`   // azure only
	Organization string        `yaml:"organization"` // openai only
	Project      string        `yaml:"project"`      // openai only
	Model        string        `yaml:"model"`
	Dimensions   int           `yaml:"dimensions"`
	MaxBatchSize int           `yaml:"max_batch_size"`
	Timeout      time.Duration `yaml:"timeout"`
	AllowPrivate bool          `yaml:"allow_private_base_url"`
}
