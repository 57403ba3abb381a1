package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/embedcache/internal/httputil"
	"github.com/blueberrycongee/embedcache/internal/observability"
	"github.com/blueberrycongee/embedcache/pkg/provider"
)

// EmbeddingRequest is the request body of POST /embeddings.
type EmbeddingRequest struct {
	Model          string   `json:"model,omitempty"`
	Input          []string `json:"input"`
	Dimensions     int      `json:"dimensions,omitempty"`
	EncodingFormat string   `json:"encoding_format,omitempty"`
}

// EmbeddingData is one vector of an EmbeddingResponse.
type EmbeddingData struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

// EmbeddingResponse is the response body of POST /embeddings.
type EmbeddingResponse struct {
	Object string          `json:"object"`
	Data   []EmbeddingData `json:"data"`
	Model  string          `json:"model"`
	Usage  struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// NewEmbeddingRequest builds the wire body for texts.
// text-embedding-ada-002 has a fixed size and rejects the dimensions field.
func NewEmbeddingRequest(texts []string, req provider.EmbedRequest) *EmbeddingRequest {
	body := &EmbeddingRequest{
		Model:          req.Model,
		Input:          texts,
		EncodingFormat: "float",
	}
	if req.Dimensions > 0 && !strings.Contains(req.Model, "ada-002") {
		body.Dimensions = req.Dimensions
	}
	return body
}

// BuildEmbeddingRequest creates an HTTP request for the OpenAI Embedding API.
func (p *Provider) BuildEmbeddingRequest(ctx context.Context, texts []string, req provider.EmbedRequest) (*http.Request, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no input texts")
	}

	body, err := json.Marshal(NewEmbeddingRequest(texts, req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimSuffix(p.baseURL, "/") + "/embeddings"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	observability.PropagateRequestID(httpReq)
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}

	return httpReq, nil
}

// ParseEmbeddingResponse transforms a response into the unified format.
// Vectors are returned in input order regardless of the order of data items.
func ParseEmbeddingResponse(resp *http.Response) (*provider.EmbedResponse, error) {
	var embResp EmbeddingResponse
	if err := httputil.DecodeJSON(resp.Body, httputil.MaxEmbeddingResponseBytes, &embResp); err != nil {
		return nil, err
	}

	sort.SliceStable(embResp.Data, func(i, j int) bool {
		return embResp.Data[i].Index < embResp.Data[j].Index
	})

	vectors := make([][]float64, len(embResp.Data))
	for i, d := range embResp.Data {
		vectors[i] = d.Embedding
	}

	usage := embResp.Usage.PromptTokens
	if usage == 0 {
		usage = embResp.Usage.TotalTokens
	}
	return &provider.EmbedResponse{
		Vectors:     vectors,
		Model:       embResp.Model,
		UsageTokens: usage,
	}, nil
}
