// Package testutil provides shared test doubles: a programmable in-process
// embedder, a mock OpenAI-compatible embeddings server and a miniredis-backed
// tiered store.
package testutil

import (
	"context"
	"crypto/sha256"
	"slices"
	"sync"

	"github.com/blueberrycongee/embedcache/pkg/provider"
)

// MockEmbedder is an in-process provider.Embedder. Vectors are derived from
// the text, so equal texts always get equal vectors.
type MockEmbedder struct {
	mu       sync.Mutex
	calls    [][]string
	failures []error // popped one per call, before success
	always   error

	NameValue  string
	ModelValue string
	Dims       int
	BatchLimit int
	// UsagePerText is reported as provider usage for each input.
	UsagePerText int
	// Hook, if set, runs at the start of every call.
	Hook func(ctx context.Context, texts []string)
}

var _ provider.Embedder = (*MockEmbedder)(nil)

// NewMockEmbedder creates a mock with the given dimensionality.
func NewMockEmbedder(dims int) *MockEmbedder {
	return &MockEmbedder{
		NameValue:    "mock",
		ModelValue:   "mock-embedding",
		Dims:         dims,
		BatchLimit:   2048,
		UsagePerText: 1,
	}
}

// FailNext makes the next len(errs) calls fail with errs, in order.
func (m *MockEmbedder) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// FailAlways makes every call fail with err. Pass nil to stop.
func (m *MockEmbedder) FailAlways(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.always = err
}

// Calls returns the texts of every call, in call order.
func (m *MockEmbedder) Calls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = slices.Clone(c)
	}
	return out
}

// CallCount returns the number of calls made.
func (m *MockEmbedder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *MockEmbedder) Name() string      { return m.NameValue }
func (m *MockEmbedder) Model() string     { return m.ModelValue }
func (m *MockEmbedder) Dimensions() int   { return m.Dims }
func (m *MockEmbedder) MaxBatchSize() int { return m.BatchLimit }

// Embed implements provider.Embedder.
func (m *MockEmbedder) Embed(ctx context.Context, texts []string, req provider.EmbedRequest) (*provider.EmbedResponse, error) {
	if m.Hook != nil {
		m.Hook(ctx, texts)
	}

	m.mu.Lock()
	m.calls = append(m.calls, slices.Clone(texts))
	var err error
	switch {
	case m.always != nil:
		err = m.always
	case len(m.failures) > 0:
		err = m.failures[0]
		m.failures = m.failures[1:]
	}
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	dims := req.Dimensions
	if dims <= 0 {
		dims = m.Dims
	}
	model := req.Model
	if model == "" {
		model = m.ModelValue
	}

	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		vectors[i] = VectorFor(text, dims)
	}
	return &provider.EmbedResponse{
		Vectors:     vectors,
		Model:       model,
		UsageTokens: m.UsagePerText * len(texts),
	}, nil
}

// VectorFor returns the deterministic non-zero vector the mocks produce for text.
func VectorFor(text string, dims int) []float64 {
	sum := sha256.Sum256([]byte(text))
	v := make([]float64, dims)
	for i := range v {
		v[i] = (float64(sum[i%len(sum)]) + 1) / 256
	}
	return v
}
