package testutil

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// RecordedRequest stores information about a received request.
type RecordedRequest struct {
	Method  string
	Path    string
	Query   string
	Body    []byte
	Headers http.Header
	Time    time.Time
}

// MockError defines an error response.
type MockError struct {
	Message string
	Type    string
	Code    string
}

type queuedError struct {
	status int
	err    *MockError
}

// MockEmbeddingServer simulates the OpenAI and Azure OpenAI embeddings APIs.
type MockEmbeddingServer struct {
	server   *httptest.Server
	requests []RecordedRequest
	errors   []queuedError
	mu       sync.Mutex

	Latency time.Duration
	// DimensionsOverride, if set, replaces the requested size in responses.
	DimensionsOverride int
	// ShuffleIndices returns data items in reverse order.
	ShuffleIndices bool
}

// NewMockEmbeddingServer creates and starts a new mock server.
func NewMockEmbeddingServer() *MockEmbeddingServer {
	m := &MockEmbeddingServer{}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/embeddings", m.handleEmbeddings)
	mux.HandleFunc("/embeddings", m.handleEmbeddings)
	mux.HandleFunc("/openai/deployments/{deployment}/embeddings", m.handleEmbeddings)

	m.server = httptest.NewServer(mux)
	return m
}

// URL returns the mock server's URL.
func (m *MockEmbeddingServer) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockEmbeddingServer) Close() {
	m.server.Close()
}

// Requests returns all recorded requests.
func (m *MockEmbeddingServer) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]RecordedRequest, len(m.requests))
	copy(result, m.requests)
	return result
}

// QueueError makes the next request fail with statusCode.
func (m *MockEmbeddingServer) QueueError(statusCode int, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, queuedError{
		status: statusCode,
		err: &MockError{
			Message: message,
			Type:    "api_error",
			Code:    fmt.Sprintf("error_%d", statusCode),
		},
	})
}

// SetLatency sets the simulated latency for requests.
func (m *MockEmbeddingServer) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Latency = d
}

func (m *MockEmbeddingServer) recordRequest(r *http.Request, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, RecordedRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.RawQuery,
		Body:    body,
		Headers: r.Header.Clone(),
		Time:    time.Now(),
	})
}

func (m *MockEmbeddingServer) nextError() *queuedError {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.errors) == 0 {
		return nil
	}
	e := m.errors[0]
	m.errors = m.errors[1:]
	return &e
}

func (m *MockEmbeddingServer) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body) //nolint:errcheck // test code
	m.recordRequest(r, body)

	m.mu.Lock()
	latency := m.Latency
	dimsOverride := m.DimensionsOverride
	shuffle := m.ShuffleIndices
	m.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-r.Context().Done():
			return
		}
	}

	if qe := m.nextError(); qe != nil {
		writeErrorResponse(w, qe.status, qe.err)
		return
	}

	var req struct {
		Model      string   `json:"model"`
		Input      []string `json:"input"`
		Dimensions int      `json:"dimensions"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, &MockError{Message: err.Error(), Type: "invalid_request_error"})
		return
	}

	dims := req.Dimensions
	if dims <= 0 {
		dims = 1536
	}
	if dimsOverride > 0 {
		dims = dimsOverride
	}

	data := make([]map[string]any, len(req.Input))
	tokens := 0
	for i, text := range req.Input {
		data[i] = map[string]any{
			"object":    "embedding",
			"index":     i,
			"embedding": VectorFor(text, dims),
		}
		tokens += (len(text) + 3) / 4
	}
	if shuffle {
		for i, j := 0, len(data)-1; i < j; i, j = i+1, j-1 {
			data[i], data[j] = data[j], data[i]
		}
	}

	resp := map[string]any{
		"object": "list",
		"data":   data,
		"model":  req.Model,
		"usage": map[string]int{
			"prompt_tokens": tokens,
			"total_tokens":  tokens,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp) //nolint:errcheck // test code
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, err *MockError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // test code
		"error": map[string]string{
			"message": err.Message,
			"type":    err.Type,
			"code":    err.Code,
		},
	})
}
