package e2e

import (
	"net/http"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/embedcache/internal/api"
	"github.com/blueberrycongee/embedcache/tests/testutil"
)

func TestEmbeddings_SingleMissThenHit(t *testing.T) {
	text := "e2e single " + t.Name()
	before := upstreamCalls()

	var first api.EmbeddingsResponse
	resp := call(t, http.MethodPost, "/v1/embeddings", map[string]any{"input": text}, &first)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	assert.Equal(t, "list", first.Object)
	require.Len(t, first.Data, 1)
	assert.Equal(t, testutil.VectorFor(text, testDims), first.Data[0].Embedding)
	assert.Equal(t, testModel, first.Model)

	var second api.EmbeddingsResponse
	resp = call(t, http.MethodPost, "/v1/embeddings", map[string]any{"input": text}, &second)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	assert.Equal(t, first.Data[0].Embedding, second.Data[0].Embedding)

	assert.Equal(t, before+1, upstreamCalls())
}

func TestEmbeddings_UpstreamRequestShape(t *testing.T) {
	text := "e2e shape " + t.Name()
	resp := call(t, http.MethodPost, "/v1/embeddings", map[string]any{"input": text}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reqs := upstream.Requests()
	last := reqs[len(reqs)-1]
	assert.Equal(t, "/v1/embeddings", last.Path)
	assert.Equal(t, "Bearer sk-e2e", last.Headers.Get("Authorization"))
	assert.Equal(t, resp.Header.Get("X-Request-ID"), last.Headers.Get("X-Request-ID"))

	var body struct {
		Model      string   `json:"model"`
		Input      []string `json:"input"`
		Dimensions int      `json:"dimensions"`
	}
	require.NoError(t, json.Unmarshal(last.Body, &body))
	assert.Equal(t, testModel, body.Model)
	assert.Equal(t, []string{text}, body.Input)
	assert.Equal(t, testDims, body.Dimensions)
}

func TestEmbeddings_BatchPartialHit(t *testing.T) {
	cached := "e2e batch cached " + t.Name()
	fresh := "e2e batch fresh " + t.Name()

	resp := call(t, http.MethodPost, "/v1/embeddings", map[string]any{"input": cached}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out api.EmbeddingsResponse
	resp = call(t, http.MethodPost, "/v1/embeddings", map[string]any{"input": []string{fresh, cached, fresh}}, &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "PARTIAL", resp.Header.Get("X-Cache"))
	assert.Equal(t, 1, out.Cache.Cached)
	assert.Equal(t, 2, out.Cache.Generated)

	require.Len(t, out.Data, 3)
	for i, text := range []string{fresh, cached, fresh} {
		assert.Equal(t, i, out.Data[i].Index)
		assert.Equal(t, testutil.VectorFor(text, testDims), out.Data[i].Embedding)
	}

	// Only the uncached text went upstream, once.
	reqs := upstream.Requests()
	var body struct {
		Input []string `json:"input"`
	}
	require.NoError(t, json.Unmarshal(reqs[len(reqs)-1].Body, &body))
	assert.Equal(t, []string{fresh}, body.Input)
}

func TestEmbeddings_NoCacheAlwaysCallsUpstream(t *testing.T) {
	text := "e2e nocache " + t.Name()
	before := upstreamCalls()

	for i := 0; i < 2; i++ {
		resp := call(t, http.MethodPost, "/v1/embeddings", map[string]any{"input": text, "no_cache": true}, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	}
	assert.Equal(t, before+2, upstreamCalls())
}

func TestEmbeddings_TransientUpstreamErrorIsRetried(t *testing.T) {
	upstream.QueueError(http.StatusServiceUnavailable, "overloaded")

	var out api.EmbeddingsResponse
	resp := call(t, http.MethodPost, "/v1/embeddings", map[string]any{"input": "e2e retry " + t.Name()}, &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, out.Data, 1)
}

func TestEmbeddings_UpstreamCredentialErrorIsHidden(t *testing.T) {
	upstream.QueueError(http.StatusUnauthorized, "Incorrect API key provided: sk-e2e")
	upstream.QueueError(http.StatusUnauthorized, "Incorrect API key provided: sk-e2e")
	before := upstreamCalls()

	var out api.ErrorResponse
	resp := call(t, http.MethodPost, "/v1/embeddings", map[string]any{"input": "e2e auth " + t.Name()}, &out)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.NotContains(t, out.Error.Message, "sk-e2e")
	assert.Equal(t, before+2, upstreamCalls(), "every attempt is spent before failing")
}

func TestEmbeddings_ValidationNeverReachesUpstream(t *testing.T) {
	before := upstreamCalls()

	resp := call(t, http.MethodPost, "/v1/embeddings", map[string]any{"input": "   "}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = call(t, http.MethodPost, "/v1/embeddings", map[string]any{"input": []string{}}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, before, upstreamCalls())
}

func TestSimilarity_Texts(t *testing.T) {
	var out api.SimilarityResponse
	resp := call(t, http.MethodPost, "/v1/similarity", map[string]any{
		"text_a": "e2e same " + t.Name(),
		"text_b": "e2e same " + t.Name(),
	}, &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 1.0, out.Similarity, 1e-9)
}

func TestHealth(t *testing.T) {
	resp := call(t, http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = call(t, http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
