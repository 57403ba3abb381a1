package azure

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/embedcache/pkg/errors"
	"github.com/blueberrycongee/embedcache/pkg/provider"
	"github.com/blueberrycongee/embedcache/tests/testutil"
)

func TestBuildEmbeddingRequest_EscapesDeploymentNameAndUsesQueryParams(t *testing.T) {
	p, err := NewFromConfig(provider.Config{
		APIKey:     "k",
		BaseURL:    "https://example.com/prefix",
		APIVersion: "2024-02-15-preview",
	})
	require.NoError(t, err)
	p.headers["X-Foo"] = "bar"

	req, err := p.BuildEmbeddingRequest(context.Background(), []string{"hi"},
		provider.EmbedRequest{Model: "dep/with/slash?x=y", Dimensions: 64})
	require.NoError(t, err)

	require.Equal(t, "/prefix/openai/deployments/dep%2Fwith%2Fslash%3Fx=y/embeddings", req.URL.EscapedPath())
	require.Equal(t, "2024-02-15-preview", req.URL.Query().Get("api-version"))
	require.Len(t, req.URL.Query(), 1)
	require.Equal(t, "bar", req.Header.Get("X-Foo"))
	require.Equal(t, "k", req.Header.Get("api-key"))

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(body), `"model"`)
	assert.Contains(t, string(body), `"dimensions":64`)
}

func TestNewFromConfig(t *testing.T) {
	_, err := NewFromConfig(provider.Config{APIKey: "k"})
	require.Error(t, err, "base_url is required")

	_, err = NewFromConfig(provider.Config{APIKey: "k", BaseURL: "http://10.0.0.1"})
	require.Error(t, err, "private hosts need an explicit opt-in")

	p, err := NewFromConfig(provider.Config{
		APIKey:     "k",
		BaseURL:    "https://acme.openai.azure.com",
		Model:      "text-embedding-3-large",
		Deployment: "embed-large",
		Dimensions: 3072,
	})
	require.NoError(t, err)
	assert.Equal(t, "embed-large", p.Model())
	assert.Equal(t, 3072, p.Dimensions())
	assert.Equal(t, DefaultAPIVersion, p.apiVersion)
}

func TestProvider_EmbedAgainstMockServer(t *testing.T) {
	server := testutil.NewMockEmbeddingServer()
	defer server.Close()

	p := New(WithAPIKey("azure-key"), WithBaseURL(server.URL()), WithDeployment("embed", 4))

	resp, err := p.Embed(context.Background(), []string{"x", "y"}, provider.EmbedRequest{})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{testutil.VectorFor("x", 4), testutil.VectorFor("y", 4)}, resp.Vectors)

	reqs := server.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/openai/deployments/embed/embeddings", reqs[0].Path)
	assert.Equal(t, "api-version="+DefaultAPIVersion, reqs[0].Query)
	assert.Equal(t, "azure-key", reqs[0].Headers.Get("api-key"))
}

func TestProvider_EmbedMapsAuthFailure(t *testing.T) {
	server := testutil.NewMockEmbeddingServer()
	defer server.Close()
	server.QueueError(http.StatusUnauthorized, "bad key")

	p := New(WithBaseURL(server.URL()), WithDeployment("embed", 4))
	_, err := p.Embed(context.Background(), []string{"x"}, provider.EmbedRequest{})

	var embErr *errors.EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.Equal(t, errors.CodeInvalidAPIKey, embErr.Code)
	assert.Equal(t, ProviderName, embErr.Provider)
	assert.False(t, errors.IsRetryable(err))
}
