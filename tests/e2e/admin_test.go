package e2e

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/embedcache/pkg/cache"
)

func TestAdmin_RequiresToken(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, server.URL+"/admin/cache/stats", nil)
	require.NoError(t, err)
	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdmin_InvalidateEmbeddingsForcesRegeneration(t *testing.T) {
	text := "e2e invalidate " + t.Name()

	resp := call(t, http.MethodPost, "/v1/embeddings", map[string]any{"input": text}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = call(t, http.MethodPost, "/v1/embeddings", map[string]any{"input": text}, nil)
	require.Equal(t, "HIT", resp.Header.Get("X-Cache"))

	var inv struct {
		Invalidated int `json:"invalidated"`
	}
	resp = call(t, http.MethodDelete, "/admin/cache/embeddings", nil, &inv)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.GreaterOrEqual(t, inv.Invalidated, 1)

	before := upstreamCalls()
	resp = call(t, http.MethodPost, "/v1/embeddings", map[string]any{"input": text}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	assert.Equal(t, before+1, upstreamCalls())
}

func TestAdmin_StatsTrackTraffic(t *testing.T) {
	resp := call(t, http.MethodPost, "/admin/cache/stats/reset", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	text := "e2e stats " + t.Name()
	call(t, http.MethodPost, "/v1/embeddings", map[string]any{"input": text}, nil)
	call(t, http.MethodPost, "/v1/embeddings", map[string]any{"input": text}, nil)

	var stats cache.Stats
	resp = call(t, http.MethodGet, "/admin/cache/stats", nil, &stats)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.GreaterOrEqual(t, stats.Hits, int64(1))
	assert.GreaterOrEqual(t, stats.Misses, int64(1))
	assert.GreaterOrEqual(t, stats.Sets, int64(1))
}

func TestAdmin_ConfigWithoutManagerIsUnavailable(t *testing.T) {
	resp := call(t, http.MethodGet, "/admin/config", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
