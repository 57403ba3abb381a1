package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/embedcache"
	"github.com/blueberrycongee/embedcache/internal/api"
	"github.com/blueberrycongee/embedcache/internal/config"
	"github.com/blueberrycongee/embedcache/tests/testutil"
)

func routePattern(mux *http.ServeMux, method, path string) string {
	req := httptest.NewRequest(method, path, http.NoBody)
	_, pattern := mux.Handler(req)
	return pattern
}

func newAPIHandlers(t *testing.T) (*api.Handler, *api.AdminHandler) {
	t.Helper()
	store, _ := testutil.NewTieredStore(t)
	client, err := embedcache.New(testutil.NewMockEmbedder(4), embedcache.WithLogger(quietLogger()), embedcache.WithStore(store))
	require.NoError(t, err)
	return api.NewHandler(client, store, quietLogger()), api.NewAdminHandler(store, nil, quietLogger())
}

func TestBuildMux_NilConfig(t *testing.T) {
	_, err := buildMux(nil, nil, nil)
	assert.ErrorIs(t, err, errNilConfig)
}

func TestBuildMux_Routes(t *testing.T) {
	handler, admin := newAPIHandlers(t)
	cfg := config.DefaultConfig()

	mux, err := buildMux(cfg, handler, admin)
	require.NoError(t, err)

	assert.Equal(t, "POST /v1/embeddings", routePattern(mux, http.MethodPost, "/v1/embeddings"))
	assert.Equal(t, "POST /v1/similarity", routePattern(mux, http.MethodPost, "/v1/similarity"))
	assert.Equal(t, "GET /health/ready", routePattern(mux, http.MethodGet, "/health/ready"))
	assert.Equal(t, "DELETE /admin/cache/tags/{tag}", routePattern(mux, http.MethodDelete, "/admin/cache/tags/docs"))
	assert.Equal(t, "GET /metrics", routePattern(mux, http.MethodGet, "/metrics"))
}

func TestBuildMux_MetricsDisabled(t *testing.T) {
	handler, admin := newAPIHandlers(t)
	cfg := config.DefaultConfig()
	cfg.Metrics.Enabled = false

	mux, err := buildMux(cfg, handler, admin)
	require.NoError(t, err)
	assert.Empty(t, routePattern(mux, http.MethodGet, "/metrics"))
}

func TestBuildMux_AdminToken(t *testing.T) {
	handler, admin := newAPIHandlers(t)
	cfg := config.DefaultConfig()
	cfg.Server.AdminToken = "s3cret"

	mux, err := buildMux(cfg, handler, admin)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/cache/stats", http.NoBody))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/cache/stats", http.NoBody)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildMux_RejectsMetricsPathCollisions(t *testing.T) {
	for _, path := range []string{"metrics", "/admin/metrics", "/v1/metrics", "/health/metrics"} {
		cfg := config.DefaultConfig()
		cfg.Metrics.Path = path
		_, err := buildMux(cfg, nil, nil)
		assert.Error(t, err, path)
	}

	cfg := config.DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Metrics.Path = "/admin/metrics"
	_, err := buildMux(cfg, nil, nil)
	assert.NoError(t, err)
}
