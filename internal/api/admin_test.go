package api

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/embedcache"
	"github.com/blueberrycongee/embedcache/internal/config"
	"github.com/blueberrycongee/embedcache/pkg/cache"
)

type fakeConfigManager struct {
	status  config.Status
	reloads int
	err     error
}

func (f *fakeConfigManager) Status() config.Status { return f.status }

func (f *fakeConfigManager) Reload() error {
	if f.err != nil {
		return f.err
	}
	f.reloads++
	f.status.Checksum = "after"
	f.status.ReloadCount++
	return nil
}

type adminServer struct {
	*testServer
	configs *fakeConfigManager
}

func newAdminServer(t *testing.T, token string) *adminServer {
	t.Helper()
	s := newTestServer(t)
	cm := &fakeConfigManager{status: config.Status{Path: "config.yaml", Checksum: "before", LoadedAt: time.Now(), ReloadCount: 1}}
	NewAdminHandler(s.store, cm, quietLogger()).RegisterRoutes(s.mux, token)
	return &adminServer{testServer: s, configs: cm}
}

func (s *adminServer) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	set := func(ns cache.Namespace, key string, tags ...string) {
		require.NoError(t, s.store.Set(ctx, key, []byte(`"v"`), cache.SetOptions{Namespace: ns, Tags: tags}))
	}
	set(cache.NamespaceSearch, "alice:cats", "user:alice")
	set(cache.NamespaceSearch, "alice:dogs", "user:alice")
	set(cache.NamespaceSearch, "bob:cats")
	set(cache.NamespaceDocuments, "doc:1", "docs")
	set(cache.NamespaceDocuments, "doc:2", "docs")
	set(cache.NamespaceNone, "misc")
}

func TestAdmin_CacheStats(t *testing.T) {
	s := newAdminServer(t, "")
	rec := s.do(t, http.MethodPost, "/v1/embeddings", `{"input":"x"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/admin/cache/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[cache.Stats](t, rec)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, 1, stats.MemorySize)

	rec = s.do(t, http.MethodPost, "/admin/cache/stats/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decodeBody[cache.Stats](t, rec).Sets)
}

func TestAdmin_InvalidateTag(t *testing.T) {
	s := newAdminServer(t, "")
	s.seed(t)

	rec := s.do(t, http.MethodDelete, "/admin/cache/tags/docs", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decodeBody[invalidateResponse](t, rec).Invalidated)

	rec = s.do(t, http.MethodDelete, "/admin/cache/tags/docs", "")
	assert.Equal(t, 0, decodeBody[invalidateResponse](t, rec).Invalidated)
}

func TestAdmin_InvalidatePattern(t *testing.T) {
	s := newAdminServer(t, "")
	s.seed(t)

	rec := s.do(t, http.MethodPost, "/admin/cache/invalidate", `{"pattern":"*:cats","namespace":"search"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decodeBody[invalidateResponse](t, rec).Invalidated)

	_, found, err := s.store.Get(context.Background(), "alice:dogs", cache.GetOptions{Namespace: cache.NamespaceSearch})
	require.NoError(t, err)
	assert.True(t, found)

	for _, body := range []string{`{`, `{"pattern":" "}`, `{"pattern":"*","namespace":"bogus"}`} {
		rec = s.do(t, http.MethodPost, "/admin/cache/invalidate", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestAdmin_InvalidateUserSearch(t *testing.T) {
	s := newAdminServer(t, "")
	s.seed(t)

	rec := s.do(t, http.MethodDelete, "/admin/cache/users/alice/search", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decodeBody[invalidateResponse](t, rec).Invalidated)

	_, found, err := s.store.Get(context.Background(), "bob:cats", cache.GetOptions{Namespace: cache.NamespaceSearch})
	require.NoError(t, err)
	assert.True(t, found)
}

func TestAdmin_InvalidateUserSearchWithoutUserIsBadRequest(t *testing.T) {
	s := newTestServer(t)
	h := NewAdminHandler(s.store, nil, quietLogger())

	rec := httptest.NewRecorder()
	h.InvalidateUserSearch(rec, httptest.NewRequest(http.MethodDelete, "/admin/cache/users//search", http.NoBody))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "user id is required")
}

func TestAdmin_InvalidateEmbeddings(t *testing.T) {
	s := newAdminServer(t, "")
	s.seed(t)
	rec := s.do(t, http.MethodPost, "/v1/embeddings", `{"input":["x","y"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodDelete, "/admin/cache/embeddings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decodeBody[invalidateResponse](t, rec).Invalidated)

	tagKey := s.store.Keys().Tag(embedcache.EmbeddingTag)
	assert.False(t, s.redis.Exists(tagKey))

	rec = s.do(t, http.MethodPost, "/v1/embeddings", `{"input":"x"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
}

func TestAdmin_ClearCache(t *testing.T) {
	s := newAdminServer(t, "")
	s.seed(t)

	rec := s.do(t, http.MethodPost, "/admin/cache/clear", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, s.redis.Keys())
	assert.Zero(t, s.store.Stats().MemorySize)
}

func TestAdmin_StoreFailure(t *testing.T) {
	s := newAdminServer(t, "")
	s.seed(t)
	s.redis.SetError("ERR down")

	rec := s.do(t, http.MethodDelete, "/admin/cache/tags/docs", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "ERR down")
}

func TestAdmin_CacheDisabled(t *testing.T) {
	mux := http.NewServeMux()
	NewAdminHandler(nil, nil, quietLogger()).RegisterRoutes(mux, "")

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/admin/cache/stats"},
		{http.MethodPost, "/admin/cache/clear"},
		{http.MethodDelete, "/admin/cache/embeddings"},
		{http.MethodGet, "/admin/config"},
	} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, http.NoBody))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, tc.path)
	}
}

func TestAdmin_Config(t *testing.T) {
	s := newAdminServer(t, "")

	rec := s.do(t, http.MethodGet, "/admin/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "before", decodeBody[config.Status](t, rec).Checksum)

	rec = s.do(t, http.MethodPost, "/admin/config/reload", `{"expected_checksum":"stale"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Zero(t, s.configs.reloads)

	rec = s.do(t, http.MethodPost, "/admin/config/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[config.Status](t, rec)
	assert.Equal(t, "after", status.Checksum)
	assert.Equal(t, 2, status.ReloadCount)

	s.configs.err = stderrors.New("bad yaml")
	rec = s.do(t, http.MethodPost, "/admin/config/reload", `{}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAdminAuth(t *testing.T) {
	s := newAdminServer(t, "s3cret")

	tests := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing", header: "", status: http.StatusUnauthorized},
		{name: "wrong", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic s3cret", status: http.StatusUnauthorized},
		{name: "valid", header: "Bearer s3cret", status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/cache/stats", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			s.mux.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	// Data-plane routes are not guarded.
	rec := s.do(t, http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetRoutes_MatchRegistered(t *testing.T) {
	s := newAdminServer(t, "")
	for _, route := range GetRoutes() {
		path := strings.NewReplacer("{tag}", "x", "{user}", "u").Replace(route.Path)
		req := httptest.NewRequest(route.Method, path, http.NoBody)
		_, pattern := s.mux.Handler(req)
		assert.NotEmpty(t, pattern, "%s %s is not registered", route.Method, route.Path)
	}
}
