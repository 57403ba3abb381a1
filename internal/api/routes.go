package api //nolint:revive // package name is intentional

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// RegisterRoutes registers the data-plane routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health/live", h.HealthLive)
	mux.HandleFunc("GET /health/ready", h.HealthReady)

	mux.HandleFunc("POST /v1/embeddings", h.Embeddings)
	mux.HandleFunc("POST /embeddings", h.Embeddings)
	mux.HandleFunc("POST /v1/similarity", h.Similarity)
}

// RegisterRoutes registers the admin routes on mux, guarded by token.
// An empty token leaves them unauthenticated.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux, token string) {
	guard := func(fn http.HandlerFunc) http.Handler {
		return AdminAuth(token, fn)
	}

	mux.Handle("GET /admin/cache/stats", guard(h.CacheStats))
	mux.Handle("POST /admin/cache/stats/reset", guard(h.ResetStats))
	mux.Handle("POST /admin/cache/clear", guard(h.ClearCache))
	mux.Handle("POST /admin/cache/invalidate", guard(h.InvalidatePattern))
	mux.Handle("DELETE /admin/cache/tags/{tag}", guard(h.InvalidateTag))
	mux.Handle("DELETE /admin/cache/embeddings", guard(h.InvalidateEmbeddings))
	mux.Handle("DELETE /admin/cache/users/{user}/search", guard(h.InvalidateUserSearch))

	mux.Handle("GET /admin/config", guard(h.GetConfigStatus))
	mux.Handle("POST /admin/config/reload", guard(h.ReloadConfig))
}

// AdminAuth requires "Authorization: Bearer <token>" when token is set.
func AdminAuth(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	want := []byte(token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
			writeError(w, http.StatusUnauthorized, "authentication_error", "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RouteInfo describes an API route.
type RouteInfo struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// GetRoutes returns information about all registered routes.
func GetRoutes() []RouteInfo {
	return []RouteInfo{
		{Method: "GET", Path: "/health/live", Description: "Liveness check", Category: "health"},
		{Method: "GET", Path: "/health/ready", Description: "Readiness check against the remote cache tier", Category: "health"},

		{Method: "POST", Path: "/v1/embeddings", Description: "Generate embeddings (OpenAI-compatible)", Category: "embeddings"},
		{Method: "POST", Path: "/v1/similarity", Description: "Cosine similarity of two vectors or texts", Category: "embeddings"},

		{Method: "GET", Path: "/admin/cache/stats", Description: "Cache statistics", Category: "cache"},
		{Method: "POST", Path: "/admin/cache/stats/reset", Description: "Reset cache statistics", Category: "cache"},
		{Method: "POST", Path: "/admin/cache/clear", Description: "Clear both cache tiers", Category: "cache"},
		{Method: "POST", Path: "/admin/cache/invalidate", Description: "Invalidate keys matching a pattern", Category: "cache"},
		{Method: "DELETE", Path: "/admin/cache/tags/{tag}", Description: "Invalidate every key carrying a tag", Category: "cache"},
		{Method: "DELETE", Path: "/admin/cache/embeddings", Description: "Invalidate all cached embeddings", Category: "cache"},
		{Method: "DELETE", Path: "/admin/cache/users/{user}/search", Description: "Invalidate one user's search results", Category: "cache"},

		{Method: "GET", Path: "/admin/config", Description: "Loaded configuration status", Category: "config"},
		{Method: "POST", Path: "/admin/config/reload", Description: "Reload configuration from disk", Category: "config"},
	}
}
