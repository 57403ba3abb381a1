package api //nolint:revive // package name is intentional

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/embedcache/caches/tiered"
	"github.com/blueberrycongee/embedcache/internal/config"
	"github.com/blueberrycongee/embedcache/internal/observability"
	"github.com/blueberrycongee/embedcache/pkg/cache"
)

// ConfigManager is the subset of config.Manager used by the admin endpoints.
type ConfigManager interface {
	Status() config.Status
	Reload() error
}

// AdminHandler serves cache and configuration administration.
type AdminHandler struct {
	store         *tiered.Store
	configManager ConfigManager
	logger        *slog.Logger
}

// NewAdminHandler creates an admin handler. configManager may be nil.
func NewAdminHandler(store *tiered.Store, configManager ConfigManager, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{
		store:         store,
		configManager: configManager,
		logger:        logger,
	}
}

type invalidatePatternRequest struct {
	Pattern   string `json:"pattern"`
	Namespace string `json:"namespace,omitempty"`
}

type invalidateResponse struct {
	Invalidated int `json:"invalidated"`
}

type configReloadRequest struct {
	ExpectedChecksum string `json:"expected_checksum,omitempty"`
}

// CacheStats handles GET /admin/cache/stats.
func (h *AdminHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	writeJSON(w, http.StatusOK, h.store.Stats())
}

// ResetStats handles POST /admin/cache/stats/reset.
func (h *AdminHandler) ResetStats(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	h.store.ResetStats()
	h.audit(r, "reset_stats", "", 0)
	writeJSON(w, http.StatusOK, h.store.Stats())
}

// ClearCache handles POST /admin/cache/clear.
func (h *AdminHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	if err := h.store.ClearAll(r.Context()); err != nil {
		h.logger.Error("cache clear failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "cache_error", "failed to clear cache")
		return
	}
	h.audit(r, "clear", "", 0)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// InvalidateTag handles DELETE /admin/cache/tags/{tag}.
func (h *AdminHandler) InvalidateTag(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	tag := r.PathValue("tag")
	if tag == "" {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "tag is required")
		return
	}
	n, err := h.store.InvalidateByTag(r.Context(), tag)
	h.finishInvalidation(w, r, "invalidate_tag", tag, n, err)
}

// InvalidatePattern handles POST /admin/cache/invalidate.
func (h *AdminHandler) InvalidatePattern(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}

	var req invalidatePatternRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Pattern) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "pattern is required")
		return
	}
	ns, ok := cache.ParseNamespace(req.Namespace)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "unknown namespace: "+req.Namespace)
		return
	}

	n, err := h.store.InvalidateByPattern(r.Context(), req.Pattern, cache.PatternOptions{Namespace: ns})
	h.finishInvalidation(w, r, "invalidate_pattern", req.Pattern, n, err)
}

// InvalidateEmbeddings handles DELETE /admin/cache/embeddings.
func (h *AdminHandler) InvalidateEmbeddings(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	n, err := h.store.InvalidateEmbeddings(r.Context())
	h.finishInvalidation(w, r, "invalidate_embeddings", "", n, err)
}

// InvalidateUserSearch handles DELETE /admin/cache/users/{user}/search.
func (h *AdminHandler) InvalidateUserSearch(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	user := r.PathValue("user")
	n, err := h.store.InvalidateUserSearch(r.Context(), user)
	h.finishInvalidation(w, r, "invalidate_user_search", user, n, err)
}

// GetConfigStatus handles GET /admin/config.
func (h *AdminHandler) GetConfigStatus(w http.ResponseWriter, r *http.Request) {
	if h.configManager == nil {
		writeError(w, http.StatusServiceUnavailable, "server_error", "config manager not available")
		return
	}
	writeJSON(w, http.StatusOK, h.configManager.Status())
}

// ReloadConfig handles POST /admin/config/reload.
func (h *AdminHandler) ReloadConfig(w http.ResponseWriter, r *http.Request) {
	if h.configManager == nil {
		writeError(w, http.StatusServiceUnavailable, "server_error", "config manager not available")
		return
	}

	var req configReloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body")
		return
	}

	before := h.configManager.Status()
	if req.ExpectedChecksum != "" && req.ExpectedChecksum != before.Checksum {
		writeError(w, http.StatusConflict, "conflict_error", "config checksum mismatch")
		return
	}

	if err := h.configManager.Reload(); err != nil {
		h.logger.Error("config reload failed", "error", err, "previous_checksum", before.Checksum)
		writeError(w, http.StatusInternalServerError, "server_error", "failed to reload config")
		return
	}

	after := h.configManager.Status()
	h.logger.Info("config reloaded via admin api",
		"request_id", observability.RequestIDFromContext(r.Context()),
		"previous_checksum", before.Checksum,
		"new_checksum", after.Checksum,
	)
	writeJSON(w, http.StatusOK, after)
}

func (h *AdminHandler) requireStore(w http.ResponseWriter) bool {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "server_error", "cache is disabled")
		return false
	}
	return true
}

func (h *AdminHandler) finishInvalidation(w http.ResponseWriter, r *http.Request, action, target string, n int, err error) {
	if err != nil {
		if errors.Is(err, tiered.ErrInvalidArgument) {
			writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
			return
		}
		h.logger.Error("cache invalidation failed", "action", action, "target", target, "error", err)
		writeError(w, http.StatusServiceUnavailable, "cache_error", "cache invalidation failed")
		return
	}
	h.audit(r, action, target, n)
	writeJSON(w, http.StatusOK, invalidateResponse{Invalidated: n})
}

func (h *AdminHandler) audit(r *http.Request, action, target string, n int) {
	h.logger.Info("cache admin action",
		"action", action,
		"target", target,
		"count", n,
		"request_id", observability.RequestIDFromContext(r.Context()),
		"remote_addr", r.RemoteAddr,
	)
}
