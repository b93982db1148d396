package handlers

import (
	"net/http"

	"github.com/routegate/routegate/internal/cache"
	"github.com/routegate/routegate/internal/common"
)

// CacheStatsHandler reports cache manager state for diagnostics.
type CacheStatsHandler struct {
	cache  *cache.Manager
	logger *common.Logger
}

// NewCacheStatsHandler creates a new cache stats handler.
func NewCacheStatsHandler(cache *cache.Manager, logger *common.Logger) *CacheStatsHandler {
	return &CacheStatsHandler{cache: cache, logger: logger}
}

// ServeHTTP handles GET /api/cache/stats.
func (h *CacheStatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, h.cache.GetCacheStats())
}
