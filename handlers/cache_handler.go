package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/llm-gateway/services/cache"
	"github.com/upb/llm-gateway/utils"
)

// CacheHandler exposes response cache statistics and maintenance
type CacheHandler struct {
	cache  *cache.MemoryCache
	logger *zap.Logger
}

// NewCacheHandler creates a new CacheHandler
func NewCacheHandler(c *cache.MemoryCache, logger *zap.Logger) *CacheHandler {
	return &CacheHandler{
		cache:  c,
		logger: logger,
	}
}

// HandleStats handles GET /cache/stats
func (h *CacheHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		_ = utils.WriteOK(w, map[string]interface{}{"enabled": false})
		return
	}
	_ = utils.WriteOK(w, h.cache.Stats())
}

// HandleClear handles POST /cache/clear
func (h *CacheHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		_ = utils.WriteOK(w, map[string]interface{}{"enabled": false})
		return
	}
	h.cache.Clear()
	h.logger.Info("response cache cleared")
	_ = utils.WriteOK(w, map[string]string{"status": "cleared"})
}
