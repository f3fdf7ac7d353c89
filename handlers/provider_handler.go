package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/llm-gateway/services/providers"
	"github.com/upb/llm-gateway/utils"
)

// ProviderHandler exposes the provider registry
type ProviderHandler struct {
	registry *providers.Registry
	logger   *zap.Logger
}

// NewProviderHandler creates a new ProviderHandler
func NewProviderHandler(registry *providers.Registry, logger *zap.Logger) *ProviderHandler {
	return &ProviderHandler{
		registry: registry,
		logger:   logger,
	}
}

// HandleList handles GET /providers
func (h *ProviderHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, map[string]interface{}{
		"default":   h.registry.DefaultName(),
		"providers": h.registry.List(),
	})
}
