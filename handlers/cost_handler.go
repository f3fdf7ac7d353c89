package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/llm-gateway/services/cost"
	"github.com/upb/llm-gateway/services/providers"
	"github.com/upb/llm-gateway/utils"
)

// CostAnalyzeRequest is the payload for a context cost analysis
type CostAnalyzeRequest struct {
	Messages []providers.Message `json:"messages" validate:"required,min=1,dive"`
	Model    string              `json:"model,omitempty"`
}

// CostAnalysisResponse pairs the context analysis with a price estimate
type CostAnalysisResponse struct {
	Analysis           *cost.ContextAnalysis `json:"analysis"`
	EstimatedInputCost float64               `json:"estimated_input_cost_usd"`
}

// CostHandler exposes context and cost analysis
type CostHandler struct {
	analyzer *cost.Analyzer
	model    *cost.Model
	logger   *zap.Logger
}

// NewCostHandler creates a new CostHandler
func NewCostHandler(analyzer *cost.Analyzer, model *cost.Model, logger *zap.Logger) *CostHandler {
	return &CostHandler{
		analyzer: analyzer,
		model:    model,
		logger:   logger,
	}
}

// HandleAnalyze handles POST /cost/analyze
func (h *CostHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req CostAnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "invalid JSON body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	analysis := h.analyzer.AnalyzeContext(req.Messages, h.model.TokenCount)
	_ = utils.WriteOK(w, CostAnalysisResponse{
		Analysis:           analysis,
		EstimatedInputCost: h.model.Cost(req.Model, analysis.TotalTokens, 0),
	})
}
