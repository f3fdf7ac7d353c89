package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/llm-gateway/services/prompt"
	"github.com/upb/llm-gateway/utils"
)

// PIIDetectRequest is the payload for a standalone PII scan
type PIIDetectRequest struct {
	Text string `json:"text" validate:"required"`
}

// PIIHandler exposes PII detection as a standalone endpoint
type PIIHandler struct {
	detector *prompt.Detector
	logger   *zap.Logger
}

// NewPIIHandler creates a new PIIHandler. The standalone scan endpoint
// stays available even when pipeline redaction is disabled.
func NewPIIHandler(detector *prompt.Detector, logger *zap.Logger) *PIIHandler {
	if detector == nil {
		detector = prompt.NewDetector("*")
	}
	return &PIIHandler{
		detector: detector,
		logger:   logger,
	}
}

// HandleDetect handles POST /pii/detect
func (h *PIIHandler) HandleDetect(w http.ResponseWriter, r *http.Request) {
	var req PIIDetectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "invalid JSON body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, h.detector.DetectAndRedact(req.Text))
}
