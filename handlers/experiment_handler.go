package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/llm-gateway/repositories"
	"github.com/upb/llm-gateway/services/experiment"
	"github.com/upb/llm-gateway/utils"
)

// CreateExperimentRequest is the experiment registration payload
type CreateExperimentRequest struct {
	ID           string             `json:"experiment_id,omitempty"`
	Name         string             `json:"name" validate:"required"`
	Description  string             `json:"description,omitempty"`
	Variants     []VariantRequest   `json:"variants" validate:"required,min=2,dive"`
	TrafficSplit map[string]float64 `json:"traffic_split" validate:"required"`
	EndDate      *time.Time         `json:"end_date,omitempty"`
}

// VariantRequest is one variant in a registration payload
type VariantRequest struct {
	ID           string   `json:"variant_id" validate:"required"`
	Name         string   `json:"name,omitempty"`
	Provider     string   `json:"provider" validate:"required,oneof=openai anthropic azure"`
	Model        string   `json:"model" validate:"required"`
	Temperature  *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens    *int     `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
}

// SatisfactionRequest reports a user satisfaction score for a variant
type SatisfactionRequest struct {
	VariantID string  `json:"variant_id" validate:"required"`
	Score     float64 `json:"score" validate:"gte=0,lte=1"`
}

// ExperimentHandler handles experiment management requests
type ExperimentHandler struct {
	experiments *experiment.Service
	store       repositories.ExperimentStore // nil when persistence is disabled
	logger      *zap.Logger
}

// NewExperimentHandler creates a new ExperimentHandler
func NewExperimentHandler(experiments *experiment.Service, store repositories.ExperimentStore, logger *zap.Logger) *ExperimentHandler {
	return &ExperimentHandler{
		experiments: experiments,
		store:       store,
		logger:      logger,
	}
}

// HandleCreate handles POST /experiments
func (h *ExperimentHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateExperimentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "invalid JSON body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	variants := make([]experiment.Variant, len(req.Variants))
	for i, v := range req.Variants {
		variants[i] = experiment.Variant{
			ID:           v.ID,
			Name:         v.Name,
			Provider:     v.Provider,
			Model:        v.Model,
			Temperature:  v.Temperature,
			MaxTokens:    v.MaxTokens,
			SystemPrompt: v.SystemPrompt,
		}
	}

	exp := experiment.Experiment{
		ID:           req.ID,
		Name:         req.Name,
		Description:  req.Description,
		Variants:     variants,
		TrafficSplit: req.TrafficSplit,
		StartDate:    time.Now(),
		EndDate:      req.EndDate,
		IsActive:     true,
	}

	if err := h.experiments.Register(exp); err != nil {
		if errors.Is(err, experiment.ErrAlreadyRegistered) {
			_ = utils.WriteConflict(w, err.Error(), nil)
			return
		}
		var cfgErr *experiment.ConfigError
		if errors.As(err, &cfgErr) {
			_ = utils.WriteBadRequest(w, cfgErr.Reason, nil)
			return
		}
		HandleServiceError(w, err, h.logger)
		return
	}

	h.persist(r, req.ID)
	_ = utils.WriteCreated(w, exp)
}

// HandleList handles GET /experiments
func (h *ExperimentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, h.experiments.List())
}

// HandleGet handles GET /experiments/{id}
func (h *ExperimentHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	results := h.experiments.Results(id)
	if results == nil {
		_ = utils.WriteNotFound(w, "experiment not found")
		return
	}
	_ = utils.WriteOK(w, results)
}

// HandleWinner handles GET /experiments/{id}/winner
func (h *ExperimentHandler) HandleWinner(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	winner := h.experiments.Winner(id)
	if winner == "" {
		_ = utils.WriteNotFound(w, "experiment not found")
		return
	}
	_ = utils.WriteOK(w, map[string]string{
		"experiment_id": id,
		"winner":        winner,
	})
}

// HandleStop handles POST /experiments/{id}/stop
func (h *ExperimentHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.experiments.Get(id) == nil {
		_ = utils.WriteNotFound(w, "experiment not found")
		return
	}

	h.experiments.Stop(id)
	h.persist(r, id)
	_ = utils.WriteOK(w, map[string]string{
		"experiment_id": id,
		"status":        "stopped",
	})
}

// HandleSatisfaction handles POST /experiments/{id}/satisfaction
func (h *ExperimentHandler) HandleSatisfaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.experiments.Get(id) == nil {
		_ = utils.WriteNotFound(w, "experiment not found")
		return
	}

	var req SatisfactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "invalid JSON body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.experiments.RecordSatisfaction(id, req.VariantID, req.Score)
	h.persist(r, id)
	_ = utils.WriteOK(w, map[string]string{"status": "recorded"})
}

// persist writes the current snapshot behind the live engine. Failures are
// logged, never surfaced: the in-memory engine remains authoritative.
func (h *ExperimentHandler) persist(r *http.Request, experimentID string) {
	if h.store == nil {
		return
	}
	snap := h.experiments.SnapshotFor(experimentID)
	if snap == nil {
		return
	}
	if err := h.store.Save(r.Context(), snap); err != nil {
		h.logger.Error("failed to persist experiment snapshot",
			zap.String("experiment_id", experimentID),
			zap.Error(err))
	}
}
