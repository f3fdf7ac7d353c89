package experiment

import (
	"sync"
	"time"
)

// Variant is one configuration arm of an experiment
type Variant struct {
	ID           string   `json:"variant_id"`
	Name         string   `json:"name"`
	Provider     string   `json:"provider"`
	Model        string   `json:"model"`
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    *int     `json:"max_tokens,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
}

// Experiment is an A/B experiment configuration. Lifecycle is implicit:
// active until Stop flips IsActive or the end date passes; there is no
// reactivation transition.
type Experiment struct {
	ID           string             `json:"experiment_id"`
	Name         string             `json:"name"`
	Description  string             `json:"description"`
	Variants     []Variant          `json:"variants"`
	TrafficSplit map[string]float64 `json:"traffic_split"`
	StartDate    time.Time          `json:"start_date"`
	EndDate      *time.Time         `json:"end_date,omitempty"`
	IsActive     bool               `json:"is_active"`
}

// VariantMetrics is the running aggregate for one (experiment, variant)
// pair. All fields update through online formulas; no per-request history is
// kept.
type VariantMetrics struct {
	VariantID        string   `json:"variant_id"`
	TotalRequests    int64    `json:"total_requests"`
	TotalTokens      int64    `json:"total_tokens"`
	TotalCost        float64  `json:"total_cost"`
	AvgLatencyMs     float64  `json:"avg_latency_ms"`
	ErrorRate        float64  `json:"error_rate"`
	UserSatisfaction *float64 `json:"user_satisfaction,omitempty"`
}

// metricsRow pairs the aggregate with its own lock so concurrent traffic to
// different variants never serializes.
type metricsRow struct {
	mu   sync.Mutex
	data VariantMetrics
}

// snapshot returns a copy safe to read without the row lock
func (r *metricsRow) snapshot() VariantMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := r.data
	if r.data.UserSatisfaction != nil {
		v := *r.data.UserSatisfaction
		copied.UserSatisfaction = &v
	}
	return copied
}

// CostPerRequest returns average cost per request, zero before any traffic
func (m *VariantMetrics) CostPerRequest() float64 {
	if m.TotalRequests == 0 {
		return 0
	}
	return m.TotalCost / float64(m.TotalRequests)
}

// VariantResult is the externally visible per-variant snapshot
type VariantResult struct {
	VariantMetrics
	CostPerRequestUSD float64 `json:"cost_per_request"`
}

// Results is the full result set for one experiment
type Results struct {
	ExperimentID string                      `json:"experiment_id"`
	Name         string                      `json:"name"`
	IsActive     bool                        `json:"is_active"`
	Variants     map[string]VariantResult    `json:"variants"`
	Analysis     map[string]*PairwiseAnalysis `json:"statistical_analysis"`
}

// Summary is the list-view of an experiment
type Summary struct {
	ExperimentID  string     `json:"experiment_id"`
	Name          string     `json:"name"`
	IsActive      bool       `json:"is_active"`
	NumVariants   int        `json:"num_variants"`
	TotalRequests int64      `json:"total_requests"`
	StartDate     time.Time  `json:"start_date"`
	EndDate       *time.Time `json:"end_date,omitempty"`
}

// Snapshot is the minimal serializable unit for durable storage
type Snapshot struct {
	Experiment Experiment       `json:"experiment"`
	Metrics    []VariantMetrics `json:"metrics"`
}
