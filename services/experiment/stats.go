package experiment

import (
	"fmt"
	"math"
)

// PairwiseAnalysis compares the control variant against one other variant.
// The comparison blocks are nil until both arms reach the configured
// minimum sample size.
type PairwiseAnalysis struct {
	SufficientData bool   `json:"sufficient_data"`
	Message        string `json:"message,omitempty"`

	ErrorRates *ErrorRateComparison `json:"error_rate_comparison,omitempty"`
	Latency    *LatencyComparison   `json:"latency_comparison,omitempty"`
	Cost       *CostComparison      `json:"cost_comparison,omitempty"`
}

// ErrorRateComparison is a two-proportion z-test on error rates
type ErrorRateComparison struct {
	ControlErrorRate float64 `json:"control_error_rate"`
	VariantErrorRate float64 `json:"variant_error_rate"`
	ZScore           float64 `json:"z_score"`
	PValue           float64 `json:"p_value"`

	// Significant reports statistical significance at the configured level
	Significant bool `json:"significant"`
}

// LatencyComparison reports practical latency significance: the absolute
// difference exceeds the configured threshold.
type LatencyComparison struct {
	ControlLatencyMs float64 `json:"control_latency_ms"`
	VariantLatencyMs float64 `json:"variant_latency_ms"`

	// DifferenceMs is variant minus control; positive means the variant
	// is slower.
	DifferenceMs           float64 `json:"difference_ms"`
	PracticallySignificant bool    `json:"practically_significant"`
}

// CostComparison reports average cost per request for each arm
type CostComparison struct {
	ControlCostPerRequest float64 `json:"control_cost_per_request"`
	VariantCostPerRequest float64 `json:"variant_cost_per_request"`
}

// analyze compares the control arm (the first declared variant) against
// every other variant. Variants are never compared with each other.
func (s *Service) analyze(rows []VariantMetrics) map[string]*PairwiseAnalysis {
	if len(rows) < 2 {
		return nil
	}
	control := rows[0]

	analysis := make(map[string]*PairwiseAnalysis, len(rows)-1)
	for _, variant := range rows[1:] {
		key := fmt.Sprintf("%s_vs_%s", control.VariantID, variant.VariantID)
		analysis[key] = s.compare(control, variant)
	}
	return analysis
}

// compare runs a two-proportion z-test on error rates plus practical
// latency and cost comparisons between the control and one variant.
func (s *Service) compare(control, variant VariantMetrics) *PairwiseAnalysis {
	if control.TotalRequests < s.config.MinSampleSize || variant.TotalRequests < s.config.MinSampleSize {
		return &PairwiseAnalysis{
			Message: fmt.Sprintf("need at least %d samples per variant", s.config.MinSampleSize),
		}
	}

	result := &PairwiseAnalysis{
		SufficientData: true,
		ErrorRates: &ErrorRateComparison{
			ControlErrorRate: control.ErrorRate,
			VariantErrorRate: variant.ErrorRate,
		},
		Latency: &LatencyComparison{
			ControlLatencyMs: control.AvgLatencyMs,
			VariantLatencyMs: variant.AvgLatencyMs,
			DifferenceMs:     variant.AvgLatencyMs - control.AvgLatencyMs,
		},
		Cost: &CostComparison{
			ControlCostPerRequest: control.CostPerRequest(),
			VariantCostPerRequest: variant.CostPerRequest(),
		},
	}
	result.Latency.PracticallySignificant = math.Abs(result.Latency.DifferenceMs) > s.config.LatencyThresholdMs

	// pooled two-proportion z-test on error counts
	n1 := float64(control.TotalRequests)
	n2 := float64(variant.TotalRequests)
	p1 := control.ErrorRate
	p2 := variant.ErrorRate
	pooled := (p1*n1 + p2*n2) / (n1 + n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))
	if se > 0 {
		result.ErrorRates.ZScore = (p1 - p2) / se
		result.ErrorRates.PValue = 2 * (1 - normCDF(math.Abs(result.ErrorRates.ZScore)))
		result.ErrorRates.Significant = result.ErrorRates.PValue < s.config.SignificanceLevel
	} else {
		// identical proportions, often both zero
		result.ErrorRates.PValue = 1
	}

	return result
}

// normCDF is the standard normal cumulative distribution function
func normCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}
