package experiment

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidConfig is the sentinel for rejected experiment registrations
var ErrInvalidConfig = errors.New("invalid experiment configuration")

// ErrAlreadyRegistered is returned when an experiment id is already taken
var ErrAlreadyRegistered = errors.New("experiment id already registered")

// ConfigError reports why a registration was rejected
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid experiment configuration: " + e.Reason
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// Config holds engine tuning. The thresholds default to the values the
// analysis was originally calibrated with; deployments may override them.
type Config struct {
	// Salt feeds the assignment hash; processes sharing a salt produce
	// identical assignments.
	Salt string

	// MinSampleSize is the per-arm floor below which significance testing
	// reports insufficient data.
	MinSampleSize int64

	// SignificanceLevel is the two-sided p-value cutoff for the error-rate
	// z-test.
	SignificanceLevel float64

	// LatencyThresholdMs is the absolute latency difference considered
	// practically significant.
	LatencyThresholdMs float64
}

// DefaultConfig returns the engine defaults
func DefaultConfig(salt string) Config {
	return Config{
		Salt:               salt,
		MinSampleSize:      30,
		SignificanceLevel:  0.05,
		LatencyThresholdMs: 50,
	}
}

// Service owns all experiment and metrics state for its process lifetime.
// Registration and stop take the coarse lock; metric recording only touches
// the per-row locks, so hot-path updates to different variants run in
// parallel.
type Service struct {
	mu          sync.RWMutex
	config      Config
	experiments map[string]*Experiment
	metrics     map[string]map[string]*metricsRow
	logger      *zap.Logger
	now         func() time.Time
}

// NewService creates an experiment engine
func NewService(config Config, logger *zap.Logger) *Service {
	if config.MinSampleSize == 0 {
		config.MinSampleSize = 30
	}
	if config.SignificanceLevel == 0 {
		config.SignificanceLevel = 0.05
	}
	if config.LatencyThresholdMs == 0 {
		config.LatencyThresholdMs = 50
	}
	return &Service{
		config:      config,
		experiments: make(map[string]*Experiment),
		metrics:     make(map[string]map[string]*metricsRow),
		logger:      logger,
		now:         time.Now,
	}
}

// Register validates and installs an experiment. Either validation failure
// rejects the registration with no partial state change. On success a zeroed
// metrics row is created per variant.
func (s *Service) Register(exp Experiment) error {
	total := 0.0
	for _, fraction := range exp.TrafficSplit {
		total += fraction
	}
	if total < 0.99 || total > 1.01 {
		s.logger.Error("rejected experiment: traffic split does not sum to 1.0",
			zap.String("experiment_id", exp.ID),
			zap.Float64("total", total))
		return &ConfigError{Reason: fmt.Sprintf("traffic split sums to %.4f, want 1.0", total)}
	}

	variantIDs := make(map[string]struct{}, len(exp.Variants))
	for _, v := range exp.Variants {
		variantIDs[v.ID] = struct{}{}
	}
	if len(variantIDs) != len(exp.TrafficSplit) {
		return &ConfigError{Reason: "variant ids do not match traffic split keys"}
	}
	for id := range exp.TrafficSplit {
		if _, ok := variantIDs[id]; !ok {
			return &ConfigError{Reason: "variant ids do not match traffic split keys"}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.experiments[exp.ID]; exists {
		return fmt.Errorf("%w: %q", ErrAlreadyRegistered, exp.ID)
	}

	stored := exp
	s.experiments[exp.ID] = &stored

	rows := make(map[string]*metricsRow, len(exp.Variants))
	for _, v := range exp.Variants {
		rows[v.ID] = &metricsRow{data: VariantMetrics{VariantID: v.ID}}
	}
	s.metrics[exp.ID] = rows

	s.logger.Info("registered experiment",
		zap.String("experiment_id", exp.ID),
		zap.Int("variants", len(exp.Variants)))
	return nil
}

// AssignVariant deterministically assigns a user to a variant. Returns nil
// when the experiment is unknown, inactive, or past its end date. Repeated
// calls for the same (experiment, user) always return the same variant, and
// so do other processes sharing the same salt.
func (s *Service) AssignVariant(experimentID, userID string) *Variant {
	s.mu.RLock()
	exp, ok := s.experiments[experimentID]
	if ok {
		// work on a local copy so the read lock can be released early
		cp := *exp
		exp = &cp
	}
	s.mu.RUnlock()

	if !ok {
		s.logger.Warn("experiment not found", zap.String("experiment_id", experimentID))
		return nil
	}
	if !exp.IsActive {
		return nil
	}
	if exp.EndDate != nil && s.now().After(*exp.EndDate) {
		return nil
	}

	value := s.hashToUnit(experimentID, userID)

	cumulative := 0.0
	for i := range exp.Variants {
		cumulative += exp.TrafficSplit[exp.Variants[i].ID]
		if value < cumulative {
			v := exp.Variants[i]
			return &v
		}
	}

	// rounding can leave value unassigned when the split sums to just
	// under 1.0; the first declared variant absorbs it
	v := exp.Variants[0]
	return &v
}

// hashToUnit maps (experiment, user, salt) to [0,1) with 1/10000 resolution
func (s *Service) hashToUnit(experimentID, userID string) float64 {
	sum := sha256.Sum256([]byte(experimentID + ":" + userID + ":" + s.config.Salt))
	hexDigest := hex.EncodeToString(sum[:])
	n, _ := strconv.ParseUint(hexDigest[:16], 16, 64)
	return float64(n%10000) / 10000.0
}

// RecordOutcome folds one request outcome into the variant's running
// aggregates. Unknown experiment or variant ids are a no-op, never an error:
// in-flight requests may legitimately report against an experiment that was
// stopped under them.
func (s *Service) RecordOutcome(experimentID, variantID string, tokens int, costUSD, latencyMs float64, isError bool) {
	row := s.row(experimentID, variantID)
	if row == nil {
		s.logger.Warn("no metrics row for outcome",
			zap.String("experiment_id", experimentID),
			zap.String("variant_id", variantID))
		return
	}

	row.mu.Lock()
	defer row.mu.Unlock()

	n := float64(row.data.TotalRequests)
	row.data.AvgLatencyMs = (row.data.AvgLatencyMs*n + latencyMs) / (n + 1)
	errs := row.data.ErrorRate * n
	if isError {
		errs++
	}
	row.data.ErrorRate = errs / (n + 1)

	row.data.TotalRequests++
	row.data.TotalTokens += int64(tokens)
	row.data.TotalCost += costUSD
}

// RecordSatisfaction folds one satisfaction score into the running average.
// The denominator is the current request count, which assumes exactly one
// satisfaction sample per recorded request; recording twice for the same
// request skews the average. This matches the system's historical behavior
// and is kept deliberately.
func (s *Service) RecordSatisfaction(experimentID, variantID string, score float64) {
	row := s.row(experimentID, variantID)
	if row == nil {
		return
	}

	row.mu.Lock()
	defer row.mu.Unlock()

	if row.data.UserSatisfaction == nil {
		row.data.UserSatisfaction = &score
		return
	}
	n := float64(row.data.TotalRequests)
	if n < 1 {
		n = 1
	}
	updated := (*row.data.UserSatisfaction*(n-1) + score) / n
	row.data.UserSatisfaction = &updated
}

// row returns the metrics row or nil when unknown
func (s *Service) row(experimentID, variantID string) *metricsRow {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, ok := s.metrics[experimentID]
	if !ok {
		return nil
	}
	return rows[variantID]
}

// Results returns per-variant snapshots plus the significance analysis.
// Returns nil when the experiment is unknown.
func (s *Service) Results(experimentID string) *Results {
	s.mu.RLock()
	exp, ok := s.experiments[experimentID]
	if !ok {
		s.mu.RUnlock()
		return nil
	}
	name := exp.Name
	active := exp.IsActive
	order := make([]string, len(exp.Variants))
	for i, v := range exp.Variants {
		order[i] = v.ID
	}
	rows := s.metrics[experimentID]
	s.mu.RUnlock()

	results := &Results{
		ExperimentID: experimentID,
		Name:         name,
		IsActive:     active,
		Variants:     make(map[string]VariantResult, len(order)),
	}

	snapshots := make([]VariantMetrics, 0, len(order))
	for _, id := range order {
		snap := rows[id].snapshot()
		snapshots = append(snapshots, snap)
		results.Variants[id] = VariantResult{
			VariantMetrics:    snap,
			CostPerRequestUSD: snap.CostPerRequest(),
		}
	}

	results.Analysis = s.analyze(snapshots)
	return results
}

// Winner scores each variant and returns the best one, or "" when the
// experiment is unknown. Score favors low error rate, low latency, and high
// satisfaction (0.5 assumed when no satisfaction was recorded); first-seen
// order breaks exact ties.
func (s *Service) Winner(experimentID string) string {
	results := s.Results(experimentID)
	if results == nil {
		return ""
	}

	s.mu.RLock()
	exp := s.experiments[experimentID]
	order := make([]string, len(exp.Variants))
	for i, v := range exp.Variants {
		order[i] = v.ID
	}
	s.mu.RUnlock()

	best := ""
	bestScore := math.Inf(-1)
	for _, id := range order {
		m := results.Variants[id]
		satisfaction := 0.5
		if m.UserSatisfaction != nil {
			satisfaction = *m.UserSatisfaction
		}
		score := 0.4*(1-m.ErrorRate) +
			0.3*(1-math.Min(m.AvgLatencyMs/5000, 1)) +
			0.3*satisfaction
		if score > bestScore {
			bestScore = score
			best = id
		}
	}
	return best
}

// Stop deactivates an experiment. Idempotent; no-op on unknown ids.
func (s *Service) Stop(experimentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.experiments[experimentID]
	if !ok {
		return
	}
	exp.IsActive = false
	s.logger.Info("stopped experiment", zap.String("experiment_id", experimentID))
}

// Get returns a copy of the experiment, or nil when unknown
func (s *Service) Get(experimentID string) *Experiment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exp, ok := s.experiments[experimentID]
	if !ok {
		return nil
	}
	cp := *exp
	return &cp
}

// List returns summaries of every registered experiment
func (s *Service) List() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]Summary, 0, len(s.experiments))
	for id, exp := range s.experiments {
		var total int64
		for _, row := range s.metrics[id] {
			total += row.snapshot().TotalRequests
		}
		summaries = append(summaries, Summary{
			ExperimentID:  id,
			Name:          exp.Name,
			IsActive:      exp.IsActive,
			NumVariants:   len(exp.Variants),
			TotalRequests: total,
			StartDate:     exp.StartDate,
			EndDate:       exp.EndDate,
		})
	}
	return summaries
}

// SnapshotFor returns the serializable state of one experiment for durable
// storage, or nil when unknown.
func (s *Service) SnapshotFor(experimentID string) *Snapshot {
	s.mu.RLock()
	exp, ok := s.experiments[experimentID]
	if !ok {
		s.mu.RUnlock()
		return nil
	}
	cp := *exp
	order := make([]string, len(exp.Variants))
	for i, v := range exp.Variants {
		order[i] = v.ID
	}
	rows := s.metrics[experimentID]
	s.mu.RUnlock()

	snap := &Snapshot{Experiment: cp}
	for _, id := range order {
		snap.Metrics = append(snap.Metrics, rows[id].snapshot())
	}
	return snap
}

// Restore installs a previously snapshotted experiment, replacing any
// in-memory state under the same id. Intended for process start.
func (s *Service) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := snap.Experiment
	s.experiments[stored.ID] = &stored

	rows := make(map[string]*metricsRow, len(snap.Metrics))
	for _, m := range snap.Metrics {
		data := m
		if m.UserSatisfaction != nil {
			v := *m.UserSatisfaction
			data.UserSatisfaction = &v
		}
		rows[m.VariantID] = &metricsRow{data: data}
	}
	s.metrics[stored.ID] = rows
}
