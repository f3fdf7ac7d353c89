package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/upb/llm-gateway/repositories"
	"github.com/upb/llm-gateway/services/experiment"
)

// ExperimentRepository implements repositories.ExperimentStore
type ExperimentRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewExperimentRepository creates a new experiment repository
func NewExperimentRepository(db *DB, logger *zap.Logger) repositories.ExperimentStore {
	return &ExperimentRepository{
		db:     db,
		logger: logger,
	}
}

// Save upserts the experiment row and replaces its metrics rows
func (r *ExperimentRepository) Save(ctx context.Context, snap *experiment.Snapshot) error {
	variants, err := json.Marshal(snap.Experiment.Variants)
	if err != nil {
		return fmt.Errorf("failed to marshal variants: %w", err)
	}
	split, err := json.Marshal(snap.Experiment.TrafficSplit)
	if err != nil {
		return fmt.Errorf("failed to marshal traffic split: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	upsert := `
		INSERT INTO experiments (id, name, description, variants, traffic_split, start_date, end_date, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			variants = EXCLUDED.variants,
			traffic_split = EXCLUDED.traffic_split,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			is_active = EXCLUDED.is_active
	`
	_, err = tx.ExecContext(ctx, upsert,
		snap.Experiment.ID,
		snap.Experiment.Name,
		snap.Experiment.Description,
		variants,
		split,
		snap.Experiment.StartDate,
		snap.Experiment.EndDate,
		snap.Experiment.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to save experiment: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM experiment_metrics WHERE experiment_id = $1`, snap.Experiment.ID); err != nil {
		return fmt.Errorf("failed to clear metrics: %w", err)
	}

	insert := `
		INSERT INTO experiment_metrics (experiment_id, variant_id, total_requests, total_tokens, total_cost, avg_latency_ms, error_rate, user_satisfaction)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, m := range snap.Metrics {
		_, err := tx.ExecContext(ctx, insert,
			snap.Experiment.ID,
			m.VariantID,
			m.TotalRequests,
			m.TotalTokens,
			m.TotalCost,
			m.AvgLatencyMs,
			m.ErrorRate,
			m.UserSatisfaction,
		)
		if err != nil {
			return fmt.Errorf("failed to save metrics for variant %s: %w", m.VariantID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	r.logger.Debug("experiment snapshot saved", zap.String("id", snap.Experiment.ID))
	return nil
}

// Load retrieves one experiment snapshot by id
func (r *ExperimentRepository) Load(ctx context.Context, experimentID string) (*experiment.Snapshot, error) {
	query := `
		SELECT id, name, description, variants, traffic_split, start_date, end_date, is_active
		FROM experiments
		WHERE id = $1
	`
	snap, err := r.scanExperiment(r.db.QueryRowContext(ctx, query, experimentID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load experiment: %w", err)
	}

	if err := r.loadMetrics(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// LoadAll retrieves every stored snapshot
func (r *ExperimentRepository) LoadAll(ctx context.Context) ([]*experiment.Snapshot, error) {
	query := `
		SELECT id, name, description, variants, traffic_split, start_date, end_date, is_active
		FROM experiments
		ORDER BY start_date
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load experiments: %w", err)
	}
	defer rows.Close()

	var snaps []*experiment.Snapshot
	for rows.Next() {
		snap, err := r.scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate experiments: %w", err)
	}

	for _, snap := range snaps {
		if err := r.loadMetrics(ctx, snap); err != nil {
			return nil, err
		}
	}
	return snaps, nil
}

// Delete removes an experiment; metrics rows cascade
func (r *ExperimentRepository) Delete(ctx context.Context, experimentID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM experiments WHERE id = $1`, experimentID)
	if err != nil {
		return fmt.Errorf("failed to delete experiment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("experiment not found: %s", experimentID)
	}

	r.logger.Debug("experiment deleted", zap.String("id", experimentID))
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *ExperimentRepository) scanExperiment(row rowScanner) (*experiment.Snapshot, error) {
	var (
		snap     experiment.Snapshot
		variants []byte
		split    []byte
	)

	err := row.Scan(
		&snap.Experiment.ID,
		&snap.Experiment.Name,
		&snap.Experiment.Description,
		&variants,
		&split,
		&snap.Experiment.StartDate,
		&snap.Experiment.EndDate,
		&snap.Experiment.IsActive,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(variants, &snap.Experiment.Variants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal variants: %w", err)
	}
	if err := json.Unmarshal(split, &snap.Experiment.TrafficSplit); err != nil {
		return nil, fmt.Errorf("failed to unmarshal traffic split: %w", err)
	}
	return &snap, nil
}

func (r *ExperimentRepository) loadMetrics(ctx context.Context, snap *experiment.Snapshot) error {
	query := `
		SELECT variant_id, total_requests, total_tokens, total_cost, avg_latency_ms, error_rate, user_satisfaction
		FROM experiment_metrics
		WHERE experiment_id = $1
		ORDER BY variant_id
	`
	rows, err := r.db.QueryContext(ctx, query, snap.Experiment.ID)
	if err != nil {
		return fmt.Errorf("failed to load metrics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m experiment.VariantMetrics
		err := rows.Scan(
			&m.VariantID,
			&m.TotalRequests,
			&m.TotalTokens,
			&m.TotalCost,
			&m.AvgLatencyMs,
			&m.ErrorRate,
			&m.UserSatisfaction,
		)
		if err != nil {
			return fmt.Errorf("failed to scan metrics: %w", err)
		}
		snap.Metrics = append(snap.Metrics, m)
	}
	return rows.Err()
}
