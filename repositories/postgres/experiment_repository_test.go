package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/llm-gateway/services/experiment"
)

func newMockRepo(t *testing.T) (*ExperimentRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	wrapped := &DB{DB: db, logger: zap.NewNop()}
	return &ExperimentRepository{db: wrapped, logger: zap.NewNop()}, mock
}

func sampleSnapshot() *experiment.Snapshot {
	satisfaction := 0.8
	return &experiment.Snapshot{
		Experiment: experiment.Experiment{
			ID:        "exp-1",
			Name:      "model comparison",
			StartDate: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
			IsActive:  true,
			Variants: []experiment.Variant{
				{ID: "control", Provider: "openai", Model: "gpt-4"},
				{ID: "treatment", Provider: "anthropic", Model: "claude-3-sonnet"},
			},
			TrafficSplit: map[string]float64{"control": 0.5, "treatment": 0.5},
		},
		Metrics: []experiment.VariantMetrics{
			{VariantID: "control", TotalRequests: 10, TotalTokens: 500, TotalCost: 0.02, AvgLatencyMs: 320, UserSatisfaction: &satisfaction},
			{VariantID: "treatment", TotalRequests: 12, TotalTokens: 640, TotalCost: 0.015, AvgLatencyMs: 280},
		},
	}
}

func TestSaveSnapshot(t *testing.T) {
	repo, mock := newMockRepo(t)
	snap := sampleSnapshot()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO experiments").
		WithArgs(
			snap.Experiment.ID,
			snap.Experiment.Name,
			snap.Experiment.Description,
			sqlmock.AnyArg(),
			sqlmock.AnyArg(),
			snap.Experiment.StartDate,
			snap.Experiment.EndDate,
			snap.Experiment.IsActive,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM experiment_metrics").
		WithArgs("exp-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO experiment_metrics").
		WithArgs("exp-1", "control", int64(10), int64(500), 0.02, 320.0, 0.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO experiment_metrics").
		WithArgs("exp-1", "treatment", int64(12), int64(640), 0.015, 280.0, 0.0, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Save(context.Background(), snap)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRollsBackOnMetricsFailure(t *testing.T) {
	repo, mock := newMockRepo(t)
	snap := sampleSnapshot()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO experiments").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM experiment_metrics").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO experiment_metrics").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := repo.Save(context.Background(), snap)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadSnapshot(t *testing.T) {
	repo, mock := newMockRepo(t)
	snap := sampleSnapshot()

	variants, err := json.Marshal(snap.Experiment.Variants)
	require.NoError(t, err)
	split, err := json.Marshal(snap.Experiment.TrafficSplit)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM experiments").
		WithArgs("exp-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "description", "variants", "traffic_split", "start_date", "end_date", "is_active",
		}).AddRow("exp-1", "model comparison", "", variants, split, snap.Experiment.StartDate, nil, true))

	mock.ExpectQuery("SELECT (.+) FROM experiment_metrics").
		WithArgs("exp-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"variant_id", "total_requests", "total_tokens", "total_cost", "avg_latency_ms", "error_rate", "user_satisfaction",
		}).
			AddRow("control", 10, 500, 0.02, 320.0, 0.0, 0.8).
			AddRow("treatment", 12, 640, 0.015, 280.0, 0.0, nil))

	loaded, err := repo.Load(context.Background(), "exp-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, "exp-1", loaded.Experiment.ID)
	assert.Len(t, loaded.Experiment.Variants, 2)
	assert.InDelta(t, 0.5, loaded.Experiment.TrafficSplit["control"], 1e-9)

	require.Len(t, loaded.Metrics, 2)
	assert.Equal(t, int64(10), loaded.Metrics[0].TotalRequests)
	require.NotNil(t, loaded.Metrics[0].UserSatisfaction)
	assert.InDelta(t, 0.8, *loaded.Metrics[0].UserSatisfaction, 1e-9)
	assert.Nil(t, loaded.Metrics[1].UserSatisfaction)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadUnknownReturnsNil(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM experiments").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "description", "variants", "traffic_split", "start_date", "end_date", "is_active",
		}))

	loaded, err := repo.Load(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestDeleteSnapshot(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("DELETE FROM experiments").
		WithArgs("exp-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), "exp-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUnknownFails(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("DELETE FROM experiments").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.Error(t, repo.Delete(context.Background(), "missing"))
}
