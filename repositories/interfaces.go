package repositories

import (
	"context"

	"github.com/upb/llm-gateway/services/experiment"
)

// ExperimentStore persists experiment snapshots. The in-memory engine stays
// the source of truth; the store is write-behind persistence so experiments
// survive restarts.
type ExperimentStore interface {
	// Save upserts an experiment snapshot, replacing its metrics rows
	Save(ctx context.Context, snap *experiment.Snapshot) error

	// Load retrieves one experiment snapshot by id
	Load(ctx context.Context, experimentID string) (*experiment.Snapshot, error)

	// LoadAll retrieves every stored snapshot
	LoadAll(ctx context.Context) ([]*experiment.Snapshot, error)

	// Delete removes an experiment and its metrics
	Delete(ctx context.Context, experimentID string) error
}
