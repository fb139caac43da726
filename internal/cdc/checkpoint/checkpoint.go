// Package checkpoint persists partition read checkpoints so interrupted
// partitions can resume from their last engine offset.
package checkpoint

import (
	"context"

	"github.com/janovincze/iris/internal/cdc"
)

// Manager handles checkpoint persistence and retrieval. Checkpoints are
// keyed by source and partition; each save replaces the previous state.
type Manager interface {
	// Save persists the checkpoint for a partition.
	Save(ctx context.Context, source, partition string, cp cdc.PartitionReadCheckpoint) error

	// Load retrieves the latest checkpoint for a partition. A missing
	// checkpoint returns (nil, nil).
	Load(ctx context.Context, source, partition string) (*cdc.PartitionReadCheckpoint, error)

	// Close releases any resources held by the manager.
	Close() error
}
