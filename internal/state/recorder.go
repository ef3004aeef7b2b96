// Package state persists per-node-group rollout records with optimistic
// concurrency. The conditional write on Revision is what guarantees at most
// one in-flight rollout attempt per node group across concurrent runs.
package state

import (
	"context"

	"github.com/aws-samples/eks-node-rollout/internal/models"
)

// Recorder is the rollout state store. The backing store must provide
// strongly consistent read-after-write for a single key; no cross-key
// transactions are required.
type Recorder interface {
	// Get returns the record stored under key, or nil when absent.
	Get(ctx context.Context, key string) (*models.RolloutRecord, error)

	// Put writes rec conditionally. expectedRevision 0 requires that no
	// record exists yet; a positive value requires the stored revision to
	// match. On success the stored record carries expectedRevision+1.
	// A failed condition returns models.ErrConcurrentModification.
	Put(ctx context.Context, rec models.RolloutRecord, expectedRevision int64) (*models.RolloutRecord, error)

	// List returns every stored record. Used by the stale-record sweep.
	List(ctx context.Context) ([]models.RolloutRecord, error)
}
