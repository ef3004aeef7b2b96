package state

import (
	"context"
	"fmt"

	"github.com/aws-samples/eks-node-rollout/internal/models"
)

// The last-known AMI per watched parameter lives in the same table as the
// node-group records, under a reserved cluster name. Keeping it persisted and
// compare-and-swapped (rather than in process memory) lets concurrent or
// distributed invocations observe a consistent view of the pointer.
const sourceCluster = "ami-source"

// GetSourcePointer returns the last AMI id recorded for the watched
// parameter, with the revision needed to advance it. An empty id means the
// parameter has never been observed.
func GetSourcePointer(ctx context.Context, r Recorder, parameter string) (ami string, revision int64, err error) {
	rec, err := r.Get(ctx, models.NodeGroupKey(sourceCluster, parameter))
	if err != nil {
		return "", 0, fmt.Errorf("read source pointer for %q: %w", parameter, err)
	}
	if rec == nil {
		return "", 0, nil
	}
	return rec.LastAppliedAMI, rec.Revision, nil
}

// AdvanceSourcePointer CAS-writes a newly observed AMI id for the watched
// parameter. revision must be the value returned by GetSourcePointer; a
// concurrent advance surfaces as models.ErrConcurrentModification.
func AdvanceSourcePointer(ctx context.Context, r Recorder, parameter string, ref models.AMIReference, revision int64) error {
	rec := models.RolloutRecord{
		ClusterName:    sourceCluster,
		NodegroupName:  parameter,
		Status:         models.RolloutSucceeded,
		LastAppliedAMI: ref.ID,
		AttemptedAMI:   ref.ID,
		LastAttempt:    ref.ObservedAt,
	}
	if _, err := r.Put(ctx, rec, revision); err != nil {
		return fmt.Errorf("advance source pointer for %q: %w", parameter, err)
	}
	return nil
}

// IsSourceRecord reports whether rec is a watched-parameter pointer rather
// than a node-group rollout record.
func IsSourceRecord(rec models.RolloutRecord) bool {
	return rec.ClusterName == sourceCluster
}
