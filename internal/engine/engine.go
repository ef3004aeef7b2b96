// Package engine orchestrates one rollout run: watch the AMI source, sweep
// stale records, resolve targets, fan the rollout out across node groups, and
// assemble the run report.
package engine

import (
	"context"
	"time"

	"github.com/aws-samples/eks-node-rollout/internal/models"
)

// Options configures a run.
type Options struct {
	// AMIParameter is the watched SSM parameter name. Used as the key of
	// the persisted last-known-AMI pointer.
	AMIParameter string

	// ClusterTags drives target resolution.
	ClusterTags models.ClusterTagFilter

	// ConcurrencyLimit bounds parallel node-group rollouts.
	ConcurrencyLimit int

	// StaleInProgressTimeout is the age past which an InProgress record
	// is forcibly reset at the start of a run.
	StaleInProgressTimeout time.Duration
}

// Engine executes rollout runs.
//
// A run-level error is returned only when no clusters are resolvable at all;
// every per-node-group and per-cluster failure is contained in the report.
type Engine interface {
	RunOnce(ctx context.Context) (*models.RunReport, error)
}
