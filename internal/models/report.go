package models

import "time"

// OutcomeKind buckets a node group's result within one rollout run.
type OutcomeKind string

const (
	OutcomeSucceeded OutcomeKind = "SUCCEEDED"
	OutcomeFailed    OutcomeKind = "FAILED"
	OutcomeSkipped   OutcomeKind = "SKIPPED"
)

// TargetOutcome is the per-node-group result of a rollout run.
type TargetOutcome struct {
	ClusterName   string      `json:"cluster_name"`
	NodegroupName string      `json:"nodegroup_name"`
	AMI           string      `json:"ami,omitempty"`
	Kind          OutcomeKind `json:"kind"`
	ErrorKind     ErrorKind   `json:"error_kind,omitempty"`
	Detail        string      `json:"detail,omitempty"`
}

// ClusterError is a per-cluster resolution failure surfaced in the report.
type ClusterError struct {
	ClusterName string `json:"cluster_name"`
	Message     string `json:"message"`
}

// RunReport is the structured summary of one rollout run: counts of
// succeeded, failed, and skipped node groups plus the errors encountered.
// It is the run's only output surface besides logs.
type RunReport struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// AMI is the image id the run reconciled node groups toward.
	AMI string `json:"ami,omitempty"`

	// UpdateDetected is true when the watcher observed an AMI id that
	// differs from the recorded one at the start of the run.
	UpdateDetected bool `json:"update_detected"`

	Outcomes      []TargetOutcome `json:"outcomes"`
	ClusterErrors []ClusterError  `json:"cluster_errors,omitempty"`

	// StaleResets lists node-group keys whose InProgress records were
	// forcibly reset to Failed at the start of the run.
	StaleResets []string `json:"stale_resets,omitempty"`
}

// Counts returns the number of succeeded, failed, and skipped outcomes.
func (r *RunReport) Counts() (succeeded, failed, skipped int) {
	for _, o := range r.Outcomes {
		switch o.Kind {
		case OutcomeSucceeded:
			succeeded++
		case OutcomeFailed:
			failed++
		case OutcomeSkipped:
			skipped++
		}
	}
	return succeeded, failed, skipped
}
