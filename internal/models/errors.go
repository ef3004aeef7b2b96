package models

import "errors"

// Sentinel errors for the rollout core. Callers classify failures with
// errors.Is; the concrete cause stays available through wrapping.
var (
	// ErrSourceUnavailable: the AMI parameter could not be read. Treated
	// as "no update" and retried on the next scheduled run.
	ErrSourceUnavailable = errors.New("ami source unavailable")

	// ErrRolloutTimeout: a node-group update did not reach a terminal
	// state within the rollout timeout.
	ErrRolloutTimeout = errors.New("rollout timed out")

	// ErrRolloutRejected: the API refused the update (permissions,
	// validation). Requires operator attention; not auto-retried.
	ErrRolloutRejected = errors.New("rollout rejected")

	// ErrConcurrentModification: another run holds the record. The
	// operation is skipped, not failed.
	ErrConcurrentModification = errors.New("concurrent modification")
)
