package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws-samples/eks-node-rollout/internal/models"
)

// SweepStale resets InProgress records whose last attempt is older than
// olderThan to Failed, making them eligible for retry. Such records are left
// behind by crashed workers; without the sweep they would deadlock their node
// group forever. Returns the keys that were reset.
//
// A record that changes under the sweep's CAS is skipped: its worker is
// evidently alive, or another run already reset it.
func SweepStale(ctx context.Context, r Recorder, olderThan time.Duration, now time.Time) ([]string, error) {
	records, err := r.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("sweep stale records: %w", err)
	}

	cutoff := now.Add(-olderThan)
	var reset []string
	for _, rec := range records {
		if IsSourceRecord(rec) || rec.Status != models.RolloutInProgress {
			continue
		}
		if !rec.LastAttempt.Before(cutoff) {
			continue
		}

		revision := rec.Revision
		rec.Status = models.RolloutFailed
		rec.ErrorKind = models.ErrorKindStale
		rec.ErrorDetail = fmt.Sprintf("in-progress since %s, reset after %s",
			rec.LastAttempt.UTC().Format(time.RFC3339), olderThan)

		if _, err := r.Put(ctx, rec, revision); err != nil {
			if errors.Is(err, models.ErrConcurrentModification) {
				continue
			}
			return reset, fmt.Errorf("reset stale record %q: %w", rec.Key(), err)
		}
		reset = append(reset, rec.Key())
	}
	return reset, nil
}
