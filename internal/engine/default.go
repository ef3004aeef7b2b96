package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aws-samples/eks-node-rollout/internal/models"
	"github.com/aws-samples/eks-node-rollout/internal/selector"
	"github.com/aws-samples/eks-node-rollout/internal/state"
	"github.com/aws-samples/eks-node-rollout/internal/watcher"
)

// rolloutApplier abstracts the per-node-group rollout. Stored as an
// interface so tests can inject stubs in place of the real controller.
type rolloutApplier interface {
	Apply(ctx context.Context, target models.TargetNodeGroup, ami models.AMIReference) models.TargetOutcome
}

// DefaultEngine is the production Engine. It owns no AWS clients itself; it
// delegates to the watcher, selector, recorder, and rollout controller.
type DefaultEngine struct {
	watcher  watcher.Watcher
	selector selector.Selector
	recorder state.Recorder
	applier  rolloutApplier
	opts     Options
	log      zerolog.Logger
	now      func() time.Time
}

// NewDefaultEngine wires a DefaultEngine to its collaborators.
func NewDefaultEngine(
	w watcher.Watcher,
	s selector.Selector,
	r state.Recorder,
	applier rolloutApplier,
	opts Options,
	log zerolog.Logger,
) *DefaultEngine {
	return &DefaultEngine{
		watcher:  w,
		selector: s,
		recorder: r,
		applier:  applier,
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
}

// RunOnce implements Engine.
func (e *DefaultEngine) RunOnce(ctx context.Context) (*models.RunReport, error) {
	report := e.newReport()

	ami, ok, err := e.resolveAMI(ctx, report)
	if err != nil {
		return nil, err
	}
	if !ok {
		report.FinishedAt = e.now().UTC()
		return report, nil
	}
	return e.run(ctx, ami, report)
}

// RunWithAMI executes a rollout run against an AMI announced out of band
// (an Image Builder build notification) instead of polling the source. The
// persisted pointer is advanced so subsequent scheduled runs agree.
func (e *DefaultEngine) RunWithAMI(ctx context.Context, ref models.AMIReference) (*models.RunReport, error) {
	report := e.newReport()

	known, revision, err := state.GetSourcePointer(ctx, e.recorder, e.opts.AMIParameter)
	if err != nil {
		return nil, err
	}
	if known != ref.ID {
		report.UpdateDetected = true
		if err := state.AdvanceSourcePointer(ctx, e.recorder, e.opts.AMIParameter, ref, revision); err != nil {
			// The event is authoritative for this run; a concurrent
			// advance only matters for the next scheduled run.
			if !errors.Is(err, models.ErrConcurrentModification) {
				return nil, err
			}
			e.log.Warn().Str("ami", ref.ID).Msg("source pointer advanced concurrently, proceeding with event AMI")
		}
	}
	report.AMI = ref.ID
	return e.run(ctx, ref, report)
}

func (e *DefaultEngine) newReport() *models.RunReport {
	startedAt := e.now().UTC()
	return &models.RunReport{
		RunID:     fmt.Sprintf("run-%d", startedAt.UnixNano()),
		StartedAt: startedAt,
	}
}

// run executes the post-watch phases: stale sweep, target resolution, and
// the bounded rollout fan-out.
func (e *DefaultEngine) run(ctx context.Context, ami models.AMIReference, report *models.RunReport) (*models.RunReport, error) {
	// Reclaim records abandoned by crashed workers before claiming any
	// target, so a wedged node group becomes retryable this run.
	resets, err := state.SweepStale(ctx, e.recorder, e.opts.StaleInProgressTimeout, e.now().UTC())
	if err != nil {
		e.log.Warn().Err(err).Msg("stale record sweep failed")
	}
	for _, key := range resets {
		e.log.Warn().Str("node_group", key).Msg("stale in-progress record reset to failed")
	}
	report.StaleResets = resets

	res, err := e.selector.ResolveTargets(ctx, e.opts.ClusterTags)
	if err != nil {
		return nil, fmt.Errorf("resolve rollout targets: %w", err)
	}
	if res.ClustersSeen > 0 && res.ClustersFailed == res.ClustersSeen {
		return nil, fmt.Errorf("resolve rollout targets: all %d visible clusters failed lookup", res.ClustersSeen)
	}
	report.ClusterErrors = res.ClusterErrors
	report.Outcomes = append(report.Outcomes, res.Skipped...)

	e.applyAll(ctx, res.Targets, ami, report)

	sort.Slice(report.Outcomes, func(i, j int) bool {
		a, b := report.Outcomes[i], report.Outcomes[j]
		if a.ClusterName != b.ClusterName {
			return a.ClusterName < b.ClusterName
		}
		return a.NodegroupName < b.NodegroupName
	})
	report.FinishedAt = e.now().UTC()

	succeeded, failed, skipped := report.Counts()
	e.log.Info().
		Str("run_id", report.RunID).
		Str("ami", ami.ID).
		Int("succeeded", succeeded).
		Int("failed", failed).
		Int("skipped", skipped).
		Int("cluster_errors", len(report.ClusterErrors)).
		Msg("rollout run finished")
	return report, nil
}

// resolveAMI determines the image the run reconciles toward: the persisted
// last-known id, advanced when the watcher observes a newer one. Returns
// ok=false when no AMI is known yet and the source cannot say either (the
// run has nothing to do).
func (e *DefaultEngine) resolveAMI(ctx context.Context, report *models.RunReport) (models.AMIReference, bool, error) {
	known, revision, err := state.GetSourcePointer(ctx, e.recorder, e.opts.AMIParameter)
	if err != nil {
		return models.AMIReference{}, false, err
	}

	ref, err := e.watcher.CheckForUpdate(ctx, known)
	if err != nil {
		// SourceUnavailable is non-fatal: log, fall back to the recorded
		// id so failed targets still retry, and let the next scheduled
		// run re-check the source.
		e.log.Warn().Err(err).Msg("AMI source unavailable, treating as no update")
		if known == "" {
			return models.AMIReference{}, false, nil
		}
		report.AMI = known
		return models.AMIReference{ID: known}, true, nil
	}

	if ref == nil {
		if known == "" {
			return models.AMIReference{}, false, nil
		}
		report.AMI = known
		return models.AMIReference{ID: known}, true, nil
	}

	report.UpdateDetected = true
	report.AMI = ref.ID
	e.log.Info().Str("ami", ref.ID).Str("previous", known).Msg("new hardened AMI detected")

	if err := state.AdvanceSourcePointer(ctx, e.recorder, e.opts.AMIParameter, *ref, revision); err != nil {
		if errors.Is(err, models.ErrConcurrentModification) {
			// Another run advanced the pointer first; adopt its view.
			current, _, rerr := state.GetSourcePointer(ctx, e.recorder, e.opts.AMIParameter)
			if rerr != nil {
				return models.AMIReference{}, false, rerr
			}
			e.log.Info().Str("ami", current).Msg("source pointer advanced concurrently, adopting recorded AMI")
			report.AMI = current
			return models.AMIReference{ID: current}, current != "", nil
		}
		return models.AMIReference{}, false, err
	}
	return *ref, true, nil
}

// applyAll fans the rollout out across targets with bounded concurrency.
// Cancellation stops launching new targets; already-launched rollouts run to
// completion under their own poll deadline.
func (e *DefaultEngine) applyAll(ctx context.Context, targets []models.TargetNodeGroup, ami models.AMIReference, report *models.RunReport) {
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(e.opts.ConcurrencyLimit)

	for _, target := range targets {
		g.Go(func() error {
			var outcome models.TargetOutcome
			if ctx.Err() != nil {
				outcome = models.TargetOutcome{
					ClusterName:   target.ClusterName,
					NodegroupName: target.NodegroupName,
					AMI:           ami.ID,
					Kind:          models.OutcomeSkipped,
					Detail:        "run cancelled before rollout started",
				}
			} else {
				outcome = e.applier.Apply(ctx, target, ami)
			}

			mu.Lock()
			report.Outcomes = append(report.Outcomes, outcome)
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors; Wait only synchronises completion.
	_ = g.Wait()
}
