// Package rollout applies a hardened AMI to one managed node group at a
// time: a new launch template version referencing the image, an EKS
// node-group version update, and a bounded wait for the update to reach a
// terminal state. Failures are isolated per node group.
package rollout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/rs/zerolog"

	"github.com/aws-samples/eks-node-rollout/internal/awsapi"
	"github.com/aws-samples/eks-node-rollout/internal/models"
	"github.com/aws-samples/eks-node-rollout/internal/state"
)

// describeAttempts bounds transient-failure retries of a single status poll.
const describeAttempts = 3

// Options are the timing knobs for a Controller.
type Options struct {
	// RolloutTimeout bounds the wait for one node-group update to reach a
	// terminal state.
	RolloutTimeout time.Duration

	// PollInterval is the delay between update status polls.
	PollInterval time.Duration
}

// Controller rolls a hardened AMI out to individual node groups. It is safe
// for concurrent use across distinct targets; per-target mutual exclusion is
// enforced through the recorder's conditional writes.
type Controller struct {
	eks      awsapi.EKSClient
	ec2      awsapi.EC2LaunchTemplateClient
	recorder state.Recorder
	flavor   AMIFlavor
	opts     Options
	log      zerolog.Logger
	now      func() time.Time
}

// NewController wires a Controller to its service clients and state store.
func NewController(
	eksClient awsapi.EKSClient,
	ec2Client awsapi.EC2LaunchTemplateClient,
	recorder state.Recorder,
	flavor AMIFlavor,
	opts Options,
	log zerolog.Logger,
) *Controller {
	return &Controller{
		eks:      eksClient,
		ec2:      ec2Client,
		recorder: recorder,
		flavor:   flavor,
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
}

// Apply rolls ami out to target and returns the outcome. It never returns an
// error: every failure is captured in the outcome and the persisted record so
// one node group can never abort another's rollout.
func (c *Controller) Apply(ctx context.Context, target models.TargetNodeGroup, ami models.AMIReference) models.TargetOutcome {
	log := c.log.With().
		Str("cluster", target.ClusterName).
		Str("nodegroup", target.NodegroupName).
		Str("ami", ami.ID).
		Logger()

	rec, outcome := c.claim(ctx, target, ami)
	if outcome != nil {
		if outcome.Kind == models.OutcomeSkipped {
			log.Info().Str("reason", outcome.Detail).Msg("node group skipped")
		}
		return *outcome
	}

	log.Info().Msg("rollout started")
	result := c.rollOut(ctx, target, ami, &log)

	finished := *rec
	finished.Status = result.status
	finished.ErrorKind = result.errorKind
	finished.ErrorDetail = result.detail
	if result.status == models.RolloutSucceeded {
		finished.LastAppliedAMI = ami.ID
	}
	if _, err := c.recorder.Put(ctx, finished, rec.Revision); err != nil {
		// The record stays InProgress until the stale sweep reclaims it.
		log.Error().Err(err).Msg("failed to persist rollout result")
		return models.TargetOutcome{
			ClusterName:   target.ClusterName,
			NodegroupName: target.NodegroupName,
			AMI:           ami.ID,
			Kind:          models.OutcomeFailed,
			Detail:        fmt.Sprintf("persist rollout result: %v", err),
		}
	}

	out := models.TargetOutcome{
		ClusterName:   target.ClusterName,
		NodegroupName: target.NodegroupName,
		AMI:           ami.ID,
		ErrorKind:     result.errorKind,
		Detail:        result.detail,
	}
	if result.status == models.RolloutSucceeded {
		out.Kind = models.OutcomeSucceeded
		log.Info().Msg("rollout succeeded")
	} else {
		out.Kind = models.OutcomeFailed
		if result.errorKind == models.ErrorKindRejected {
			log.Error().Str("detail", result.detail).Msg("rollout rejected, operator attention required")
		} else {
			log.Warn().Str("detail", result.detail).Msg("rollout failed")
		}
	}
	return out
}

// claim transitions the target's record to InProgress via CAS. It returns
// the stored InProgress record, or a terminal outcome when the target must
// be skipped (already current, concurrently held, or rejected earlier
// against the same AMI) or the state store failed.
func (c *Controller) claim(ctx context.Context, target models.TargetNodeGroup, ami models.AMIReference) (*models.RolloutRecord, *models.TargetOutcome) {
	skip := func(detail string) *models.TargetOutcome {
		return &models.TargetOutcome{
			ClusterName:   target.ClusterName,
			NodegroupName: target.NodegroupName,
			AMI:           ami.ID,
			Kind:          models.OutcomeSkipped,
			Detail:        detail,
		}
	}
	fail := func(detail string) *models.TargetOutcome {
		return &models.TargetOutcome{
			ClusterName:   target.ClusterName,
			NodegroupName: target.NodegroupName,
			AMI:           ami.ID,
			Kind:          models.OutcomeFailed,
			Detail:        detail,
		}
	}

	rec, err := c.recorder.Get(ctx, target.Key())
	if err != nil {
		return nil, fail(fmt.Sprintf("read rollout record: %v", err))
	}

	var revision int64
	next := models.RolloutRecord{
		ClusterName:   target.ClusterName,
		NodegroupName: target.NodegroupName,
	}
	if rec != nil {
		if rec.LastAppliedAMI == ami.ID {
			return nil, skip(fmt.Sprintf("already running %s", ami.ID))
		}
		if rec.Status == models.RolloutInProgress {
			return nil, skip("rollout already in progress (concurrent run)")
		}
		if rec.Status == models.RolloutFailed &&
			rec.ErrorKind == models.ErrorKindRejected &&
			rec.AttemptedAMI == ami.ID {
			return nil, skip(fmt.Sprintf("previous attempt against %s was rejected: %s", ami.ID, rec.ErrorDetail))
		}
		revision = rec.Revision
		next.LastAppliedAMI = rec.LastAppliedAMI
	}

	next.Status = models.RolloutInProgress
	next.AttemptedAMI = ami.ID
	next.LastAttempt = c.now().UTC()

	stored, err := c.recorder.Put(ctx, next, revision)
	if err != nil {
		if errors.Is(err, models.ErrConcurrentModification) {
			return nil, skip("rollout already in progress (concurrent run)")
		}
		return nil, fail(fmt.Sprintf("claim rollout record: %v", err))
	}
	return stored, nil
}

// rolloutResult is the terminal classification of one rollout attempt.
type rolloutResult struct {
	status    models.RolloutStatus
	errorKind models.ErrorKind
	detail    string
}

// rollOut performs the external side of the rollout: launch template
// version, node-group update, terminal-state wait.
func (c *Controller) rollOut(ctx context.Context, target models.TargetNodeGroup, ami models.AMIReference, log *zerolog.Logger) rolloutResult {
	rejected := func(format string, args ...any) rolloutResult {
		return rolloutResult{
			status:    models.RolloutFailed,
			errorKind: models.ErrorKindRejected,
			detail:    fmt.Sprintf(format, args...),
		}
	}

	userData, err := RenderUserData(c.flavor, target)
	if err != nil {
		return rejected("render user data: %v", err)
	}

	ltOut, err := c.ec2.CreateLaunchTemplateVersion(ctx, &ec2.CreateLaunchTemplateVersionInput{
		LaunchTemplateId:   aws.String(target.LaunchTemplateID),
		SourceVersion:      aws.String(target.LaunchTemplateVersion),
		VersionDescription: aws.String(fmt.Sprintf("hardened AMI %s", ami.ID)),
		LaunchTemplateData: &ec2types.RequestLaunchTemplateData{
			ImageId:  aws.String(ami.ID),
			UserData: aws.String(userData),
		},
	})
	if err != nil {
		return rejected("create launch template version: %v", err)
	}
	if ltOut.LaunchTemplateVersion == nil || ltOut.LaunchTemplateVersion.VersionNumber == nil {
		return rejected("create launch template version: empty response")
	}
	ltVersion := strconv.FormatInt(*ltOut.LaunchTemplateVersion.VersionNumber, 10)
	log.Info().Str("launch_template", target.LaunchTemplateID).Str("version", ltVersion).Msg("launch template version created")

	updOut, err := c.eks.UpdateNodegroupVersion(ctx, &eks.UpdateNodegroupVersionInput{
		ClusterName:   aws.String(target.ClusterName),
		NodegroupName: aws.String(target.NodegroupName),
		LaunchTemplate: &ekstypes.LaunchTemplateSpecification{
			Id:      aws.String(target.LaunchTemplateID),
			Version: aws.String(ltVersion),
		},
	})
	if err != nil {
		return rejected("update node group version: %v", err)
	}
	if updOut.Update == nil || updOut.Update.Id == nil {
		return rejected("update node group version: no update id in response")
	}
	updateID := aws.ToString(updOut.Update.Id)
	log.Info().Str("update_id", updateID).Msg("node group update issued, waiting for terminal state")

	if err := c.waitForUpdate(ctx, target, updateID, log); err != nil {
		kind := models.ErrorKindRejected
		if errors.Is(err, models.ErrRolloutTimeout) {
			kind = models.ErrorKindTimeout
		}
		return rolloutResult{status: models.RolloutFailed, errorKind: kind, detail: err.Error()}
	}
	return rolloutResult{status: models.RolloutSucceeded}
}

// waitForUpdate polls the node-group update until it reaches a terminal
// state or RolloutTimeout elapses. The wait is detached from the caller's
// cancellation: an issued update is not revocable, so a cancelled run lets
// in-flight waits finish under their own deadline.
func (c *Controller) waitForUpdate(ctx context.Context, target models.TargetNodeGroup, updateID string, log *zerolog.Logger) error {
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.RolloutTimeout)
	defer cancel()

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		update, err := c.describeUpdate(waitCtx, target, updateID)
		if err != nil {
			// Transient polling failures ride out the timeout window.
			log.Debug().Err(err).Msg("update status poll failed")
		} else {
			switch update.Status {
			case ekstypes.UpdateStatusSuccessful:
				return nil
			case ekstypes.UpdateStatusFailed, ekstypes.UpdateStatusCancelled:
				return fmt.Errorf("node group update %s ended %s: %s: %w",
					updateID, strings.ToLower(string(update.Status)), updateErrors(update), models.ErrRolloutRejected)
			}
		}

		select {
		case <-waitCtx.Done():
			return fmt.Errorf("node group update %s not terminal after %s: %w",
				updateID, c.opts.RolloutTimeout, models.ErrRolloutTimeout)
		case <-ticker.C:
		}
	}
}

// describeUpdate fetches the update's current state with bounded retries.
func (c *Controller) describeUpdate(ctx context.Context, target models.TargetNodeGroup, updateID string) (*ekstypes.Update, error) {
	var update *ekstypes.Update
	err := retry.Do(
		func() error {
			out, err := c.eks.DescribeUpdate(ctx, &eks.DescribeUpdateInput{
				Name:          aws.String(target.ClusterName),
				NodegroupName: aws.String(target.NodegroupName),
				UpdateId:      aws.String(updateID),
			})
			if err != nil {
				return err
			}
			if out.Update == nil {
				return fmt.Errorf("describe update %s: empty response", updateID)
			}
			update = out.Update
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(describeAttempts),
		retry.LastErrorOnly(true),
	)
	return update, err
}

// updateErrors flattens the update's error details for the record.
func updateErrors(update *ekstypes.Update) string {
	if len(update.Errors) == 0 {
		return "no error detail reported"
	}
	parts := make([]string, 0, len(update.Errors))
	for _, e := range update.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", e.ErrorCode, aws.ToString(e.ErrorMessage)))
	}
	return strings.Join(parts, "; ")
}
