// Package watcher detects drift between the hardened-AMI parameter published
// by the image pipeline and the last AMI id this controller has recorded.
package watcher

import (
	"context"
	"fmt"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/aws-samples/eks-node-rollout/internal/awsapi"
	"github.com/aws-samples/eks-node-rollout/internal/models"
)

// readAttempts bounds transient-failure retries of the parameter read within
// a single check. A check that still fails is reported as SourceUnavailable
// and repeated on the next scheduled run.
const readAttempts = 3

// Watcher checks the AMI source for an update. Implementations are read-only
// and safe to call concurrently.
type Watcher interface {
	// CheckForUpdate returns a new AMIReference when the source holds an
	// id different from currentKnownAMI, nil when unchanged, and an error
	// wrapping models.ErrSourceUnavailable when the source cannot be read.
	CheckForUpdate(ctx context.Context, currentKnownAMI string) (*models.AMIReference, error)
}

// ParameterWatcher implements Watcher on a Systems Manager parameter.
type ParameterWatcher struct {
	ssm       awsapi.SSMClient
	parameter string
	now       func() time.Time
}

// NewParameterWatcher returns a Watcher reading the named SSM parameter.
func NewParameterWatcher(client awsapi.SSMClient, parameter string) *ParameterWatcher {
	return &ParameterWatcher{
		ssm:       client,
		parameter: parameter,
		now:       time.Now,
	}
}

// ParameterName returns the watched parameter name.
func (w *ParameterWatcher) ParameterName() string { return w.parameter }

// CheckForUpdate implements Watcher.
func (w *ParameterWatcher) CheckForUpdate(ctx context.Context, currentKnownAMI string) (*models.AMIReference, error) {
	var out *ssm.GetParameterOutput
	err := retry.Do(
		func() error {
			var err error
			out, err = w.ssm.GetParameter(ctx, &ssm.GetParameterInput{
				Name: aws.String(w.parameter),
			})
			return err
		},
		retry.Context(ctx),
		retry.Attempts(readAttempts),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("read AMI parameter %q: %w: %w", w.parameter, models.ErrSourceUnavailable, err)
	}

	if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return nil, fmt.Errorf("AMI parameter %q holds no value: %w", w.parameter, models.ErrSourceUnavailable)
	}

	id := aws.ToString(out.Parameter.Value)
	if id == currentKnownAMI {
		return nil, nil
	}
	return &models.AMIReference{ID: id, ObservedAt: w.now().UTC()}, nil
}
