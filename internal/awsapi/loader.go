package awsapi

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// maxRetryAttempts is sized for throttling-prone control-plane APIs; a run
// touching many clusters can burst well past the default budget.
const maxRetryAttempts = 10

// LoadConfig resolves an aws.Config from the default credential chain (env
// vars, shared config, IMDS) with standard-mode retries. region overrides
// the chain's region when non-empty.
func LoadConfig(ctx context.Context, region string) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryMode(aws.RetryModeStandard),
		awsconfig.WithRetryMaxAttempts(maxRetryAttempts),
	}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	if cfg.Region == "" {
		// All SDK clients need a region to be constructable.
		cfg.Region = "us-east-1"
	}
	return cfg, nil
}
