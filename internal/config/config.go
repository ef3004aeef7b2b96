package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aws-samples/eks-node-rollout/internal/models"
)

// Default knob values, applied when the config file omits them.
const (
	DefaultConcurrencyLimit       = 4
	DefaultRolloutTimeout         = 30 * time.Minute
	DefaultPollInterval           = 15 * time.Second
	DefaultStaleInProgressTimeout = 2 * time.Hour
)

// Duration wraps time.Duration so YAML values can be written as "30m" or
// "15s" instead of raw nanoseconds.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in time.Duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the top-level rollout controller configuration, loaded from a
// YAML file and overridable through EKROLLOUT_* environment variables.
type Config struct {
	// Region is the AWS region to operate in. Empty falls back to the
	// SDK's default resolution (env, profile, IMDS).
	Region string `yaml:"region"`

	// AMIParameter is the SSM parameter holding the current hardened AMI
	// id, published by the image pipeline. Its path also selects the
	// user-data flavour (amazon-linux-2 vs amazon-linux-2023).
	AMIParameter string `yaml:"ami_parameter"`

	// ClusterTags selects the clusters whose node groups are rolled out.
	// A cluster must carry every listed tag. Empty selects all clusters.
	ClusterTags models.ClusterTagFilter `yaml:"cluster_tags"`

	// StateTable is the DynamoDB table holding rollout records.
	StateTable string `yaml:"state_table"`

	// Enabled gates the scheduled run. When false, ekrollout run logs and
	// exits without acting. Defaults to true.
	Enabled *bool `yaml:"enabled"`

	ConcurrencyLimit       int      `yaml:"concurrency_limit"`
	RolloutTimeout         Duration `yaml:"rollout_timeout"`
	PollInterval           Duration `yaml:"poll_interval"`
	StaleInProgressTimeout Duration `yaml:"stale_in_progress_timeout"`

	// AnsiblePlaybookArguments is passed through unmodified to the
	// external hardening stage. The rollout core never interprets it.
	AnsiblePlaybookArguments string `yaml:"ansible_playbook_arguments"`

	// EnableImageScanning is a pass-through toggle for the image-build
	// stage. It has no effect on rollout behaviour.
	EnableImageScanning bool `yaml:"enable_image_scanning"`

	// ImagePipelineARN and SNSTopicARN configure the parent-image
	// freshness reminder (ekrollout remind).
	ImagePipelineARN string `yaml:"image_pipeline_arn"`
	SNSTopicARN      string `yaml:"sns_topic_arn"`

	// LogLevel is one of error, warn, info, debug. Defaults to info.
	LogLevel string `yaml:"log_level"`
}

// IsEnabled reports the effective value of the Enabled gate.
func (c *Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// applyDefaults fills zero-valued knobs with their defaults.
func (c *Config) applyDefaults() {
	if c.ConcurrencyLimit <= 0 {
		c.ConcurrencyLimit = DefaultConcurrencyLimit
	}
	if c.RolloutTimeout <= 0 {
		c.RolloutTimeout = Duration(DefaultRolloutTimeout)
	}
	if c.PollInterval <= 0 {
		c.PollInterval = Duration(DefaultPollInterval)
	}
	if c.StaleInProgressTimeout <= 0 {
		c.StaleInProgressTimeout = Duration(DefaultStaleInProgressTimeout)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// validate rejects configurations the controller cannot run with.
func (c *Config) validate() error {
	if c.AMIParameter == "" {
		return fmt.Errorf("config: ami_parameter is required")
	}
	if c.StateTable == "" {
		return fmt.Errorf("config: state_table is required")
	}
	if time.Duration(c.PollInterval) >= time.Duration(c.RolloutTimeout) {
		return fmt.Errorf("config: poll_interval %s must be shorter than rollout_timeout %s",
			time.Duration(c.PollInterval), time.Duration(c.RolloutTimeout))
	}
	return nil
}

// Loader is the interface for reading Config.
type Loader interface {
	// Load reads, parses, validates, and defaults the configuration.
	Load() (*Config, error)

	// ConfigPath returns the path of the configuration file.
	ConfigPath() string
}
