package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes body to a fresh temp file and returns its path.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
ami_parameter: /images/hardened/amazon-linux-2023/latest
state_table: rollout-state
`

func TestLoadMinimalAppliesDefaults(t *testing.T) {
	cfg, err := NewFileLoader(writeConfig(t, minimalConfig)).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.AMIParameter != "/images/hardened/amazon-linux-2023/latest" {
		t.Errorf("AMIParameter = %q", cfg.AMIParameter)
	}
	if cfg.ConcurrencyLimit != DefaultConcurrencyLimit {
		t.Errorf("ConcurrencyLimit = %d; want %d", cfg.ConcurrencyLimit, DefaultConcurrencyLimit)
	}
	if time.Duration(cfg.RolloutTimeout) != DefaultRolloutTimeout {
		t.Errorf("RolloutTimeout = %s; want %s", time.Duration(cfg.RolloutTimeout), DefaultRolloutTimeout)
	}
	if time.Duration(cfg.PollInterval) != DefaultPollInterval {
		t.Errorf("PollInterval = %s; want %s", time.Duration(cfg.PollInterval), DefaultPollInterval)
	}
	if time.Duration(cfg.StaleInProgressTimeout) != DefaultStaleInProgressTimeout {
		t.Errorf("StaleInProgressTimeout = %s; want %s",
			time.Duration(cfg.StaleInProgressTimeout), DefaultStaleInProgressTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q; want info", cfg.LogLevel)
	}
	if !cfg.IsEnabled() {
		t.Error("IsEnabled() = false; want true when enabled is omitted")
	}
}

func TestLoadFullFile(t *testing.T) {
	cfg, err := NewFileLoader(writeConfig(t, `
region: eu-west-1
ami_parameter: /images/hardened/amazon-linux-2/latest
state_table: rollout-state
enabled: false
concurrency_limit: 2
rollout_timeout: 45m
poll_interval: 30s
stale_in_progress_timeout: 3h
cluster_tags:
  - key: Team
    value: Development
  - key: Env
    value: prod
image_pipeline_arn: arn:aws:imagebuilder:eu-west-1:111122223333:image-pipeline/hardened
sns_topic_arn: arn:aws:sns:eu-west-1:111122223333:ami-reminders
log_level: debug
`)).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Region != "eu-west-1" {
		t.Errorf("Region = %q", cfg.Region)
	}
	if cfg.IsEnabled() {
		t.Error("IsEnabled() = true; want false")
	}
	if cfg.ConcurrencyLimit != 2 {
		t.Errorf("ConcurrencyLimit = %d; want 2", cfg.ConcurrencyLimit)
	}
	if time.Duration(cfg.RolloutTimeout) != 45*time.Minute {
		t.Errorf("RolloutTimeout = %s; want 45m", time.Duration(cfg.RolloutTimeout))
	}
	if time.Duration(cfg.PollInterval) != 30*time.Second {
		t.Errorf("PollInterval = %s; want 30s", time.Duration(cfg.PollInterval))
	}
	if len(cfg.ClusterTags) != 2 {
		t.Fatalf("len(ClusterTags) = %d; want 2", len(cfg.ClusterTags))
	}
	if cfg.ClusterTags[0].Key != "Team" || cfg.ClusterTags[0].Value != "Development" {
		t.Errorf("ClusterTags[0] = %+v", cfg.ClusterTags[0])
	}
	if got := cfg.ClusterTags.String(); got != "Team=Development,Env=prod" {
		t.Errorf("ClusterTags.String() = %q", got)
	}
}

func TestLoadMissingFileEnvOnly(t *testing.T) {
	t.Setenv("EKROLLOUT_AMI_PARAMETER", "/images/hardened/amazon-linux-2023/latest")
	t.Setenv("EKROLLOUT_STATE_TABLE", "rollout-state")

	cfg, err := NewFileLoader(filepath.Join(t.TempDir(), "nope.yaml")).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StateTable != "rollout-state" {
		t.Errorf("StateTable = %q", cfg.StateTable)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("EKROLLOUT_STATE_TABLE", "rollout-state-staging")
	t.Setenv("EKROLLOUT_POLL_INTERVAL", "5s")
	t.Setenv("EKROLLOUT_LOG_LEVEL", "warn")

	cfg, err := NewFileLoader(writeConfig(t, minimalConfig)).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StateTable != "rollout-state-staging" {
		t.Errorf("StateTable = %q; want env value", cfg.StateTable)
	}
	if time.Duration(cfg.PollInterval) != 5*time.Second {
		t.Errorf("PollInterval = %s; want 5s", time.Duration(cfg.PollInterval))
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q; want warn", cfg.LogLevel)
	}
}

func TestLoadRejectsMissingParameter(t *testing.T) {
	_, err := NewFileLoader(writeConfig(t, "state_table: rollout-state\n")).Load()
	if err == nil || !strings.Contains(err.Error(), "ami_parameter") {
		t.Errorf("Load() error = %v; want ami_parameter validation failure", err)
	}
}

func TestLoadRejectsMissingStateTable(t *testing.T) {
	_, err := NewFileLoader(writeConfig(t, "ami_parameter: /images/x\n")).Load()
	if err == nil || !strings.Contains(err.Error(), "state_table") {
		t.Errorf("Load() error = %v; want state_table validation failure", err)
	}
}

func TestLoadRejectsPollLongerThanTimeout(t *testing.T) {
	_, err := NewFileLoader(writeConfig(t, minimalConfig+`
rollout_timeout: 10s
poll_interval: 10s
`)).Load()
	if err == nil || !strings.Contains(err.Error(), "poll_interval") {
		t.Errorf("Load() error = %v; want poll_interval validation failure", err)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	_, err := NewFileLoader(writeConfig(t, minimalConfig+"rollout_timeout: soon\n")).Load()
	if err == nil || !strings.Contains(err.Error(), "soon") {
		t.Errorf("Load() error = %v; want duration parse failure", err)
	}
}

func TestLoadRejectsGarbageYAML(t *testing.T) {
	_, err := NewFileLoader(writeConfig(t, "{{{not yaml")).Load()
	if err == nil {
		t.Error("Load() error = nil; want parse failure")
	}
}
