package config

import (
	"fmt"
	"os"
	"time"

	"github.com/vrischmann/envconfig"
	"gopkg.in/yaml.v3"
)

// envOverrides holds the environment-variable overlay applied on top of the
// file. Every field is optional; only set variables take effect.
// Variable names carry the EKROLLOUT_ prefix via envconfig.InitWithPrefix.
type envOverrides struct {
	Region                 string        `envconfig:"optional"`
	AMIParameter           string        `envconfig:"optional"`
	StateTable             string        `envconfig:"optional"`
	ConcurrencyLimit       int           `envconfig:"optional"`
	RolloutTimeout         time.Duration `envconfig:"optional"`
	PollInterval           time.Duration `envconfig:"optional"`
	StaleInProgressTimeout time.Duration `envconfig:"optional"`
	ImagePipelineARN       string        `envconfig:"optional"`
	SNSTopicARN            string        `envconfig:"optional"`
	LogLevel               string        `envconfig:"optional"`
}

// FileLoader reads Config from a YAML file and applies EKROLLOUT_*
// environment overrides. Precedence: env > file > defaults.
type FileLoader struct {
	path string
}

// NewFileLoader returns a Loader for the given config file path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

// ConfigPath implements Loader.
func (l *FileLoader) ConfigPath() string { return l.path }

// Load implements Loader. A missing file is not an error when every required
// value arrives through the environment.
func (l *FileLoader) Load() (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(l.path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %q: %w", l.path, err)
		}
	case os.IsNotExist(err):
		// Fall through to env-only configuration.
	default:
		return nil, fmt.Errorf("read config file %q: %w", l.path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment overrides: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays set EKROLLOUT_* variables onto cfg.
func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.InitWithPrefix(&env, "EKROLLOUT"); err != nil {
		return err
	}

	if env.Region != "" {
		cfg.Region = env.Region
	}
	if env.AMIParameter != "" {
		cfg.AMIParameter = env.AMIParameter
	}
	if env.StateTable != "" {
		cfg.StateTable = env.StateTable
	}
	if env.ConcurrencyLimit > 0 {
		cfg.ConcurrencyLimit = env.ConcurrencyLimit
	}
	if env.RolloutTimeout > 0 {
		cfg.RolloutTimeout = Duration(env.RolloutTimeout)
	}
	if env.PollInterval > 0 {
		cfg.PollInterval = Duration(env.PollInterval)
	}
	if env.StaleInProgressTimeout > 0 {
		cfg.StaleInProgressTimeout = Duration(env.StaleInProgressTimeout)
	}
	if env.ImagePipelineARN != "" {
		cfg.ImagePipelineARN = env.ImagePipelineARN
	}
	if env.SNSTopicARN != "" {
		cfg.SNSTopicARN = env.SNSTopicARN
	}
	if env.LogLevel != "" {
		cfg.LogLevel = env.LogLevel
	}
	return nil
}
