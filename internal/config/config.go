// Package config loads the engine configuration from YAML into one
// explicit struct that is constructed at process start and passed by
// reference into each component. There is no settings singleton.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"cohort/internal/admission"
)

// DefaultStorePath is the default relative path for the SQLite DB.
// Open() creates the parent dir (.cohort).
const DefaultStorePath = ".cohort/cohort.db"

// Config is the full engine configuration.
type Config struct {
	StorePath string    `yaml:"store_path"`
	Log       LogConfig `yaml:"log"`

	// Weights aggregate the four rubric scores; they must sum to 1.0
	// within admission.WeightTolerance or loading fails.
	Weights admission.Weights `yaml:"weights"`

	// MaxAttempts bounds the evaluator/validator rounds per application.
	MaxAttempts int `yaml:"max_attempts" validate:"min=1,max=10"`

	// Parallel bounds the pipeline worker pool during processing.
	Parallel int `yaml:"parallel" validate:"min=1"`

	// ShortlistMultiplier sizes the shortlist as a multiple of seats,
	// to allow for interview attrition.
	ShortlistMultiplier int `yaml:"shortlist_multiplier" validate:"min=1"`

	Retry RetryConfig `yaml:"retry"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// RetryConfig bounds collaborator-level retries. This budget is
// separate from MaxAttempts: it covers transport failures, not
// validator rejections.
type RetryConfig struct {
	MaxRetries  int `yaml:"max_retries" validate:"min=0,max=10"`
	BaseDelayMS int `yaml:"base_delay_ms" validate:"min=1"`
	MaxDelayMS  int `yaml:"max_delay_ms" validate:"min=1"`
}

// BaseDelay returns the initial backoff delay.
func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMS) * time.Millisecond
}

// MaxDelay returns the backoff ceiling.
func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMS) * time.Millisecond
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		StorePath: DefaultStorePath,
		Log:       LogConfig{Level: "info", Format: "text"},
		Weights: admission.Weights{
			Academic:    0.40,
			Test:        0.30,
			Achievement: 0.15,
			Essay:       0.15,
		},
		MaxAttempts:         3,
		Parallel:            4,
		ShortlistMultiplier: 2,
		Retry:               RetryConfig{MaxRetries: 3, BaseDelayMS: 200, MaxDelayMS: 5000},
	}
}

// Load reads YAML from path over the defaults and validates. An empty
// path returns validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the structural constraints and the weight sum.
func (c *Config) Validate() error {
	v := validator.New()
	v.RegisterStructValidation(weightsSum, admission.Weights{})
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// weightsSum enforces the sum-to-one constraint at load time; a bad
// sum is a configuration error, never a silent renormalization.
func weightsSum(sl validator.StructLevel) {
	w := sl.Current().Interface().(admission.Weights)
	if err := w.Check(); err != nil {
		sl.ReportError(w, "Weights", "weights", "weightsum", "")
	}
}
