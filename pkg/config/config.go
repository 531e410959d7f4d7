// Package config provides configuration loading and management for slicecorrect.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"slicecorrect/pkg/artifact"
	"slicecorrect/pkg/evaluation"
)

// Artifact store drivers
const (
	DriverFS = "fs"
	DriverS3 = "s3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Evaluation protocol
	Evaluation struct {
		// Budgets are the fractions of slices an expert may correct
		Budgets []float64 `yaml:"budgets"`

		// Alpha weights uncertainty against impact in the IWUO score
		Alpha float64 `yaml:"alpha"`

		// Seed drives the Random baseline
		Seed uint64 `yaml:"seed"`

		// IncludeOracle adds the ground-truth upper bound to the comparison
		IncludeOracle bool `yaml:"includeOracle"`

		// Workers specifies how many patients are evaluated in parallel
		Workers int `yaml:"workers"`
	} `yaml:"evaluation"`

	// Artifact storage
	Artifacts struct {
		// Driver is either "fs" or "s3"
		Driver string `yaml:"driver"`

		// Root is the base directory of the filesystem driver
		Root string `yaml:"root"`

		S3 struct {
			Bucket    string `yaml:"bucket"`
			Region    string `yaml:"region"`
			Endpoint  string `yaml:"endpoint"`
			PathStyle bool   `yaml:"pathStyle"`
		} `yaml:"s3"`

		// Collections overrides the key prefix of individual collections
		Collections map[string]string `yaml:"collections,omitempty"`
	} `yaml:"artifacts"`

	// Run history
	Results struct {
		// Database is the SQLite file runs are recorded in. Empty disables the store.
		Database string `yaml:"database"`
	} `yaml:"results"`

	// Metrics export
	Metrics struct {
		// Textfile receives the Prometheus metrics after each run. Empty disables export.
		Textfile string `yaml:"textfile"`
	} `yaml:"metrics"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// ResultsFile is where the evaluation results JSON is written
		ResultsFile string `yaml:"resultsFile"`

		// RenderDir is the directory overlay images are written to
		RenderDir string `yaml:"renderDir"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	params := evaluation.DefaultParams()
	for _, b := range params.Budgets {
		cfg.Evaluation.Budgets = append(cfg.Evaluation.Budgets, float64(b))
	}
	cfg.Evaluation.Alpha = params.Alpha
	cfg.Evaluation.Seed = params.Seed
	cfg.Evaluation.IncludeOracle = params.IncludeOracle
	cfg.Evaluation.Workers = params.Workers

	cfg.Artifacts.Driver = DriverFS
	cfg.Artifacts.Root = "data"
	cfg.Artifacts.S3.Region = "us-east-1"

	cfg.Results.Database = "results/runs.db"

	cfg.Output.Verbose = false
	cfg.Output.ResultsFile = "results/evaluation_results.json"
	cfg.Output.RenderDir = "results/overlays"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

// Validate checks the configuration for values no command can run with
func (c *Config) Validate() error {
	if _, err := c.EvaluationParams(); err != nil {
		return err
	}
	switch c.Artifacts.Driver {
	case DriverFS:
		if c.Artifacts.Root == "" {
			return fmt.Errorf("artifacts.root is required for the fs driver")
		}
	case DriverS3:
		if c.Artifacts.S3.Bucket == "" {
			return fmt.Errorf("artifacts.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("unknown artifacts.driver %q", c.Artifacts.Driver)
	}
	for name := range c.Artifacts.Collections {
		if !knownCollection(name) {
			return fmt.Errorf("unknown artifact collection %q", name)
		}
	}
	return nil
}

// EvaluationParams converts the evaluation section into harness parameters
func (c *Config) EvaluationParams() (evaluation.Params, error) {
	p := evaluation.Params{
		Alpha:         c.Evaluation.Alpha,
		Seed:          c.Evaluation.Seed,
		IncludeOracle: c.Evaluation.IncludeOracle,
		Workers:       c.Evaluation.Workers,
	}
	for _, b := range c.Evaluation.Budgets {
		p.Budgets = append(p.Budgets, evaluation.Fraction(b))
	}
	if err := p.Validate(); err != nil {
		return evaluation.Params{}, fmt.Errorf("evaluation: %w", err)
	}
	return p, nil
}

// Layout returns the collection key prefixes with overrides applied
func (c *Config) Layout() artifact.Layout {
	layout := artifact.DefaultLayout()
	for name, prefix := range c.Artifacts.Collections {
		if prefix != "" {
			layout[artifact.Collection(name)] = prefix
		}
	}
	return layout
}

// OpenArtifactStore creates the configured artifact store driver
func (c *Config) OpenArtifactStore(ctx context.Context) (artifact.Store, error) {
	switch c.Artifacts.Driver {
	case DriverS3:
		return artifact.NewS3Store(ctx, artifact.S3Config{
			Region:    c.Artifacts.S3.Region,
			Bucket:    c.Artifacts.S3.Bucket,
			Endpoint:  c.Artifacts.S3.Endpoint,
			PathStyle: c.Artifacts.S3.PathStyle,
		})
	case DriverFS, "":
		return artifact.NewFSStore(c.Artifacts.Root)
	default:
		return nil, fmt.Errorf("unknown artifacts.driver %q", c.Artifacts.Driver)
	}
}

func knownCollection(name string) bool {
	for c := range artifact.DefaultLayout() {
		if string(c) == name {
			return true
		}
	}
	return false
}
