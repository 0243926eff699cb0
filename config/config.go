package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrMountMissing is returned when the data share is not mounted at the
// configured location. Nothing else is allowed to run until it is.
var ErrMountMissing = errors.New("data share not mounted")

// Locations describes the fixed filesystem layout a trainer process works
// against: where datasets live, where the split CSVs are, and where run
// directories are created.
type Locations struct {
	DataDir        string `yaml:"data_dir"`         // mounted dataset share
	CSVDir         string `yaml:"csv_dir"`          // per-dataset split CSVs
	ModelDir       string `yaml:"model_dir"`        // root for run directories
	LogPath        string `yaml:"log_path"`         // rotating trainer log
	WordServiceURL string `yaml:"word_service_url"` // random-word endpoint for run names
}

// DefaultLocations returns the standard share layout.
func DefaultLocations() Locations {
	return Locations{
		DataDir:        "/mnt/in",
		CSVDir:         "/workspace/wsl/csvs",
		ModelDir:       "/mnt/out/models",
		LogPath:        "/mnt/out/logs/trainer.log",
		WordServiceURL: "https://random-word-api.herokuapp.com/word",
	}
}

// LoadLocations reads a YAML locations file, filling unset fields with the
// defaults. An empty path returns the defaults unchanged.
func LoadLocations(path string) (Locations, error) {
	loc := DefaultLocations()
	if path == "" {
		return loc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return loc, fmt.Errorf("read locations file: %w", err)
	}

	var override Locations
	if err := yaml.Unmarshal(data, &override); err != nil {
		return loc, fmt.Errorf("parse locations file %s: %w", path, err)
	}

	if override.DataDir != "" {
		loc.DataDir = override.DataDir
	}
	if override.CSVDir != "" {
		loc.CSVDir = override.CSVDir
	}
	if override.ModelDir != "" {
		loc.ModelDir = override.ModelDir
	}
	if override.LogPath != "" {
		loc.LogPath = override.LogPath
	}
	if override.WordServiceURL != "" {
		loc.WordServiceURL = override.WordServiceURL
	}
	return loc, nil
}

// Validate checks the mount precondition. It must pass before any dataset or
// model work starts.
func (l Locations) Validate() error {
	info, err := os.Stat(l.DataDir)
	if err != nil {
		return fmt.Errorf("%w: expected at %s", ErrMountMissing, l.DataDir)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrMountMissing, l.DataDir)
	}
	return nil
}

// DatasetCSV returns the split CSV path for a dataset.
func (l Locations) DatasetCSV(data, split string) string {
	return filepath.Join(l.CSVDir, data, split+".csv")
}

// WildcatConfig holds the multi-instance pooling head parameters. Present
// only when the wildcat head is enabled.
type WildcatConfig struct {
	Maps  int     `json:"maps"`  // map channels per class
	Alpha float64 `json:"alpha"` // weight of the min-pooled term
	K     int     `json:"k"`     // regions pooled from each end
}

// RegressionConfig holds the regression-mode parameters. Present only when
// regression is enabled.
type RegressionConfig struct {
	ErrorRange int `json:"error_range"` // tolerance for the accuracy metric
}

// RunConfig is the immutable hyperparameter record for one training run.
// Conditional blocks are nil when their feature is off, so disabled
// parameters are never recorded as if they were meaningful.
type RunConfig struct {
	Debug      bool              `json:"debug"`
	Data       string            `json:"data"`
	Col        string            `json:"column"`
	Extension  string            `json:"extension"`
	Classes    int               `json:"classes"`
	Network    string            `json:"network"`
	Depth      int               `json:"depth"`
	Wildcat    *WildcatConfig    `json:"wildcat,omitempty"`
	Pretrained bool              `json:"pretrained"`
	Optim      string            `json:"optim"`
	LR         float64           `json:"learning_rate"`
	BatchSize  int               `json:"batchsize"`
	Workers    int               `json:"workers"`
	Patience   int               `json:"patience"`
	Balanced   bool              `json:"balanced"`
	Regression *RegressionConfig `json:"regression,omitempty"`
}

// Validate rejects configurations that can never train.
func (c RunConfig) Validate() error {
	if c.Data == "" {
		return fmt.Errorf("run config: dataset name is required")
	}
	if c.Col == "" {
		return fmt.Errorf("run config: label column is required")
	}
	if c.Classes < 1 {
		return fmt.Errorf("run config: classes must be >= 1, got %d", c.Classes)
	}
	if c.Depth < 1 {
		return fmt.Errorf("run config: depth must be >= 1, got %d", c.Depth)
	}
	if c.LR <= 0 {
		return fmt.Errorf("run config: learning rate must be positive, got %g", c.LR)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("run config: batch size must be >= 1, got %d", c.BatchSize)
	}
	if c.Patience < 0 {
		return fmt.Errorf("run config: patience must be >= 0, got %d", c.Patience)
	}
	if c.Wildcat != nil {
		if c.Wildcat.Maps < 1 {
			return fmt.Errorf("run config: wildcat maps must be >= 1, got %d", c.Wildcat.Maps)
		}
		if c.Wildcat.K < 1 {
			return fmt.Errorf("run config: wildcat k must be >= 1, got %d", c.Wildcat.K)
		}
		if c.Wildcat.K > c.Wildcat.Maps {
			return fmt.Errorf("run config: wildcat k (%d) cannot exceed maps (%d)", c.Wildcat.K, c.Wildcat.Maps)
		}
	}
	if c.Regression != nil {
		if c.Classes != 1 {
			return fmt.Errorf("run config: regression requires a single output, got %d classes", c.Classes)
		}
		if c.Regression.ErrorRange < 1 {
			return fmt.Errorf("run config: regression error range must be >= 1, got %d", c.Regression.ErrorRange)
		}
	}
	return nil
}
