package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLocationsDefaults(t *testing.T) {
	loc, err := LoadLocations("")
	require.NoError(t, err)
	assert.Equal(t, DefaultLocations(), loc)
}

func TestLoadLocationsPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locations.yml")
	yaml := "data_dir: /srv/datasets\nmodel_dir: /srv/models\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	loc, err := LoadLocations(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/datasets", loc.DataDir)
	assert.Equal(t, "/srv/models", loc.ModelDir)
	// Unset fields keep their defaults.
	assert.Equal(t, DefaultLocations().CSVDir, loc.CSVDir)
	assert.Equal(t, DefaultLocations().WordServiceURL, loc.WordServiceURL)
}

func TestLoadLocationsMissingFile(t *testing.T) {
	_, err := LoadLocations(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestLocationsValidate(t *testing.T) {
	loc := DefaultLocations()
	loc.DataDir = t.TempDir()
	assert.NoError(t, loc.Validate())

	loc.DataDir = filepath.Join(loc.DataDir, "not-mounted")
	err := loc.Validate()
	assert.ErrorIs(t, err, ErrMountMissing)
}

func TestDatasetCSV(t *testing.T) {
	loc := Locations{CSVDir: "/workspace/wsl/csvs"}
	assert.Equal(t, "/workspace/wsl/csvs/chexpert/train.csv", loc.DatasetCSV("chexpert", "train"))
	assert.Equal(t, "/workspace/wsl/csvs/chexpert/valid.csv", loc.DatasetCSV("chexpert", "valid"))
}

func validRunConfig() RunConfig {
	return RunConfig{
		Data:      "chexpert",
		Col:       "pneumonia",
		Extension: "npy",
		Classes:   1,
		Network:   "densenet",
		Depth:     2,
		Optim:     "adam",
		LR:        1e-4,
		BatchSize: 16,
		Patience:  5,
	}
}

func TestRunConfigValidate(t *testing.T) {
	assert.NoError(t, validRunConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*RunConfig)
	}{
		{"missing data", func(c *RunConfig) { c.Data = "" }},
		{"missing column", func(c *RunConfig) { c.Col = "" }},
		{"zero classes", func(c *RunConfig) { c.Classes = 0 }},
		{"zero depth", func(c *RunConfig) { c.Depth = 0 }},
		{"zero lr", func(c *RunConfig) { c.LR = 0 }},
		{"negative lr", func(c *RunConfig) { c.LR = -1e-4 }},
		{"zero batch", func(c *RunConfig) { c.BatchSize = 0 }},
		{"negative patience", func(c *RunConfig) { c.Patience = -1 }},
		{"wildcat zero maps", func(c *RunConfig) {
			c.Wildcat = &WildcatConfig{Maps: 0, K: 1}
		}},
		{"wildcat k over maps", func(c *RunConfig) {
			c.Wildcat = &WildcatConfig{Maps: 2, K: 3}
		}},
		{"regression multiclass", func(c *RunConfig) {
			c.Classes = 3
			c.Regression = &RegressionConfig{ErrorRange: 5}
		}},
		{"regression zero range", func(c *RunConfig) {
			c.Regression = &RegressionConfig{ErrorRange: 0}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validRunConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
