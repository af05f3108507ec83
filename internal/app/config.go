// Package app wires the processing pipeline: path validation, equipment
// classification, channel loading, merging, labeling and the export,
// visualization and summary surfaces.
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"battminer/internal/labeling"
)

// Environment variables read by ApplyEnv. Flags win over environment.
const (
	EnvOutputDir     = "BATTMINER_OUTPUT_DIR"
	EnvRatedCapacity = "BATTMINER_RATED_CAPACITY"
)

// Config selects what one processing run does.
type Config struct {
	// DataPath is the root directory of one battery test.
	DataPath string

	// OutputDir receives exported files and plots. Empty means
	// "<DataPath>/processed_data".
	OutputDir string

	// Channels restricts processing to the named channels. Nil means all.
	Channels []string

	ExportCSV     bool
	ExportParquet bool
	Visualize     bool

	// Plots selects plot kinds for Visualize. Nil means all.
	Plots []string

	ShowSummary bool

	// Labeling toggles the label inference pass on Toyo exports.
	Labeling bool

	// RatedCapacityMAh overrides the capacity parsed from the directory
	// name. Zero means "use the parsed value, or the engine default".
	RatedCapacityMAh float64

	Verbose bool
}

// DefaultConfig returns a config with labeling on and everything else off.
func DefaultConfig() *Config {
	return &Config{Labeling: true}
}

// LoadEnv loads a .env file from the working directory if one exists.
func LoadEnv(log *zap.Logger) {
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found")
	}
}

// ApplyEnv fills unset config fields from the environment.
func (c *Config) ApplyEnv() {
	if c.OutputDir == "" {
		c.OutputDir = os.Getenv(EnvOutputDir)
	}
	if c.RatedCapacityMAh == 0 {
		if s := os.Getenv(EnvRatedCapacity); s != "" {
			if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
				c.RatedCapacityMAh = f
			}
		}
	}
}

// Validate checks the config before a run and fills derived defaults.
func (c *Config) Validate() error {
	if c.DataPath == "" {
		return fmt.Errorf("data path is required")
	}
	if c.RatedCapacityMAh < 0 {
		return fmt.Errorf("rated capacity must be positive, got %v", c.RatedCapacityMAh)
	}
	if c.OutputDir == "" {
		c.OutputDir = filepath.Join(c.DataPath, "processed_data")
	}
	return nil
}

// ratedCapacity resolves the capacity the labeler normalizes by: explicit
// override first, then the directory-name capacity, then the engine
// default.
func (c *Config) ratedCapacity(parsed float64) float64 {
	if c.RatedCapacityMAh > 0 {
		return c.RatedCapacityMAh
	}
	if parsed > 0 {
		return parsed
	}
	return labeling.DefaultRatedCapacityMAh
}
