// Package config loads the per-table pipeline configuration (YAML) and the
// environment settings (DSNs and the required ETL environment).
package config

import (
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/StevenACoffman/anotherr/errors"
)

// PerformanceCategory buckets a table by expected volume.
type PerformanceCategory string

const (
	CategoryTiny   PerformanceCategory = "tiny"
	CategorySmall  PerformanceCategory = "small"
	CategoryMedium PerformanceCategory = "medium"
	CategoryLarge  PerformanceCategory = "large"
)

// TableConfig identifies one table to move. Owned by configuration, loaded
// once per run, read-only during processing.
type TableConfig struct {
	Name               string   `yaml:"-"`
	IncrementalColumns []string `yaml:"incremental_columns"`
	// PrimaryIncrementalColumn, when set, is preferred over the timestamp
	// heuristics in incremental_columns. Usually a monotonic integer key.
	PrimaryIncrementalColumn string              `yaml:"primary_incremental_column"`
	PrimaryKey               string              `yaml:"primary_key"`
	EstimatedRows            int64               `yaml:"estimated_rows"`
	EstimatedSizeMB          float64             `yaml:"estimated_size_mb"`
	BatchSize                int                 `yaml:"batch_size"`
	PerformanceCategory      PerformanceCategory `yaml:"performance_category"`
	ProcessingPriority       int                 `yaml:"processing_priority"`
	// ImportanceLevel groups the table into a processing tier such as
	// critical, important, audit or reference.
	ImportanceLevel string `yaml:"importance_level"`
	// IncrementalLogic selects how multi-column predicates are joined:
	// "or" (any column may indicate a change) or "and".
	IncrementalLogic string `yaml:"incremental_logic"`
}

// Thresholds are the strategy-selection size boundaries in MB. A table whose
// estimated size lands exactly on a boundary takes the smaller strategy.
type Thresholds struct {
	StandardMaxMB  float64 `yaml:"standard_max_mb"`
	StreamingMaxMB float64 `yaml:"streaming_max_mb"`
	ChunkedMaxMB   float64 `yaml:"chunked_max_mb"`
}

// DefaultThresholds returns the stock size boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{StandardMaxMB: 100, StreamingMaxMB: 200, ChunkedMaxMB: 500}
}

// Pipeline is the root of the YAML configuration file.
type Pipeline struct {
	Tables     map[string]TableConfig `yaml:"tables"`
	Thresholds Thresholds             `yaml:"thresholds"`
	// MinSupportingRows is the minimum MIN/MAX supporting row count for an
	// incremental column to be trusted.
	MinSupportingRows int64 `yaml:"min_supporting_rows"`
	DefaultBatchSize  int   `yaml:"default_batch_size"`
	// StopOnLevelFailure halts the run after a level with failures instead
	// of continuing to lower-priority levels. Off by default.
	StopOnLevelFailure bool `yaml:"stop_on_level_failure"`
}

const (
	defaultBatchSize         = 5000
	defaultMinSupportingRows = 100
)

// ParsePipeline parses YAML bytes into a Pipeline, filling defaults and
// stamping each table with its map key.
func ParsePipeline(data []byte) (*Pipeline, error) {
	var p Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, "Unable to parse pipeline config YAML")
	}
	if len(p.Tables) == 0 {
		return nil, errors.New("pipeline config has no tables")
	}
	if p.Thresholds == (Thresholds{}) {
		p.Thresholds = DefaultThresholds()
	}
	if p.MinSupportingRows <= 0 {
		p.MinSupportingRows = defaultMinSupportingRows
	}
	if p.DefaultBatchSize <= 0 {
		p.DefaultBatchSize = defaultBatchSize
	}
	for name, tc := range p.Tables {
		tc.Name = name
		if tc.BatchSize <= 0 {
			tc.BatchSize = p.DefaultBatchSize
		}
		if tc.ImportanceLevel == "" {
			tc.ImportanceLevel = "reference"
		}
		p.Tables[name] = tc
	}
	return &p, nil
}

// LoadPipeline reads and parses the YAML configuration file.
func LoadPipeline(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "Unable to read pipeline config "+path)
	}
	return ParsePipeline(data)
}

// Table looks up one table's configuration.
func (p *Pipeline) Table(name string) (TableConfig, bool) {
	tc, ok := p.Tables[name]
	return tc, ok
}

// TablesByImportance returns the table names configured at the given level,
// ordered by processing priority then name so a run is deterministic.
func (p *Pipeline) TablesByImportance(level string) []string {
	var names []string
	for name, tc := range p.Tables {
		if strings.EqualFold(tc.ImportanceLevel, level) {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := p.Tables[names[i]], p.Tables[names[j]]
		if a.ProcessingPriority != b.ProcessingPriority {
			return a.ProcessingPriority < b.ProcessingPriority
		}
		return names[i] < names[j]
	})
	return names
}

// Settings carries the environment-derived configuration. Construction fails
// fast when the ETL environment is missing or unknown, before any database
// connection is attempted.
type Settings struct {
	Environment  string
	StagingDSN   string
	AnalyticsDSN string
	ConfigPath   string
}

var validEnvironments = map[string]bool{"production": true, "test": true}

// SettingsFromEnv reads settings from the process environment.
func SettingsFromEnv() (*Settings, error) {
	env := os.Getenv("ETL_ENVIRONMENT")
	if env == "" {
		return nil, errors.New("ETL_ENVIRONMENT is not set; refusing to run against an unknown environment")
	}
	if !validEnvironments[strings.ToLower(env)] {
		return nil, errors.Newf("ETL_ENVIRONMENT %q is not one of production|test", env)
	}
	s := &Settings{
		Environment:  strings.ToLower(env),
		StagingDSN:   os.Getenv("ETL_STAGING_MYSQL_DSN"),
		AnalyticsDSN: os.Getenv("ETL_ANALYTICS_POSTGRES_DSN"),
		ConfigPath:   getEnv("ETL_TABLES_CONFIG", "tables.yml"),
	}
	if s.StagingDSN == "" {
		return nil, errors.New("ETL_STAGING_MYSQL_DSN is not set")
	}
	if s.AnalyticsDSN == "" {
		return nil, errors.New("ETL_ANALYTICS_POSTGRES_DSN is not set")
	}
	return s, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
