package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
tables:
  patient:
    incremental_columns: [DateTStamp, SecDateTEdit]
    primary_incremental_column: PatNum
    primary_key: PatNum
    estimated_rows: 50000
    estimated_size_mb: 25
    importance_level: critical
    processing_priority: 1
  appointment:
    incremental_columns: [AptDateTime]
    primary_key: AptNum
    estimated_size_mb: 320
    batch_size: 2000
    importance_level: critical
    processing_priority: 2
    incremental_logic: and
  securitylog:
    incremental_columns: [LogDateTime]
    primary_key: SecurityLogNum
    importance_level: audit
`

func TestParsePipeline(t *testing.T) {
	p, err := ParsePipeline([]byte(sampleYAML))
	require.NoError(t, err)
	require.Len(t, p.Tables, 3)

	patient, ok := p.Table("patient")
	require.True(t, ok)
	assert.Equal(t, "patient", patient.Name)
	assert.Equal(t, "PatNum", patient.PrimaryIncrementalColumn)
	assert.Equal(t, []string{"DateTStamp", "SecDateTEdit"}, patient.IncrementalColumns)

	t.Run("defaults are filled", func(t *testing.T) {
		assert.Equal(t, DefaultThresholds(), p.Thresholds)
		assert.Equal(t, int64(defaultMinSupportingRows), p.MinSupportingRows)
		assert.Equal(t, defaultBatchSize, patient.BatchSize)
		log, ok := p.Table("securitylog")
		require.True(t, ok)
		assert.Equal(t, "audit", log.ImportanceLevel)
	})

	t.Run("explicit batch size wins", func(t *testing.T) {
		apt, ok := p.Table("appointment")
		require.True(t, ok)
		assert.Equal(t, 2000, apt.BatchSize)
	})
}

func TestParsePipelineRejectsEmpty(t *testing.T) {
	_, err := ParsePipeline([]byte("tables: {}"))
	assert.Error(t, err)

	_, err = ParsePipeline([]byte(":::bad"))
	assert.Error(t, err)
}

func TestTablesByImportance(t *testing.T) {
	p, err := ParsePipeline([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"patient", "appointment"}, p.TablesByImportance("critical"))
	assert.Equal(t, []string{"securitylog"}, p.TablesByImportance("audit"))
	assert.Empty(t, p.TablesByImportance("reference"))
}

func TestSettingsFromEnv(t *testing.T) {
	t.Run("missing environment fails fast", func(t *testing.T) {
		t.Setenv("ETL_ENVIRONMENT", "")
		_, err := SettingsFromEnv()
		require.Error(t, err)
	})

	t.Run("unknown environment fails fast", func(t *testing.T) {
		t.Setenv("ETL_ENVIRONMENT", "staging-oops")
		t.Setenv("ETL_STAGING_MYSQL_DSN", "user:pass@tcp(localhost:3306)/staging")
		t.Setenv("ETL_ANALYTICS_POSTGRES_DSN", "postgres://localhost/analytics")
		_, err := SettingsFromEnv()
		require.Error(t, err)
	})

	t.Run("missing DSN fails", func(t *testing.T) {
		t.Setenv("ETL_ENVIRONMENT", "test")
		t.Setenv("ETL_STAGING_MYSQL_DSN", "")
		t.Setenv("ETL_ANALYTICS_POSTGRES_DSN", "postgres://localhost/analytics")
		_, err := SettingsFromEnv()
		require.Error(t, err)
	})

	t.Run("valid settings", func(t *testing.T) {
		t.Setenv("ETL_ENVIRONMENT", "Test")
		t.Setenv("ETL_STAGING_MYSQL_DSN", "user:pass@tcp(localhost:3306)/staging")
		t.Setenv("ETL_ANALYTICS_POSTGRES_DSN", "postgres://localhost/analytics")
		s, err := SettingsFromEnv()
		require.NoError(t, err)
		assert.Equal(t, "test", s.Environment)
		assert.Equal(t, "tables.yml", s.ConfigPath)
	})
}
