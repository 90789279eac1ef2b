package query

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/config"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/ds"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/mysqldb"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/schema"
)

type fakeTracking struct {
	status ds.LoadStatus
	found  bool
}

func (f fakeTracking) GetStatus(context.Context, string) (ds.LoadStatus, bool, error) {
	return f.status, f.found, nil
}

type fakeTarget struct {
	max string
}

func (f fakeTarget) MaxColumnValue(context.Context, string, string) (string, error) {
	return f.max, nil
}

type fakeStats struct {
	stats map[string]mysqldb.ColumnStats
}

func (f fakeStats) GetColumnStats(_ context.Context, _ string, column string) (mysqldb.ColumnStats, error) {
	return f.stats[column], nil
}

func patientSchema() *schema.TableSchema {
	return &schema.TableSchema{
		Table:   "patient",
		Columns: []string{"PatNum", "LName", "DateTStamp", "SecDateTEdit"},
		ColumnTypes: map[string]string{
			"PatNum":       "bigint",
			"LName":        "varchar",
			"DateTStamp":   "timestamp",
			"SecDateTEdit": "timestamp",
		},
		PrimaryKeys: []string{"PatNum"},
	}
}

func healthyStats(columns ...string) fakeStats {
	stats := make(map[string]mysqldb.ColumnStats, len(columns))
	for _, col := range columns {
		stats[col] = mysqldb.ColumnStats{
			Column:        col,
			Min:           time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC),
			Max:           time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
			SupportingRow: 50000,
		}
	}
	return fakeStats{stats: stats}
}

func newTestBuilder(tracking fakeTracking, target fakeTarget, stats fakeStats) *Builder {
	return NewBuilder(tracking, target, stats, 100, zap.NewNop())
}

func TestBuildQueryForceFull(t *testing.T) {
	table := config.TableConfig{
		Name:                     "patient",
		PrimaryIncrementalColumn: "PatNum",
		IncrementalColumns:       []string{"DateTStamp"},
	}
	b := newTestBuilder(
		fakeTracking{status: ds.LoadStatus{LastPrimaryValue: "500"}, found: true},
		fakeTarget{}, healthyStats("DateTStamp"))

	plan, err := b.BuildQuery(context.Background(), table, patientSchema(), true)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM `patient`", plan.Query)
	assert.True(t, plan.FullLoad)
	assert.Equal(t, ds.LogicFullScan, plan.Logic)
	assert.NotContains(t, plan.Query, "WHERE")
}

func TestBuildQueryPrimaryColumn(t *testing.T) {
	table := config.TableConfig{
		Name:                     "patient",
		PrimaryIncrementalColumn: "PatNum",
		IncrementalColumns:       []string{"DateTStamp", "SecDateTEdit"},
	}

	t.Run("recorded value yields exactly one comparison", func(t *testing.T) {
		b := newTestBuilder(fakeTracking{
			status: ds.LoadStatus{LastPrimaryValue: "12345", PrimaryColumnName: "PatNum"},
			found:  true,
		}, fakeTarget{}, healthyStats())

		plan, err := b.BuildQuery(context.Background(), table, patientSchema(), false)
		require.NoError(t, err)
		assert.Equal(t, "SELECT * FROM `patient` WHERE `PatNum` > ?", plan.Query)
		assert.Equal(t, []any{"12345"}, plan.Args)
		assert.Equal(t, ds.LogicSingleColumn, plan.Logic)
		assert.NotContains(t, plan.Query, " OR ")
		assert.NotContains(t, plan.Query, " AND ")
	})

	t.Run("corrupted record recomputes from target MAX", func(t *testing.T) {
		// A timestamp left over where an integer key is now expected.
		b := newTestBuilder(fakeTracking{
			status: ds.LoadStatus{
				LastPrimaryValue:  "2023-01-01 00:00:00",
				PrimaryColumnName: "timestamp",
			},
			found: true,
		}, fakeTarget{max: "777"}, healthyStats())

		plan, err := b.BuildQuery(context.Background(), table, patientSchema(), false)
		require.NoError(t, err)
		assert.Equal(t, "SELECT * FROM `patient` WHERE `PatNum` > ?", plan.Query)
		assert.Equal(t, []any{"777"}, plan.Args)
	})

	t.Run("never loaded and empty target degrades to full", func(t *testing.T) {
		b := newTestBuilder(fakeTracking{}, fakeTarget{}, healthyStats())

		plan, err := b.BuildQuery(context.Background(), table, patientSchema(), false)
		require.NoError(t, err)
		assert.True(t, plan.FullLoad)
		assert.NotContains(t, plan.Query, "WHERE")
	})
}

func TestBuildQueryMultiColumn(t *testing.T) {
	loaded := fakeTracking{
		status: ds.LoadStatus{LastLoadedAt: time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)},
		found:  true,
	}
	table := config.TableConfig{
		Name:               "patient",
		IncrementalColumns: []string{"DateTStamp", "SecDateTEdit"},
	}

	t.Run("or logic joins with OR", func(t *testing.T) {
		b := newTestBuilder(loaded, fakeTarget{}, healthyStats("DateTStamp", "SecDateTEdit"))
		plan, err := b.BuildQuery(context.Background(), table, patientSchema(), false)
		require.NoError(t, err)
		assert.Equal(t,
			"SELECT * FROM `patient` WHERE `DateTStamp` > ? OR `SecDateTEdit` > ?",
			plan.Query)
		assert.Equal(t, ds.LogicOr, plan.Logic)
		assert.Equal(t, []any{"2024-05-01 08:30:00", "2024-05-01 08:30:00"}, plan.Args)
	})

	t.Run("and logic joins with AND", func(t *testing.T) {
		andTable := table
		andTable.IncrementalLogic = "and"
		b := newTestBuilder(loaded, fakeTarget{}, healthyStats("DateTStamp", "SecDateTEdit"))
		plan, err := b.BuildQuery(context.Background(), andTable, patientSchema(), false)
		require.NoError(t, err)
		assert.Contains(t, plan.Query, "`DateTStamp` > ? AND `SecDateTEdit` > ?")
		assert.Equal(t, ds.LogicAnd, plan.Logic)
	})

	t.Run("invalid columns are dropped from the predicate", func(t *testing.T) {
		stats := healthyStats("DateTStamp", "SecDateTEdit")
		garbage := stats.stats["SecDateTEdit"]
		garbage.Min = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
		stats.stats["SecDateTEdit"] = garbage

		b := newTestBuilder(loaded, fakeTarget{}, stats)
		plan, err := b.BuildQuery(context.Background(), table, patientSchema(), false)
		require.NoError(t, err)
		assert.Equal(t, "SELECT * FROM `patient` WHERE `DateTStamp` > ?", plan.Query)
	})

	t.Run("no valid columns degrades to full load", func(t *testing.T) {
		stats := fakeStats{stats: map[string]mysqldb.ColumnStats{
			"DateTStamp":   {SupportingRow: 3},
			"SecDateTEdit": {SupportingRow: 0},
		}}
		b := newTestBuilder(loaded, fakeTarget{}, stats)
		plan, err := b.BuildQuery(context.Background(), table, patientSchema(), false)
		require.NoError(t, err)
		assert.True(t, plan.FullLoad)
		assert.NotContains(t, plan.Query, "WHERE")
	})

	t.Run("never loaded scans everything", func(t *testing.T) {
		b := newTestBuilder(fakeTracking{}, fakeTarget{},
			healthyStats("DateTStamp", "SecDateTEdit"))
		plan, err := b.BuildQuery(context.Background(), table, patientSchema(), false)
		require.NoError(t, err)
		assert.True(t, plan.FullLoad)
	})
}

func TestFilterValidColumns(t *testing.T) {
	stats := fakeStats{stats: map[string]mysqldb.ColumnStats{
		"good": {
			Min:           time.Date(2010, 2, 3, 0, 0, 0, 0, time.UTC),
			SupportingRow: 10000,
		},
		"placeholder_dates": {
			Min:           time.Date(1999, 12, 31, 23, 59, 59, 0, time.UTC),
			SupportingRow: 10000,
		},
		"barely_populated": {
			Min:           time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
			SupportingRow: 99,
		},
	}}
	b := newTestBuilder(fakeTracking{}, fakeTarget{}, stats)

	valid, err := b.FilterValidColumns(context.Background(), "patient",
		[]string{"good", "placeholder_dates", "barely_populated"})
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, valid)
}

func TestValueMatchesKind(t *testing.T) {
	cases := []struct {
		name       string
		value      string
		columnType string
		want       bool
	}{
		{"integer for bigint", "12345", "bigint", true},
		{"timestamp for bigint", "2023-01-01 00:00:00", "bigint", false},
		{"timestamp for datetime", "2023-01-01 00:00:00", "datetime", true},
		{"integer for datetime", "12345", "datetime", false},
		{"anything for varchar", "whatever", "varchar", true},
		{"date-only for date", "2023-01-01", "date", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, valueMatchesKind(tc.value, tc.columnType))
		})
	}
}

func TestPlanQueriesUsePlaceholders(t *testing.T) {
	// Watermark values travel as args, never spliced into the SQL text.
	b := newTestBuilder(fakeTracking{
		status: ds.LoadStatus{LastPrimaryValue: "42", PrimaryColumnName: "PatNum"},
		found:  true,
	}, fakeTarget{}, healthyStats())
	table := config.TableConfig{Name: "patient", PrimaryIncrementalColumn: "PatNum"}

	plan, err := b.BuildQuery(context.Background(), table, patientSchema(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(plan.Query, "?"))
	assert.NotContains(t, plan.Query, "42")
}
