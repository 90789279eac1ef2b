// Package query builds the incremental SQL issued against the staging
// replica: validated incremental-column predicates, primary-column cutoffs
// and forced full-table scans.
package query

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/StevenACoffman/anotherr/errors"

	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/config"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/ds"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/mysqldb"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/schema"
)

// mysqlTimestampLayout is the literal shape MySQL compares DATETIME columns
// against.
const mysqlTimestampLayout = "2006-01-02 15:04:05"

// sanityFloor is the data-quality threshold: an incremental column whose
// minimum value predates it is treated as placeholder data and rejected.
var sanityFloor = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// TrackingReader is the slice of the tracking store the builder needs.
type TrackingReader interface {
	GetStatus(ctx context.Context, table string) (ds.LoadStatus, bool, error)
}

// TargetReader recomputes a watermark from the already-loaded target rows.
type TargetReader interface {
	MaxColumnValue(ctx context.Context, table, column string) (string, error)
}

// StatsReader fetches MIN/MAX/COUNT for a candidate incremental column from
// the staging engine.
type StatsReader interface {
	GetColumnStats(ctx context.Context, table, column string) (mysqldb.ColumnStats, error)
}

// Plan is a built staging query: SQL with '?' placeholders plus its args.
type Plan struct {
	Query     string
	Args      []any
	Logic     ds.IncrementalLogic
	Columns   []string
	Primary   string
	FullLoad  bool
	Watermark time.Time
}

// Builder produces incremental query plans for one run.
type Builder struct {
	tracking          TrackingReader
	target            TargetReader
	stats             StatsReader
	minSupportingRows int64
	logger            *zap.Logger
}

// NewBuilder wires a Builder from its collaborators.
func NewBuilder(
	tracking TrackingReader,
	target TargetReader,
	stats StatsReader,
	minSupportingRows int64,
	logger *zap.Logger,
) *Builder {
	return &Builder{
		tracking:          tracking,
		target:            target,
		stats:             stats,
		minSupportingRows: minSupportingRows,
		logger:            logger,
	}
}

// BuildQuery resolves the staging query for one load attempt.
//
// forceFull overrides everything and yields a full-table scan. Otherwise a
// configured primary incremental column is preferred, using the tracking
// store's last value and falling back to a MAX() recompute against the
// target when the stored value is absent or of the wrong kind. Without a
// primary column, multi-column OR/AND logic over the validated incremental
// columns is used, degrading to a full load when none survive validation.
func (b *Builder) BuildQuery(
	ctx context.Context,
	table config.TableConfig,
	ts *schema.TableSchema,
	forceFull bool,
) (Plan, error) {
	base := "SELECT * FROM `" + table.Name + "`"
	if forceFull {
		return Plan{Query: base, Logic: ds.LogicFullScan, FullLoad: true}, nil
	}

	if table.PrimaryIncrementalColumn != "" {
		return b.buildPrimaryPlan(ctx, table, ts, base)
	}

	valid, err := b.FilterValidColumns(ctx, table.Name, table.IncrementalColumns)
	if err != nil {
		return Plan{}, err
	}
	if len(valid) == 0 {
		b.logger.Warn("no valid incremental columns and no primary column; degrading to full load",
			zap.String("table", table.Name))
		return Plan{Query: base, Logic: ds.LogicFullScan, FullLoad: true}, nil
	}

	status, found, err := b.tracking.GetStatus(ctx, table.Name)
	if err != nil {
		return Plan{}, err
	}
	if !found || status.LastLoadedAt.IsZero() {
		// Never loaded: nothing to filter on yet.
		return Plan{Query: base, Logic: ds.LogicFullScan, FullLoad: true, Columns: valid}, nil
	}

	logic := ds.LogicOr
	joiner := " OR "
	if strings.EqualFold(table.IncrementalLogic, "and") {
		logic = ds.LogicAnd
		joiner = " AND "
	}
	watermark := status.LastLoadedAt.Format(mysqlTimestampLayout)
	comparisons := make([]string, 0, len(valid))
	args := make([]any, 0, len(valid))
	for _, col := range valid {
		comparisons = append(comparisons, "`"+col+"` > ?")
		args = append(args, watermark)
	}
	return Plan{
		Query:     base + " WHERE " + strings.Join(comparisons, joiner),
		Args:      args,
		Logic:     logic,
		Columns:   valid,
		Watermark: status.LastLoadedAt,
	}, nil
}

func (b *Builder) buildPrimaryPlan(
	ctx context.Context,
	table config.TableConfig,
	ts *schema.TableSchema,
	base string,
) (Plan, error) {
	primary := table.PrimaryIncrementalColumn
	status, found, err := b.tracking.GetStatus(ctx, table.Name)
	if err != nil {
		return Plan{}, err
	}

	last := ""
	if found {
		last = status.LastPrimaryValue
	}
	colType := ""
	if ts != nil {
		colType = ts.ColumnTypes[primary]
	}
	usable := last != "" &&
		(status.PrimaryColumnName == "" || status.PrimaryColumnName == primary) &&
		valueMatchesKind(last, colType)
	if !usable {
		if last != "" {
			b.logger.Warn("stored primary value unusable; recomputing watermark from target",
				zap.String("table", table.Name),
				zap.String("primary_column", primary),
				zap.String("stored_column", status.PrimaryColumnName),
				zap.String("stored_value", last))
		}
		last, err = b.target.MaxColumnValue(ctx, table.Name, primary)
		if err != nil {
			return Plan{}, errors.Wrap(err, "Unable to recompute primary watermark for "+table.Name)
		}
	}
	if last == "" {
		// Never loaded, and the target holds nothing to recompute from.
		return Plan{Query: base, Logic: ds.LogicFullScan, FullLoad: true, Primary: primary}, nil
	}
	return Plan{
		Query:   base + " WHERE `" + primary + "` > ?",
		Args:    []any{last},
		Logic:   ds.LogicSingleColumn,
		Primary: primary,
	}, nil
}

// FilterValidColumns is the data-quality filter: a candidate incremental
// column is rejected when its minimum date predates year 2000 (placeholder
// data) or its supporting row count is below the configured minimum (the
// column is effectively unpopulated).
func (b *Builder) FilterValidColumns(
	ctx context.Context,
	table string,
	candidates []string,
) ([]string, error) {
	var valid []string
	for _, col := range candidates {
		stats, err := b.stats.GetColumnStats(ctx, table, col)
		if err != nil {
			return nil, errors.Wrap(err, "Unable to validate incremental column "+table+"."+col)
		}
		if stats.SupportingRow < b.minSupportingRows {
			b.logger.Info("dropping incremental column: too few supporting rows",
				zap.String("table", table), zap.String("column", col),
				zap.Int64("rows", stats.SupportingRow))
			continue
		}
		if !stats.Min.IsZero() && stats.Min.Before(sanityFloor) {
			b.logger.Info("dropping incremental column: minimum predates sanity threshold",
				zap.String("table", table), zap.String("column", col),
				zap.Time("min", stats.Min))
			continue
		}
		valid = append(valid, col)
	}
	return valid, nil
}

// valueMatchesKind reports whether a stored watermark text is of the kind
// the column expects, defending against a stale record such as a timestamp
// left over where an integer key is now expected.
func valueMatchesKind(value, columnType string) bool {
	switch strings.ToLower(columnType) {
	case "tinyint", "smallint", "mediumint", "int", "bigint":
		_, err := strconv.ParseInt(value, 10, 64)
		return err == nil
	case "date", "datetime", "timestamp":
		for _, layout := range []string{mysqlTimestampLayout, "2006-01-02", time.RFC3339} {
			if _, err := time.Parse(layout, value); err == nil {
				return true
			}
		}
		return false
	default:
		// Unknown or textual column kinds accept any stored value.
		return true
	}
}
