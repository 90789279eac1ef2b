package load

import (
	"context"

	"go.uber.org/zap"

	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/ds"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/mysqldb"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/schema"
)

// executeStandard performs a single staging SELECT into memory followed by
// one batched bulk insert, truncating the target first on forced full loads.
// The path of choice for small tables.
func (e *Engine) executeStandard(
	ctx context.Context,
	prep ds.LoadPreparation,
	ts *schema.TableSchema,
) ds.LoadResult {
	rows, err := e.staging.QueryContext(ctx, prep.Query, prep.QueryArgs...)
	if err != nil {
		return ds.Failed(prep.Strategy, ds.ErrLoading, "staging query failed: "+err.Error())
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return ds.Failed(prep.Strategy, ds.ErrLoading, "staging columns unavailable: "+err.Error())
	}
	tracker := newWatermarkTracker(columns, prep.IncrementalColumns, prep.PrimaryColumn)

	var buffered [][]any
	for rows.Next() {
		values, scanErr := mysqldb.ScanRowValues(rows, len(columns))
		if scanErr != nil {
			return ds.Failed(prep.Strategy, ds.ErrLoading, scanErr.Error())
		}
		tracker.track(values)
		buffered = append(buffered, values)
	}
	if err = rows.Err(); err != nil {
		return ds.Failed(prep.Strategy, ds.ErrLoading, "staging read failed: "+err.Error())
	}

	if prep.Truncate {
		if err = e.target.Truncate(ctx, prep.TableName); err != nil {
			return ds.Failed(prep.Strategy, ds.ErrLoading, err.Error())
		}
	}
	if len(buffered) == 0 {
		e.logger.Info("standard load moved no rows", zap.String("table", prep.TableName))
		return ds.LoadResult{Success: true}
	}

	loaded, err := e.target.InsertRows(
		ctx, prep.TableName, columns, ts.PrimaryKeys,
		buffered, insertModeFor(prep, ts), prep.BatchSize)
	if err != nil {
		return ds.Failed(prep.Strategy, ds.ErrLoading, err.Error())
	}
	return ds.LoadResult{
		Success:          true,
		RowsLoaded:       loaded,
		Watermark:        tracker.max,
		LastPrimaryValue: tracker.primary,
	}
}
