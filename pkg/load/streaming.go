package load

import (
	"context"

	"go.uber.org/zap"

	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/ds"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/mysqldb"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/pgdb"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/schema"
)

// executeStreaming reads the staging cursor row by row, buffering at most
// BatchSize rows before each bulk insert flush, capping peak memory for
// mid-sized tables.
func (e *Engine) executeStreaming(
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
	mode := insertModeFor(prep, ts)
	batchSize := pgdb.CapBatchSize(prep.BatchSize, len(columns), mode)

	if prep.Truncate {
		if err = e.target.Truncate(ctx, prep.TableName); err != nil {
			return ds.Failed(prep.Strategy, ds.ErrLoading, err.Error())
		}
	}

	var (
		buffer [][]any
		loaded int64
	)
	flush := func() error {
		if len(buffer) == 0 {
			return nil
		}
		n, insErr := e.target.InsertRows(
			ctx, prep.TableName, columns, ts.PrimaryKeys,
			buffer, mode, batchSize)
		if insErr != nil {
			return insErr
		}
		loaded += n
		buffer = buffer[:0]
		return nil
	}

	for rows.Next() {
		values, scanErr := mysqldb.ScanRowValues(rows, len(columns))
		if scanErr != nil {
			return ds.Failed(prep.Strategy, ds.ErrLoading, scanErr.Error())
		}
		tracker.track(values)
		buffer = append(buffer, values)
		if len(buffer) >= batchSize {
			if err = flush(); err != nil {
				return ds.Failed(prep.Strategy, ds.ErrLoading, err.Error())
			}
		}
	}
	if err = rows.Err(); err != nil {
		return ds.Failed(prep.Strategy, ds.ErrLoading, "staging read failed: "+err.Error())
	}
	if err = flush(); err != nil {
		return ds.Failed(prep.Strategy, ds.ErrLoading, err.Error())
	}

	e.logger.Debug("streaming load complete",
		zap.String("table", prep.TableName), zap.Int64("rows", loaded))
	return ds.LoadResult{
		Success:          true,
		RowsLoaded:       loaded,
		Watermark:        tracker.max,
		LastPrimaryValue: tracker.primary,
	}
}
