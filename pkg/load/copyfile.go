package load

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/csvstage"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/ds"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/mysqldb"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/schema"
)

// executeCopyFile stages staging rows to a delimited temporary file and then
// issues the target engine's native COPY bulk load, the fastest path for
// very large tables.
func (e *Engine) executeCopyFile(
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

	writer, err := csvstage.NewWriter(e.stageDir, prep.TableName, columns)
	if err != nil {
		return ds.Failed(prep.Strategy, ds.ErrLoading, err.Error())
	}
	defer func() {
		_ = os.Remove(writer.Path())
	}()

	for rows.Next() {
		values, scanErr := mysqldb.ScanRowValues(rows, len(columns))
		if scanErr != nil {
			_ = writer.Close()
			return ds.Failed(prep.Strategy, ds.ErrLoading, scanErr.Error())
		}
		tracker.track(values)
		if err = writer.WriteRow(values); err != nil {
			_ = writer.Close()
			return ds.Failed(prep.Strategy, ds.ErrLoading, err.Error())
		}
	}
	if err = rows.Err(); err != nil {
		_ = writer.Close()
		return ds.Failed(prep.Strategy, ds.ErrLoading, "staging read failed: "+err.Error())
	}
	staged := writer.Rows()
	if err = writer.Close(); err != nil {
		return ds.Failed(prep.Strategy, ds.ErrLoading, err.Error())
	}
	e.logger.Info("staged rows to file",
		zap.String("table", prep.TableName),
		zap.String("file", writer.Path()), zap.Int64("rows", staged))

	if prep.Truncate {
		if err = e.target.Truncate(ctx, prep.TableName); err != nil {
			return ds.Failed(prep.Strategy, ds.ErrLoading, err.Error())
		}
	}
	if staged == 0 {
		return ds.LoadResult{Success: true}
	}

	stageFile, err := os.Open(writer.Path())
	if err != nil {
		return ds.Failed(prep.Strategy, ds.ErrLoading, "unable to reopen stage file: "+err.Error())
	}
	defer func() {
		_ = stageFile.Close()
	}()

	loaded, err := e.target.CopyFromCSV(ctx, prep.TableName, columns, stageFile)
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
