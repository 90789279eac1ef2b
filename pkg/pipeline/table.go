package pipeline

import (
	"context"
	"database/sql"
	"runtime/debug"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/config"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/ds"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/load"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/mysqldb"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/pgdb"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/query"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/schema"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/tracking"
)

// TableProcessor orchestrates one table's full cycle: resolve configuration,
// extract, build the load preparation, execute the strategy and record the
// outcome. No failure inside a single table ever propagates to the caller;
// everything is folded into the boolean result.
type TableProcessor struct {
	cfg       *config.Pipeline
	extractor Extractor
	cache     *schema.Cache
	store     *tracking.Store
	builder   *query.Builder
	engine    *load.Engine
	staging   *sql.DB
	logger    *zap.Logger
}

// NewTableProcessor wires a processor from its collaborators.
func NewTableProcessor(
	cfg *config.Pipeline,
	extractor Extractor,
	cache *schema.Cache,
	store *tracking.Store,
	builder *query.Builder,
	engine *load.Engine,
	staging *sql.DB,
	logger *zap.Logger,
) *TableProcessor {
	return &TableProcessor{
		cfg:       cfg,
		extractor: extractor,
		cache:     cache,
		store:     store,
		builder:   builder,
		engine:    engine,
		staging:   staging,
		logger:    logger,
	}
}

// Process runs extract-then-load for one table and reports success. A table
// missing from configuration is a load failure, not a crash.
func (p *TableProcessor) Process(ctx context.Context, table string, forceFull bool) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("table processing panicked",
				zap.String("table", table),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			ok = false
		}
	}()

	tc, found := p.cfg.Table(table)
	if !found {
		p.logger.Error("table missing from configuration",
			zap.String("table", table), zap.String("kind", string(ds.ErrConfiguration)))
		return false
	}

	if err := p.extractor.CopyTable(ctx, table, forceFull); err != nil {
		p.logger.Error("extraction failed; skipping load",
			zap.String("table", table),
			zap.String("kind", string(ds.ErrExtraction)), zap.Error(err))
		p.recordFailure(ctx, table, "")
		return false
	}

	ts, err := p.cache.Get(ctx, table)
	if err != nil {
		p.logger.Error("unable to introspect staging schema",
			zap.String("table", table),
			zap.String("kind", string(ds.ErrConnection)), zap.Error(err))
		p.recordFailure(ctx, table, "")
		return false
	}

	if err = p.store.EnsureRecordExists(ctx, table); err != nil {
		p.logger.Error("unable to ensure tracking record",
			zap.String("table", table), zap.Error(err))
		return false
	}

	// Schema drift forces a fresh full load under the new shape.
	status, tracked, err := p.store.GetStatus(ctx, table)
	if err != nil {
		p.logger.Error("unable to read tracking record",
			zap.String("table", table), zap.Error(err))
		return false
	}
	if tracked && status.SchemaHash != "" && status.SchemaHash != ts.Hash {
		p.logger.Warn("schema drift detected; forcing full load",
			zap.String("table", table),
			zap.String("kind", string(ds.ErrSchema)),
			zap.String("stored_hash", status.SchemaHash),
			zap.String("current_hash", ts.Hash))
		forceFull = true
		p.cache.Invalidate(table)
	}

	prep, buildErr := p.prepare(ctx, tc, ts, forceFull)
	if buildErr != nil {
		p.logger.Error("unable to build load preparation",
			zap.String("table", table), zap.Error(buildErr))
		p.recordFailure(ctx, table, ts.Hash)
		return false
	}

	result := p.engine.Execute(ctx, prep, ts)

	update := tracking.Update{
		RowsLoaded:    result.RowsLoaded,
		Status:        ds.StatusFailed,
		Watermark:     result.Watermark,
		PrimaryColumn: prep.PrimaryColumn,
		PrimaryValue:  result.LastPrimaryValue,
		SchemaHash:    ts.Hash,
	}
	if result.Success {
		update.Status = ds.StatusSuccess
	}
	if err = p.store.UpdateStatus(ctx, table, update); err != nil {
		// A tracking hiccup must not turn a completed load into a failure.
		p.logger.Warn("unable to update tracking record",
			zap.String("table", table), zap.Error(err))
	}

	if !result.Success {
		p.logger.Error("load failed",
			zap.String("table", table),
			zap.String("strategy", string(result.Strategy)),
			zap.String("kind", string(result.Kind)),
			zap.String("message", result.Message),
			zap.Duration("duration", result.Duration))
		return false
	}
	p.logger.Info("load complete",
		zap.String("table", table),
		zap.String("strategy", string(result.Strategy)),
		zap.Int64("rows", result.RowsLoaded),
		zap.Duration("duration", result.Duration))
	return true
}

// prepare resolves the query plan and strategy into a LoadPreparation.
func (p *TableProcessor) prepare(
	ctx context.Context,
	tc config.TableConfig,
	ts *schema.TableSchema,
	forceFull bool,
) (ds.LoadPreparation, error) {
	plan, err := p.builder.BuildQuery(ctx, tc, ts, forceFull)
	if err != nil {
		return ds.LoadPreparation{}, err
	}

	sizeMB := tc.EstimatedSizeMB
	if sizeMB <= 0 {
		if measured, sizeErr := mysqldb.TableSizeMB(ctx, p.staging, tc.Name); sizeErr == nil {
			sizeMB = measured
		}
	}

	return ds.LoadPreparation{
		TableName:          tc.Name,
		IncrementalColumns: plan.Columns,
		PrimaryColumn:      plan.Primary,
		Logic:              plan.Logic,
		Query:              plan.Query,
		QueryArgs:          plan.Args,
		Truncate:           forceFull,
		ForceFull:          forceFull || plan.FullLoad,
		BatchSize:          tc.BatchSize,
		Strategy:           load.SelectStrategy(sizeMB, p.cfg.Thresholds),
	}, nil
}

func (p *TableProcessor) recordFailure(ctx context.Context, table, schemaHash string) {
	if err := p.store.EnsureRecordExists(ctx, table); err != nil {
		p.logger.Warn("unable to ensure tracking record",
			zap.String("table", table), zap.Error(err))
		return
	}
	err := p.store.UpdateStatus(ctx, table, tracking.Update{
		Status:     ds.StatusFailed,
		SchemaHash: schemaHash,
	})
	if err != nil {
		p.logger.Warn("unable to record failure",
			zap.String("table", table), zap.Error(err))
	}
}

// stagingStats adapts the staging pool to the query.StatsReader contract.
type stagingStats struct{ db *sql.DB }

func (s stagingStats) GetColumnStats(
	ctx context.Context,
	table, column string,
) (mysqldb.ColumnStats, error) {
	return mysqldb.GetColumnStats(ctx, s.db, table, column)
}

// targetReader adapts the analytics pool to the query.TargetReader contract.
type targetReader struct{ pool *pgxpool.Pool }

func (t targetReader) MaxColumnValue(ctx context.Context, table, column string) (string, error) {
	return pgdb.MaxColumnValue(ctx, t.pool, table, column)
}
