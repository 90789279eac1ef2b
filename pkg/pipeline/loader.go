package pipeline

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/StevenACoffman/anotherr/errors"

	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/config"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/ds"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/load"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/mysqldb"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/pgdb"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/query"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/schema"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/tracking"
)

// Loader is the public face of the pipeline core, consumed by the CLI layer.
// Construct it, InitializeConnections, run tables, Cleanup.
type Loader struct {
	settings  *config.Settings
	cfg       *config.Pipeline
	extractor Extractor
	logger    *zap.Logger
	stageDir  string

	staging   *sql.DB
	analytics *pgxpool.Pool
	processor *TableProcessor
	priority  *PriorityProcessor
}

// NewLoader builds a Loader. No connection is opened here; the environment
// check already happened while constructing Settings.
func NewLoader(
	settings *config.Settings,
	cfg *config.Pipeline,
	extractor Extractor,
	stageDir string,
	logger *zap.Logger,
) *Loader {
	if extractor == nil {
		extractor = NoopExtractor{}
	}
	return &Loader{
		settings:  settings,
		cfg:       cfg,
		extractor: extractor,
		stageDir:  stageDir,
		logger:    logger,
	}
}

// InitializeConnections opens the staging and analytics pools, ensures the
// tracking table and wires the processing components.
func (l *Loader) InitializeConnections(ctx context.Context) error {
	if l.staging != nil || l.analytics != nil {
		return errors.New("loader already initialized; Cleanup must run before reinitializing")
	}
	staging, err := mysqldb.NewPool(l.settings.StagingDSN)
	if err != nil {
		return errors.Wrap(err, "Unable to connect to staging replica")
	}
	analytics, err := pgdb.NewPool(ctx, l.settings.AnalyticsDSN)
	if err != nil {
		_ = staging.Close()
		return errors.Wrap(err, "Unable to connect to analytics store")
	}

	store := tracking.NewStore(analytics)
	if err = store.EnsureTable(ctx); err != nil {
		_ = staging.Close()
		analytics.Close()
		return err
	}

	cache := schema.NewCache(staging)
	builder := query.NewBuilder(
		store,
		targetReader{pool: analytics},
		stagingStats{db: staging},
		l.cfg.MinSupportingRows,
		l.logger,
	)
	engine := load.NewEngine(staging, pgdb.NewStore(analytics), store, l.stageDir, l.logger)

	l.staging = staging
	l.analytics = analytics
	l.processor = NewTableProcessor(
		l.cfg, l.extractor, cache, store, builder, engine, staging, l.logger)
	l.priority = NewPriorityProcessor(l.cfg, l.processor, l.logger)
	return nil
}

// RunPipelineForTable runs extract-then-load for a single table.
func (l *Loader) RunPipelineForTable(ctx context.Context, table string, forceFull bool) bool {
	if l.processor == nil {
		l.logger.Error("loader not initialized", zap.String("table", table),
			zap.String("kind", string(ds.ErrConnection)))
		return false
	}
	return l.processor.Process(ctx, table, forceFull)
}

// ProcessTablesByPriority fans processing out over the given importance
// levels under a bounded worker pool.
func (l *Loader) ProcessTablesByPriority(
	ctx context.Context,
	levels []string,
	maxWorkers int,
	forceFull bool,
) map[string]ds.LevelResult {
	if l.priority == nil {
		l.logger.Error("loader not initialized",
			zap.String("kind", string(ds.ErrConnection)))
		empty := make(map[string]ds.LevelResult, len(levels))
		for _, level := range levels {
			empty[level] = ds.LevelResult{Success: []string{}, Failed: []string{}}
		}
		return empty
	}
	return l.priority.ProcessByPriority(ctx, levels, maxWorkers, forceFull)
}

// Cleanup releases connections. Safe to call repeatedly, and before
// InitializeConnections ever ran.
func (l *Loader) Cleanup() {
	if l.staging != nil {
		if err := l.staging.Close(); err != nil {
			l.logger.Warn("error closing staging pool", zap.Error(err))
		}
		l.staging = nil
	}
	if l.analytics != nil {
		l.analytics.Close()
		l.analytics = nil
	}
	l.processor = nil
	l.priority = nil
}
