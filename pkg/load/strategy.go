// Package load implements the four bulk-load strategies (standard,
// streaming, chunked, copy-file), selected per table per run by estimated
// size, plus the post-load row-count verification.
package load

import (
	"context"
	"database/sql"
	"io"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/config"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/ds"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/pgdb"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/schema"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/tracking"
)

// SelectStrategy maps an estimated table size to a load strategy. A size
// landing exactly on a boundary takes the smaller strategy.
func SelectStrategy(sizeMB float64, t config.Thresholds) ds.StrategyType {
	switch {
	case sizeMB <= t.StandardMaxMB:
		return ds.StrategyStandard
	case sizeMB <= t.StreamingMaxMB:
		return ds.StrategyStreaming
	case sizeMB <= t.ChunkedMaxMB:
		return ds.StrategyChunked
	default:
		return ds.StrategyCopyFile
	}
}

// Checkpointer records chunked-load progress so a crash loses at most one
// window. *tracking.Store satisfies it.
type Checkpointer interface {
	UpdateStatus(ctx context.Context, table string, u tracking.Update) error
}

// Target is the slice of the analytics store the strategies write through.
// *pgdb.Store satisfies it.
type Target interface {
	Truncate(ctx context.Context, table string) error
	CountRows(ctx context.Context, table string) (int64, error)
	InsertRows(ctx context.Context, table string, columns, keyColumns []string,
		rows [][]any, mode pgdb.InsertMode, batchSize int) (int64, error)
	CopyFromCSV(ctx context.Context, table string, columns []string, r io.Reader) (int64, error)
}

// Engine executes a LoadPreparation against the staging and target engines.
type Engine struct {
	staging    *sql.DB
	target     Target
	checkpoint Checkpointer
	stageDir   string
	logger     *zap.Logger
}

// NewEngine wires a load engine. checkpoint may be nil, which disables
// per-window progress recording.
func NewEngine(
	staging *sql.DB,
	target Target,
	checkpoint Checkpointer,
	stageDir string,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		staging:    staging,
		target:     target,
		checkpoint: checkpoint,
		stageDir:   stageDir,
		logger:     logger,
	}
}

// Execute runs the strategy named by the preparation and returns its result.
// Strategies never panic on a zero-row outcome: moving nothing is success.
func (e *Engine) Execute(
	ctx context.Context,
	prep ds.LoadPreparation,
	ts *schema.TableSchema,
) ds.LoadResult {
	start := time.Now()
	var result ds.LoadResult
	switch prep.Strategy {
	case ds.StrategyStandard:
		result = e.executeStandard(ctx, prep, ts)
	case ds.StrategyStreaming:
		result = e.executeStreaming(ctx, prep, ts)
	case ds.StrategyChunked:
		result = e.executeChunked(ctx, prep, ts)
	case ds.StrategyCopyFile:
		result = e.executeCopyFile(ctx, prep, ts)
	default:
		result = ds.Failed(prep.Strategy, ds.ErrLoading, "unknown load strategy "+string(prep.Strategy))
	}
	result.Strategy = prep.Strategy
	result.Duration = time.Since(start)

	if result.Success {
		if err := e.Verify(ctx, prep.TableName); err != nil {
			e.logger.Error("post-load verification failed",
				zap.String("table", prep.TableName), zap.Error(err))
			result.Success = false
			result.Kind = ds.ErrLoading
			result.Message = err.Error()
		}
	}
	return result
}

// insertModeFor picks the insert mode: a truncated full load appends, an
// incremental load upserts when the table carries a primary key.
func insertModeFor(prep ds.LoadPreparation, ts *schema.TableSchema) pgdb.InsertMode {
	if prep.Truncate || len(ts.PrimaryKeys) == 0 {
		return pgdb.ModeAppend
	}
	return pgdb.ModeUpsert
}

// watermarkTracker folds streamed rows into the values the tracking store
// needs afterwards: the max incremental timestamp and the last primary value.
type watermarkTracker struct {
	columns    []string
	incIdx     []int
	primaryIdx int
	max        time.Time
	primary    string
}

func newWatermarkTracker(columns, incrementalColumns []string, primaryColumn string) *watermarkTracker {
	t := &watermarkTracker{columns: columns, primaryIdx: -1}
	for i, col := range columns {
		for _, inc := range incrementalColumns {
			if col == inc {
				t.incIdx = append(t.incIdx, i)
			}
		}
		if primaryColumn != "" && col == primaryColumn {
			t.primaryIdx = i
		}
	}
	return t
}

func (t *watermarkTracker) track(row []any) {
	for _, idx := range t.incIdx {
		s, ok := row[idx].(string)
		if !ok {
			continue
		}
		for _, layout := range []string{"2006-01-02 15:04:05.999999", "2006-01-02 15:04:05", "2006-01-02"} {
			parsed, err := time.Parse(layout, s)
			if err == nil {
				if parsed.After(t.max) {
					t.max = parsed
				}
				break
			}
		}
	}
	if t.primaryIdx >= 0 {
		if s, ok := row[t.primaryIdx].(string); ok && s != "" {
			if greaterValue(s, t.primary) {
				t.primary = s
			}
		}
	}
}

// greaterValue compares two watermark texts numerically when both parse as
// integers, lexically otherwise.
func greaterValue(a, b string) bool {
	if b == "" {
		return true
	}
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		return ai > bi
	}
	return a > b
}
