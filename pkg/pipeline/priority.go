package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/config"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/ds"
)

// TableRunner is the slice of the table processor the priority layer needs.
type TableRunner interface {
	Process(ctx context.Context, table string, forceFull bool) bool
}

// PriorityProcessor fans table processing out across importance tiers. Tiers
// run one after another; tables inside a tier share a bounded worker pool.
type PriorityProcessor struct {
	cfg    *config.Pipeline
	runner TableRunner
	logger *zap.Logger
}

// NewPriorityProcessor wires a priority processor.
func NewPriorityProcessor(
	cfg *config.Pipeline,
	runner TableRunner,
	logger *zap.Logger,
) *PriorityProcessor {
	return &PriorityProcessor{cfg: cfg, runner: runner, logger: logger}
}

type tableOutcome struct {
	table string
	ok    bool
}

// ProcessByPriority processes the requested importance levels in order. Each
// level's tables run under a pool of at most maxWorkers; maxWorkers <= 1
// degrades to sequential. A level with no tables yields a zero-value record
// rather than being omitted. By default a failing level does not stop the
// remaining levels; stop_on_level_failure in the configuration flips that.
func (p *PriorityProcessor) ProcessByPriority(
	ctx context.Context,
	levels []string,
	maxWorkers int,
	forceFull bool,
) map[string]ds.LevelResult {
	runID := uuid.NewString()
	results := make(map[string]ds.LevelResult, len(levels))
	for _, level := range levels {
		tables := p.cfg.TablesByImportance(level)
		p.logger.Info("processing importance level",
			zap.String("run_id", runID),
			zap.String("level", level),
			zap.Int("tables", len(tables)),
			zap.Int("max_workers", maxWorkers))

		result := p.processLevel(ctx, tables, maxWorkers, forceFull)
		results[level] = result

		p.logger.Info("importance level complete",
			zap.String("run_id", runID),
			zap.String("level", level),
			zap.Strings("success", result.Success),
			zap.Strings("failed", result.Failed))

		if p.cfg.StopOnLevelFailure && len(result.Failed) > 0 {
			p.logger.Warn("halting run after level failures",
				zap.String("run_id", runID), zap.String("level", level))
			break
		}
	}
	return results
}

// processLevel runs one tier's tables and aggregates their outcomes. Workers
// report through a channel collected by this single owning goroutine, so the
// success/failed slices are never mutated concurrently.
func (p *PriorityProcessor) processLevel(
	ctx context.Context,
	tables []string,
	maxWorkers int,
	forceFull bool,
) ds.LevelResult {
	result := ds.LevelResult{Success: []string{}, Failed: []string{}, Total: len(tables)}
	if len(tables) == 0 {
		return result
	}

	if maxWorkers <= 1 {
		for _, table := range tables {
			if p.runner.Process(ctx, table, forceFull) {
				result.Success = append(result.Success, table)
			} else {
				result.Failed = append(result.Failed, table)
			}
		}
		return result
	}

	sem := make(chan struct{}, maxWorkers)
	outcomes := make(chan tableOutcome, len(tables))
	var wg sync.WaitGroup
	dispatched := 0
	for _, table := range tables {
		if ctx.Err() != nil {
			// In-flight tables finish on their own; undispatched ones fail.
			result.Failed = append(result.Failed, table)
			continue
		}
		select {
		case <-ctx.Done():
			result.Failed = append(result.Failed, table)
			continue
		case sem <- struct{}{}:
		}
		dispatched++
		wg.Add(1)
		go func(t string) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes <- tableOutcome{table: t, ok: p.runner.Process(ctx, t, forceFull)}
		}(table)
	}
	wg.Wait()
	close(outcomes)

	for outcome := range outcomes {
		if outcome.ok {
			result.Success = append(result.Success, outcome.table)
		} else {
			result.Failed = append(result.Failed, outcome.table)
		}
	}
	return result
}
