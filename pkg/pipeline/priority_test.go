package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/config"
)

type fakeRunner struct {
	mu        sync.Mutex
	fail      map[string]bool
	processed []string
	forceFull []bool
	inFlight  int64
	maxSeen   int64
}

func (f *fakeRunner) Process(_ context.Context, table string, forceFull bool) bool {
	cur := atomic.AddInt64(&f.inFlight, 1)
	defer atomic.AddInt64(&f.inFlight, -1)
	for {
		prev := atomic.LoadInt64(&f.maxSeen)
		if cur <= prev || atomic.CompareAndSwapInt64(&f.maxSeen, prev, cur) {
			break
		}
	}
	f.mu.Lock()
	f.processed = append(f.processed, table)
	f.forceFull = append(f.forceFull, forceFull)
	f.mu.Unlock()
	return !f.fail[table]
}

func levelConfig() *config.Pipeline {
	return &config.Pipeline{Tables: map[string]config.TableConfig{
		"patient": {Name: "patient",
			ImportanceLevel: "critical", ProcessingPriority: 1},
		"appointment": {Name: "appointment",
			ImportanceLevel: "critical", ProcessingPriority: 2},
		"nonexistent_table": {Name: "nonexistent_table",
			ImportanceLevel: "critical", ProcessingPriority: 3},
		"definition": {Name: "definition",
			ImportanceLevel: "reference", ProcessingPriority: 1},
	}}
}

func TestProcessByPriority(t *testing.T) {
	runner := &fakeRunner{fail: map[string]bool{"nonexistent_table": true}}
	p := NewPriorityProcessor(levelConfig(), runner, zap.NewNop())

	results := p.ProcessByPriority(context.Background(),
		[]string{"critical", "important"}, 2, true)

	require.Contains(t, results, "critical")
	critical := results["critical"]
	assert.Equal(t, 3, critical.Total)
	assert.ElementsMatch(t, []string{"patient", "appointment"}, critical.Success)
	assert.Equal(t, []string{"nonexistent_table"}, critical.Failed)

	// A level with no tables still yields a record.
	require.Contains(t, results, "important")
	assert.Equal(t, 0, results["important"].Total)
	assert.Empty(t, results["important"].Success)
	assert.Empty(t, results["important"].Failed)

	for _, ff := range runner.forceFull {
		assert.True(t, ff)
	}
	assert.LessOrEqual(t, runner.maxSeen, int64(2))
}

func TestProcessByPrioritySequential(t *testing.T) {
	runner := &fakeRunner{}
	p := NewPriorityProcessor(levelConfig(), runner, zap.NewNop())

	results := p.ProcessByPriority(context.Background(), []string{"critical"}, 0, false)

	assert.Equal(t, []string{"patient", "appointment", "nonexistent_table"},
		runner.processed)
	assert.Len(t, results["critical"].Success, 3)
	assert.Equal(t, int64(1), runner.maxSeen)
}

func TestProcessByPriorityStopOnLevelFailure(t *testing.T) {
	cfg := levelConfig()
	cfg.StopOnLevelFailure = true
	runner := &fakeRunner{fail: map[string]bool{"appointment": true}}
	p := NewPriorityProcessor(cfg, runner, zap.NewNop())

	results := p.ProcessByPriority(context.Background(),
		[]string{"critical", "reference"}, 1, false)

	assert.Contains(t, results, "critical")
	assert.NotContains(t, results, "reference")
	assert.NotContains(t, runner.processed, "definition")
}

func TestProcessLevelCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &fakeRunner{}
	p := NewPriorityProcessor(levelConfig(), runner, zap.NewNop())

	result := p.processLevel(ctx, []string{"patient", "appointment"}, 4, false)

	// Nothing dispatched after cancellation: every table counts as failed.
	assert.Empty(t, runner.processed)
	assert.ElementsMatch(t, []string{"patient", "appointment"}, result.Failed)
}
