// Package ds provides general datastructures of general use
package ds

import "time"

// StrategyType identifies one of the four bulk-loading techniques. The set is
// closed: SelectStrategy only ever returns one of these four values.
type StrategyType string

const (
	StrategyStandard  StrategyType = "standard"
	StrategyStreaming StrategyType = "streaming"
	StrategyChunked   StrategyType = "chunked"
	StrategyCopyFile  StrategyType = "copy_file"
)

// IncrementalLogic describes how the incremental predicate for a table was
// composed.
type IncrementalLogic string

const (
	LogicSingleColumn IncrementalLogic = "single-column"
	LogicOr           IncrementalLogic = "or-logic"
	LogicAnd          IncrementalLogic = "and-logic"
	// LogicFullScan means no predicate was generated at all (forced full
	// load, or no usable incremental columns).
	LogicFullScan IncrementalLogic = "full-scan"
)

// ErrorKind classifies a load failure so that callers can distinguish
// "extraction failed" from "configuration missing" without matching on
// message strings.
type ErrorKind string

const (
	ErrNone          ErrorKind = ""
	ErrConfiguration ErrorKind = "configuration"
	ErrEnvironment   ErrorKind = "environment"
	ErrConnection    ErrorKind = "connection"
	ErrExtraction    ErrorKind = "extraction"
	ErrLoading       ErrorKind = "loading"
	ErrSchema        ErrorKind = "schema"
)

// LoadPreparation is the resolved plan for one load attempt, built fresh on
// every call and never persisted.
type LoadPreparation struct {
	TableName          string
	IncrementalColumns []string
	PrimaryColumn      string
	Logic              IncrementalLogic
	Query              string
	QueryArgs          []any
	Truncate           bool
	ForceFull          bool
	BatchSize          int
	Strategy           StrategyType
}

// LoadResult is the outcome of one load attempt. A zero-row incremental load
// is a valid success.
type LoadResult struct {
	Success    bool
	RowsLoaded int64
	Strategy   StrategyType
	Duration   time.Duration
	Kind       ErrorKind
	Message    string
	// Watermark is the maximum incremental-column value actually moved;
	// zero when no rows moved, so the tracking store holds its position.
	Watermark        time.Time
	LastPrimaryValue string
}

// Failed builds a failed LoadResult for the given strategy.
func Failed(strategy StrategyType, kind ErrorKind, msg string) LoadResult {
	return LoadResult{Strategy: strategy, Kind: kind, Message: msg}
}

// LoadStatus mirrors one row of the etl_load_status tracking table.
type LoadStatus struct {
	TableName         string
	LastLoadedAt      time.Time
	LastPrimaryValue  string
	PrimaryColumnName string
	RowsLoaded        int64
	LoadStatus        string
	SchemaHash        string
}

// Tracking statuses persisted in etl_load_status.load_status.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// LevelResult aggregates one importance level's outcome. An empty level
// yields the zero value with empty (non-nil) slices.
type LevelResult struct {
	Success []string
	Failed  []string
	Total   int
}
