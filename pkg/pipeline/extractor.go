// Package pipeline sequences extract-then-load for one table and fans that
// out across importance tiers under a bounded worker pool.
package pipeline

import "context"

// Extractor is the collaborator contract required from the extraction
// subsystem: synchronous, and idempotent for a given watermark.
// replicate.SimpleReplicator satisfies it.
type Extractor interface {
	CopyTable(ctx context.Context, table string, forceFull bool) error
}

// NoopExtractor is used when the staging replica is maintained out of band;
// extraction always succeeds without touching anything.
type NoopExtractor struct{}

// CopyTable implements Extractor.
func (NoopExtractor) CopyTable(context.Context, string, bool) error { return nil }
