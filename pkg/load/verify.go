package load

import (
	"context"

	"github.com/StevenACoffman/anotherr/errors"

	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/mysqldb"
)

// Verify compares the staging row count against the freshly loaded target
// count. The staging replica holds the full table, so after a successful
// load the counts must agree; a mismatch is a load failure, never silently
// ignored.
func (e *Engine) Verify(ctx context.Context, table string) error {
	stagingCount, err := mysqldb.CountRows(ctx, e.staging, table)
	if err != nil {
		return err
	}
	targetCount, err := e.target.CountRows(ctx, table)
	if err != nil {
		return err
	}
	if stagingCount != targetCount {
		return errors.Newf(
			"row count mismatch for %s: staging has %d, target has %d",
			table, stagingCount, targetCount)
	}
	return nil
}
