// Package replicate copies rows from the source OLTP MySQL into the staging
// replica ahead of a load. The pipeline only depends on the CopyTable
// contract, so alternative extractors can be swapped in.
package replicate

import (
	"context"
	"database/sql"
	"strings"

	"go.uber.org/zap"

	"github.com/StevenACoffman/anotherr/errors"

	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/config"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/mysqldb"
)

// maxPlaceholders keeps multi-row INSERTs under MySQL's prepared-statement
// placeholder limit, with headroom.
const maxPlaceholders = 60000

// SimpleReplicator moves new rows from the source database into the staging
// replica, table by table. Idempotent for a given watermark: re-running a
// copy re-selects only rows past the staging maximum.
type SimpleReplicator struct {
	source  *sql.DB
	staging *sql.DB
	tables  map[string]config.TableConfig
	logger  *zap.Logger
}

// NewSimpleReplicator wires a replicator over the two MySQL pools.
func NewSimpleReplicator(
	source *sql.DB,
	staging *sql.DB,
	tables map[string]config.TableConfig,
	logger *zap.Logger,
) *SimpleReplicator {
	return &SimpleReplicator{source: source, staging: staging, tables: tables, logger: logger}
}

// CopyTable replicates one table from source to staging. forceFull truncates
// the staging copy and re-copies everything; otherwise only rows past the
// staging watermark column's maximum are copied.
func (r *SimpleReplicator) CopyTable(ctx context.Context, table string, forceFull bool) error {
	tc, ok := r.tables[table]
	if !ok {
		return errors.New("table " + table + " is not configured for replication")
	}

	sel := "SELECT * FROM `" + table + "`"
	var args []any
	if forceFull {
		if _, err := r.staging.ExecContext(ctx, "TRUNCATE TABLE `"+table+"`"); err != nil {
			return errors.Wrap(err, "Unable to truncate staging table "+table)
		}
	} else if cutoff, col, err := r.stagingCutoff(ctx, tc); err != nil {
		return err
	} else if cutoff != "" {
		sel += " WHERE `" + col + "` > ?"
		args = append(args, cutoff)
	}

	rows, err := r.source.QueryContext(ctx, sel, args...)
	if err != nil {
		return errors.Wrap(err, "Unable to read source rows for "+table)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return errors.Wrap(err, "Unable to read source columns for "+table)
	}
	batchSize := maxPlaceholders / len(columns)
	if batchSize < 1 {
		batchSize = 1
	}

	var (
		batch  [][]any
		copied int64
	)
	for rows.Next() {
		values, scanErr := mysqldb.ScanRowValues(rows, len(columns))
		if scanErr != nil {
			return scanErr
		}
		batch = append(batch, values)
		if len(batch) >= batchSize {
			if err = r.insertBatch(ctx, table, columns, batch); err != nil {
				return err
			}
			copied += int64(len(batch))
			batch = batch[:0]
		}
	}
	if err = rows.Err(); err != nil {
		return errors.Wrap(err, "Unable to iterate source rows for "+table)
	}
	if len(batch) > 0 {
		if err = r.insertBatch(ctx, table, columns, batch); err != nil {
			return err
		}
		copied += int64(len(batch))
	}

	r.logger.Info("replicated table into staging",
		zap.String("table", table), zap.Int64("rows", copied), zap.Bool("full", forceFull))
	return nil
}

// stagingCutoff returns the staging-side maximum of the table's watermark
// column, preferring the primary incremental column.
func (r *SimpleReplicator) stagingCutoff(
	ctx context.Context,
	tc config.TableConfig,
) (cutoff, column string, err error) {
	column = tc.PrimaryIncrementalColumn
	if column == "" && len(tc.IncrementalColumns) > 0 {
		column = tc.IncrementalColumns[0]
	}
	if column == "" {
		return "", "", nil
	}
	var max sql.NullString
	q := "SELECT MAX(`" + column + "`) FROM `" + tc.Name + "`"
	if err = r.staging.QueryRowContext(ctx, q).Scan(&max); err != nil {
		return "", "", errors.Wrap(err, "Unable to read staging watermark for "+tc.Name)
	}
	return max.String, column, nil
}

// insertBatch writes one multi-row INSERT inside a transaction, ignoring
// rows the staging copy already holds.
func (r *SimpleReplicator) insertBatch(
	ctx context.Context,
	table string,
	columns []string,
	batch [][]any,
) error {
	placeholders := make([]string, len(batch))
	values := make([]any, 0, len(batch)*len(columns))
	rowPH := "(" + strings.Repeat("?,", len(columns)-1) + "?)"
	for i, row := range batch {
		placeholders[i] = rowPH
		values = append(values, row...)
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = "`" + c + "`"
	}
	sqlText := "INSERT IGNORE INTO `" + table + "` (" + strings.Join(quoted, ", ") +
		") VALUES " + strings.Join(placeholders, ", ")

	tx, err := r.staging.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "Unable to begin staging transaction for "+table)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if _, err = tx.ExecContext(ctx, sqlText, values...); err != nil {
		return errors.Wrap(err, "Unable to insert staging batch for "+table)
	}
	return errors.Wrap(tx.Commit(), "Unable to commit staging batch for "+table)
}
