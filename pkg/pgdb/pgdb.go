// Package pgdb provides access to the PostgreSQL analytics target: pooling,
// bulk insert/upsert and the native COPY bulk-file load path.
package pgdb

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/StevenACoffman/anotherr/errors"
)

// maxBindParams keeps multi-row INSERT statements under the PostgreSQL
// protocol limit of 65535 bind parameters.
const maxBindParams = 60000

// NewPool opens and verifies a pgx connection pool to the analytics target.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "Unable to open analytics Postgres pool")
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "Unable to ping analytics Postgres")
	}
	return pool, nil
}

// CountRows returns the target row count of a table.
func CountRows(ctx context.Context, pool *pgxpool.Pool, tableName string) (int64, error) {
	var count int64
	err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+QuoteIdent(tableName)).Scan(&count)
	return count, errors.Wrap(err, "Unable to count target rows for "+tableName)
}

// Truncate empties a target table ahead of a forced full load.
func Truncate(ctx context.Context, pool *pgxpool.Pool, tableName string) error {
	_, err := pool.Exec(ctx, "TRUNCATE TABLE "+QuoteIdent(tableName))
	return errors.Wrap(err, "Unable to truncate target table "+tableName)
}

// MaxColumnValue returns MAX(column) over the already-loaded target rows as
// text, or "" when the table is empty. Used to recompute a watermark when the
// tracking record is corrupt or missing.
func MaxColumnValue(
	ctx context.Context,
	pool *pgxpool.Pool,
	tableName string,
	column string,
) (string, error) {
	q := fmt.Sprintf("SELECT MAX(%s)::text FROM %s", QuoteIdent(column), QuoteIdent(tableName))
	var max *string
	if err := pool.QueryRow(ctx, q).Scan(&max); err != nil {
		return "", errors.Wrap(err, "Unable to recompute MAX for "+tableName+"."+column)
	}
	if max == nil {
		return "", nil
	}
	return *max, nil
}

// InsertMode selects append-only INSERT or conflict-resolving UPSERT.
type InsertMode int

const (
	ModeAppend InsertMode = iota
	ModeUpsert
)

// Batch caps per insert mode. Upsert batches are kept smaller because
// per-row conflict resolution is costlier than a plain append.
const (
	appendBatchCap = 10000
	upsertBatchCap = 3000
)

// CapBatchSize clamps a configured batch size to the cap for the mode and to
// the bind-parameter limit for the column count.
func CapBatchSize(batchSize int, columnCount int, mode InsertMode) int {
	cap := appendBatchCap
	if mode == ModeUpsert {
		cap = upsertBatchCap
	}
	if batchSize <= 0 || batchSize > cap {
		batchSize = cap
	}
	if columnCount > 0 {
		if byParams := maxBindParams / columnCount; byParams > 0 && batchSize > byParams {
			batchSize = byParams
		}
	}
	if batchSize < 1 {
		batchSize = 1
	}
	return batchSize
}

// InsertRows writes a slice of rows into the target table with a multi-row
// INSERT, splitting into capped sub-batches. In upsert mode conflicts on the
// key columns update all non-key columns in place. Returns rows written.
func InsertRows(
	ctx context.Context,
	pool *pgxpool.Pool,
	tableName string,
	columns []string,
	keyColumns []string,
	rows [][]any,
	mode InsertMode,
	batchSize int,
) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	batchSize = CapBatchSize(batchSize, len(columns), mode)
	var total int64
	for offset := 0; offset < len(rows); offset += batchSize {
		end := offset + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		n, err := insertBatch(ctx, pool, tableName, columns, keyColumns, rows[offset:end], mode)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func insertBatch(
	ctx context.Context,
	pool *pgxpool.Pool,
	tableName string,
	columns []string,
	keyColumns []string,
	rows [][]any,
	mode InsertMode,
) (int64, error) {
	colList := strings.Join(quoteIdents(columns), ", ")
	placeholders := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*len(columns))
	argPos := 1
	for _, row := range rows {
		ph := make([]string, len(row))
		for i := range row {
			ph[i] = fmt.Sprintf("$%d", argPos)
			args = append(args, row[i])
			argPos++
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ", ")+")")
	}

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		QuoteIdent(tableName), colList, strings.Join(placeholders, ", "))
	if mode == ModeUpsert && len(keyColumns) > 0 {
		q += fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s",
			strings.Join(quoteIdents(keyColumns), ", "),
			upsertSetClause(columns, keyColumns))
	}

	ct, err := pool.Exec(ctx, q, args...)
	if err != nil {
		return 0, errors.Wrap(err, "Unable to insert batch into "+tableName)
	}
	return ct.RowsAffected(), nil
}

func upsertSetClause(columns, keyColumns []string) string {
	keys := make(map[string]bool, len(keyColumns))
	for _, k := range keyColumns {
		keys[k] = true
	}
	var sets []string
	for _, c := range columns {
		if keys[c] {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", QuoteIdent(c), QuoteIdent(c)))
	}
	if len(sets) == 0 {
		// Key-only table: nothing to update on conflict.
		return QuoteIdent(keyColumns[0]) + " = EXCLUDED." + QuoteIdent(keyColumns[0])
	}
	return strings.Join(sets, ", ")
}

// CopyFromCSV streams a '^'-delimited CSV (with header) into the target
// table using the engine's native COPY command, the fastest bulk path.
func CopyFromCSV(
	ctx context.Context,
	pool *pgxpool.Pool,
	tableName string,
	columns []string,
	r io.Reader,
) (int64, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "Unable to acquire connection for COPY into "+tableName)
	}
	defer conn.Release()

	copySQL := fmt.Sprintf(
		"COPY %s (%s) FROM STDIN WITH (FORMAT csv, DELIMITER '^', HEADER true, NULL '\\N')",
		QuoteIdent(tableName),
		strings.Join(quoteIdents(columns), ", "),
	)
	res, err := conn.Conn().PgConn().CopyFrom(ctx, r, copySQL)
	if err != nil {
		return 0, errors.Wrap(err, "COPY FROM STDIN failed for "+tableName)
	}
	return res.RowsAffected(), nil
}

// Store binds the target operations the load strategies need to one pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a Store over the analytics pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Truncate(ctx context.Context, tableName string) error {
	return Truncate(ctx, s.pool, tableName)
}

func (s *Store) CountRows(ctx context.Context, tableName string) (int64, error) {
	return CountRows(ctx, s.pool, tableName)
}

func (s *Store) InsertRows(
	ctx context.Context,
	tableName string,
	columns []string,
	keyColumns []string,
	rows [][]any,
	mode InsertMode,
	batchSize int,
) (int64, error) {
	return InsertRows(ctx, s.pool, tableName, columns, keyColumns, rows, mode, batchSize)
}

func (s *Store) CopyFromCSV(
	ctx context.Context,
	tableName string,
	columns []string,
	r io.Reader,
) (int64, error) {
	return CopyFromCSV(ctx, s.pool, tableName, columns, r)
}

// QuoteIdent applies light identifier quoting; embedded quotes are stripped,
// not escaped, since identifiers come from configuration we own.
func QuoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, "") + `"`
}

func quoteIdents(idents []string) []string {
	out := make([]string, len(idents))
	for i, ident := range idents {
		out[i] = QuoteIdent(ident)
	}
	return out
}
