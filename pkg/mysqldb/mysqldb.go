// Package mysqldb provides access to the MySQL staging replica: connection
// pooling, schema introspection and row streaming for the load strategies.
package mysqldb

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/StevenACoffman/anotherr/errors"
)

// NewPool opens a pooled connection to the staging replica and verifies it.
func NewPool(dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "Unable to open staging MySQL connection")
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(60 * time.Second)
	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "Unable to ping staging MySQL")
	}
	return db, nil
}

// GetColumnTypes returns the ordered column names and a name→type map for a
// table from information_schema.
func GetColumnTypes(
	ctx context.Context,
	db *sql.DB,
	tableName string,
) ([]string, map[string]string, error) {
	const q = `
        SELECT column_name, data_type
        FROM information_schema.columns
        WHERE table_schema = DATABASE() AND table_name = ?
        ORDER BY ordinal_position`
	rows, err := db.QueryContext(ctx, q, tableName)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Unable to query staging coltypes for "+tableName)
	}
	defer rows.Close()

	columnTypes := make(map[string]string)
	var columnNames []string
	for rows.Next() {
		var columnName, dataType string
		if err = rows.Scan(&columnName, &dataType); err != nil {
			return nil, nil, errors.Wrap(err, "Unable to scan staging coltypes for "+tableName)
		}
		columnTypes[columnName] = dataType
		columnNames = append(columnNames, columnName)
	}
	if err = rows.Err(); err != nil {
		return nil, nil, errors.Wrap(err, "Unable to read staging coltypes for "+tableName)
	}
	if len(columnNames) == 0 {
		return nil, nil, errors.New("no columns discovered for staging table " + tableName)
	}
	return columnNames, columnTypes, nil
}

// GetPrimaryKeys returns the primary key column names of a staging table.
func GetPrimaryKeys(ctx context.Context, db *sql.DB, tableName string) ([]string, error) {
	const q = `
        SELECT column_name
        FROM information_schema.key_column_usage
        WHERE table_schema = DATABASE()
          AND table_name = ?
          AND constraint_name = 'PRIMARY'
        ORDER BY ordinal_position`
	rows, err := db.QueryContext(ctx, q, tableName)
	if err != nil {
		return nil, errors.Wrap(err, "Unable to query primary key for staging table "+tableName)
	}
	defer rows.Close()

	var pks []string
	for rows.Next() {
		var pk string
		if err = rows.Scan(&pk); err != nil {
			return nil, errors.Wrap(err, "Unable to scan primary key for "+tableName)
		}
		pks = append(pks, pk)
	}
	return pks, errors.Wrap(rows.Err(), "Unable to read primary key rows for "+tableName)
}

// CountRows returns the staging row count of a table.
func CountRows(ctx context.Context, db *sql.DB, tableName string) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM `"+tableName+"`").Scan(&count)
	return count, errors.Wrap(err, "Unable to count staging rows for "+tableName)
}

// TableSizeMB reports the on-disk size of a staging table in megabytes,
// used when the configuration does not carry an estimate.
func TableSizeMB(ctx context.Context, db *sql.DB, tableName string) (float64, error) {
	const q = `
        SELECT ROUND((data_length + index_length) / 1024 / 1024, 2)
        FROM information_schema.tables
        WHERE table_schema = DATABASE() AND table_name = ?`
	var sizeMB sql.NullFloat64
	if err := db.QueryRowContext(ctx, q, tableName).Scan(&sizeMB); err != nil {
		return 0, errors.Wrap(err, "Unable to read staging table size for "+tableName)
	}
	return sizeMB.Float64, nil
}

// ColumnStats holds MIN/MAX/COUNT for one candidate incremental column.
// Min and Max are zero when the column holds no non-NULL values.
type ColumnStats struct {
	Column        string
	Min           time.Time
	Max           time.Time
	SupportingRow int64
}

// mysqlTimeLayouts covers the textual shapes go-sql-driver returns for
// DATETIME/TIMESTAMP/DATE columns without parseTime enabled.
var mysqlTimeLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// GetColumnStats fetches MIN, MAX and the supporting row count for one
// candidate incremental column.
func GetColumnStats(
	ctx context.Context,
	db *sql.DB,
	tableName string,
	column string,
) (ColumnStats, error) {
	stats := ColumnStats{Column: column}
	q := "SELECT MIN(`" + column + "`), MAX(`" + column + "`), COUNT(`" + column + "`) FROM `" + tableName + "`"
	var minRaw, maxRaw sql.NullString
	err := db.QueryRowContext(ctx, q).Scan(&minRaw, &maxRaw, &stats.SupportingRow)
	if err != nil {
		return stats, errors.Wrap(err, "Unable to query column stats for "+tableName+"."+column)
	}
	if minRaw.Valid {
		if stats.Min, err = parseMySQLTime(minRaw.String); err != nil {
			return stats, errors.Wrap(err, "Unable to parse MIN for "+tableName+"."+column)
		}
	}
	if maxRaw.Valid {
		if stats.Max, err = parseMySQLTime(maxRaw.String); err != nil {
			return stats, errors.Wrap(err, "Unable to parse MAX for "+tableName+"."+column)
		}
	}
	return stats, nil
}

func parseMySQLTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range mysqlTimeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// ScanRowValues converts the current row of an open cursor into a []any of
// nil or string values, letting the target engine coerce by column type.
func ScanRowValues(rows *sql.Rows, columnCount int) ([]any, error) {
	raw := make([]sql.RawBytes, columnCount)
	scanArgs := make([]any, columnCount)
	for i := range raw {
		scanArgs[i] = &raw[i]
	}
	if err := rows.Scan(scanArgs...); err != nil {
		return nil, errors.Wrap(err, "Unable to scan staging row")
	}
	values := make([]any, columnCount)
	for i, rb := range raw {
		if rb == nil {
			values[i] = nil
		} else {
			values[i] = string(rb)
		}
	}
	return values, nil
}
