// Package tracking persists per-table load state in the analytics store: the
// watermark, last primary-key value, row counts and load status that make
// every run resumable and idempotent.
package tracking

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/StevenACoffman/anotherr/errors"

	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/ds"
)

const trackingTableDDL = `
CREATE TABLE IF NOT EXISTS etl_load_status (
    table_name          TEXT PRIMARY KEY,
    last_loaded_at      TIMESTAMP,
    last_primary_value  TEXT,
    primary_column_name TEXT,
    rows_loaded         INTEGER NOT NULL DEFAULT 0,
    load_status         TEXT NOT NULL DEFAULT 'failed',
    schema_hash         TEXT
)`

// Store reads and writes etl_load_status rows. One row per table; rows are
// created on first load and overwritten in place, never deleted here.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a Store over the analytics pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureTable creates the tracking table when absent.
func (s *Store) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, trackingTableDDL)
	return errors.Wrap(err, "Unable to ensure etl_load_status table")
}

// EnsureRecordExists creates a tracking record for a table if one is not
// already present. Calling it again for an existing row is a no-op success.
func (s *Store) EnsureRecordExists(ctx context.Context, table string) error {
	const q = `
        INSERT INTO etl_load_status (table_name, rows_loaded, load_status)
        VALUES ($1, 0, 'failed')
        ON CONFLICT (table_name) DO NOTHING`
	_, err := s.pool.Exec(ctx, q, table)
	return errors.Wrap(err, "Unable to ensure tracking record for "+table)
}

// Update is the post-load state to fold into a table's tracking record.
// A zero Watermark (or a zero-row load) leaves last_loaded_at untouched.
type Update struct {
	RowsLoaded    int64
	Status        string
	Watermark     time.Time
	PrimaryColumn string
	PrimaryValue  string
	SchemaHash    string
}

// UpdateStatus upserts a table's tracking record. The watermark never
// regresses: an older incoming value is ignored, and a load that moved zero
// rows does not advance it at all.
func (s *Store) UpdateStatus(ctx context.Context, table string, u Update) error {
	watermark := watermarkParam(u)
	const q = `
        INSERT INTO etl_load_status
            (table_name, last_loaded_at, last_primary_value, primary_column_name,
             rows_loaded, load_status, schema_hash)
        VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, NULLIF($7, ''))
        ON CONFLICT (table_name) DO UPDATE SET
            last_loaded_at = GREATEST(
                COALESCE(EXCLUDED.last_loaded_at, etl_load_status.last_loaded_at),
                COALESCE(etl_load_status.last_loaded_at, EXCLUDED.last_loaded_at)),
            last_primary_value = COALESCE(EXCLUDED.last_primary_value, etl_load_status.last_primary_value),
            primary_column_name = COALESCE(EXCLUDED.primary_column_name, etl_load_status.primary_column_name),
            rows_loaded = EXCLUDED.rows_loaded,
            load_status = EXCLUDED.load_status,
            schema_hash = COALESCE(EXCLUDED.schema_hash, etl_load_status.schema_hash)`
	_, err := s.pool.Exec(ctx, q,
		table, watermark, u.PrimaryValue, u.PrimaryColumn,
		u.RowsLoaded, u.Status, u.SchemaHash)
	return errors.Wrap(err, "Unable to update tracking record for "+table)
}

// watermarkParam decides whether an update may move last_loaded_at at all.
// A zero-row load never advances the watermark beyond what actually moved,
// and the upsert's GREATEST keeps it from regressing.
func watermarkParam(u Update) *time.Time {
	if u.RowsLoaded <= 0 || u.Watermark.IsZero() {
		return nil
	}
	w := u.Watermark
	return &w
}

// GetStatus fetches a table's tracking record. The second return is false
// when the table has never been tracked.
func (s *Store) GetStatus(ctx context.Context, table string) (ds.LoadStatus, bool, error) {
	const q = `
        SELECT table_name, last_loaded_at, last_primary_value,
               primary_column_name, rows_loaded, load_status, schema_hash
        FROM etl_load_status
        WHERE table_name = $1`
	var (
		status       ds.LoadStatus
		lastLoadedAt *time.Time
		primaryValue *string
		primaryCol   *string
		schemaHash   *string
	)
	err := s.pool.QueryRow(ctx, q, table).Scan(
		&status.TableName, &lastLoadedAt, &primaryValue,
		&primaryCol, &status.RowsLoaded, &status.LoadStatus, &schemaHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return ds.LoadStatus{}, false, nil
	}
	if err != nil {
		return ds.LoadStatus{}, false, errors.Wrap(err, "Unable to read tracking record for "+table)
	}
	if lastLoadedAt != nil {
		status.LastLoadedAt = *lastLoadedAt
	}
	if primaryValue != nil {
		status.LastPrimaryValue = *primaryValue
	}
	if primaryCol != nil {
		status.PrimaryColumnName = *primaryCol
	}
	if schemaHash != nil {
		status.SchemaHash = *schemaHash
	}
	return status, true, nil
}

// GetLastPrimaryValue returns the recorded last primary-column value for a
// table along with the column name it was recorded against. Both are empty
// when nothing was recorded.
func (s *Store) GetLastPrimaryValue(ctx context.Context, table string) (value, column string, err error) {
	status, found, err := s.GetStatus(ctx, table)
	if err != nil || !found {
		return "", "", err
	}
	return status.LastPrimaryValue, status.PrimaryColumnName, nil
}
