// Package schema memoizes per-table column metadata from the staging engine
// so repeated strategy decisions avoid redundant introspection queries.
package schema

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"sync"

	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/mysqldb"
)

// TableSchema is the cached metadata for one staging table.
type TableSchema struct {
	Table       string
	Columns     []string
	ColumnTypes map[string]string
	PrimaryKeys []string
	Hash        string
}

// Cache is an explicit, loader-owned schema cache. Safe for concurrent use.
// There is deliberately no package-level instance; the Loader constructs one
// and passes it to whatever needs schema lookups.
type Cache struct {
	mu      sync.RWMutex
	db      *sql.DB
	entries map[string]*TableSchema
}

// NewCache builds an empty cache reading through to the given staging pool.
func NewCache(db *sql.DB) *Cache {
	return &Cache{db: db, entries: make(map[string]*TableSchema)}
}

// Get returns the schema for a table, fetching and memoizing on first use.
func (c *Cache) Get(ctx context.Context, table string) (*TableSchema, error) {
	c.mu.RLock()
	entry, ok := c.entries[table]
	c.mu.RUnlock()
	if ok {
		return entry, nil
	}

	columns, columnTypes, err := mysqldb.GetColumnTypes(ctx, c.db, table)
	if err != nil {
		return nil, err
	}
	pks, err := mysqldb.GetPrimaryKeys(ctx, c.db, table)
	if err != nil {
		return nil, err
	}
	entry = &TableSchema{
		Table:       table,
		Columns:     columns,
		ColumnTypes: columnTypes,
		PrimaryKeys: pks,
		Hash:        HashColumns(columns, columnTypes),
	}

	c.mu.Lock()
	c.entries[table] = entry
	c.mu.Unlock()
	return entry, nil
}

// Invalidate drops a table's cached entry, forcing a refetch on next Get.
func (c *Cache) Invalidate(table string) {
	c.mu.Lock()
	delete(c.entries, table)
	c.mu.Unlock()
}

// HashColumns computes a stable digest over ordered name:type pairs, used to
// detect schema drift between runs.
func HashColumns(columns []string, columnTypes map[string]string) string {
	h := sha256.New()
	for _, col := range columns {
		h.Write([]byte(col))
		h.Write([]byte{':'})
		h.Write([]byte(columnTypes[col]))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
