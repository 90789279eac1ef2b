package pgdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapBatchSize(t *testing.T) {
	t.Run("append cap", func(t *testing.T) {
		assert.Equal(t, 5000, CapBatchSize(5000, 4, ModeAppend))
		assert.Equal(t, appendBatchCap, CapBatchSize(50000, 4, ModeAppend))
		assert.Equal(t, appendBatchCap, CapBatchSize(0, 4, ModeAppend))
		assert.Equal(t, appendBatchCap, CapBatchSize(-1, 4, ModeAppend))
	})

	t.Run("upsert cap is tighter", func(t *testing.T) {
		assert.Equal(t, upsertBatchCap, CapBatchSize(5000, 4, ModeUpsert))
		assert.Equal(t, 2000, CapBatchSize(2000, 4, ModeUpsert))
	})

	t.Run("bind parameter limit wins over caps", func(t *testing.T) {
		// 300 columns: 60000/300 = 200 rows per statement at most.
		assert.Equal(t, 200, CapBatchSize(5000, 300, ModeAppend))
		assert.Equal(t, 200, CapBatchSize(5000, 300, ModeUpsert))
	})

	t.Run("very wide table still moves one row at a time", func(t *testing.T) {
		assert.Equal(t, 1, CapBatchSize(5000, maxBindParams, ModeAppend))
	})
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"patient"`, QuoteIdent("patient"))
	assert.Equal(t, `"PatNum"`, QuoteIdent("PatNum"))
	assert.Equal(t, `"bad"`, QuoteIdent(`ba"d`))
}

func TestUpsertSetClause(t *testing.T) {
	assert.Equal(t, `"LName" = EXCLUDED."LName", "DateTStamp" = EXCLUDED."DateTStamp"`,
		upsertSetClause([]string{"PatNum", "LName", "DateTStamp"}, []string{"PatNum"}))

	// Key-only table still needs a syntactically valid SET clause.
	assert.Equal(t, `"PatNum" = EXCLUDED."PatNum"`,
		upsertSetClause([]string{"PatNum"}, []string{"PatNum"}))
}
