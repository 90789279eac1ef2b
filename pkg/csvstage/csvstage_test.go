package csvstage

import (
	"encoding/csv"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeStageFileName(t *testing.T) {
	name, err := MakeStageFileName("patient")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "patient_"))
	assert.True(t, strings.HasSuffix(name, ".csv"))
}

func TestWriter(t *testing.T) {
	dir := t.TempDir()
	columns := []string{"PatNum", "LName", "DateTStamp"}

	w, err := NewWriter(dir, "patient", columns)
	require.NoError(t, err)

	require.NoError(t, w.WriteRow([]any{"1", "Smith", "2024-05-01 08:30:00"}))
	require.NoError(t, w.WriteRow([]any{"2", nil,
		time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)}))
	require.NoError(t, w.WriteRow([]any{"3", "", "2024-07-01 00:00:00"}))
	require.NoError(t, w.Close())

	assert.Equal(t, int64(3), w.Rows())

	f, err := os.Open(w.Path())
	require.NoError(t, err)
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = Delimiter
	records, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Equal(t, columns, records[0])
	assert.Equal(t, []string{"1", "Smith", "2024-05-01 08:30:00"}, records[1])
	// NULL stages as the null marker so it stays distinct from an empty
	// string; timestamps use the standard layout.
	assert.Equal(t, []string{"2", NullMarker, "2024-06-15 12:00:00"}, records[2])
	assert.Equal(t, []string{"3", "", "2024-07-01 00:00:00"}, records[3])
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, NullMarker, formatValue(nil))
	assert.Equal(t, "", formatValue(""))
	assert.Equal(t, "abc", formatValue("abc"))
	assert.Equal(t, "abc", formatValue([]byte("abc")))
	assert.Equal(t, "42", formatValue(int64(42)))
	assert.Equal(t, "2024-01-02 03:04:05",
		formatValue(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
}
