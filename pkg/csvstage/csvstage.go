// Package csvstage stages rows to a delimited temporary file for the
// bulk-file load strategy.
package csvstage

import (
	"crypto/rand"
	"encoding/csv"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/StevenACoffman/anotherr/errors"
)

// Delimiter matches the COPY statement on the target side.
const Delimiter = '^'

// NullMarker stages NULL distinctly from the empty string; the COPY statement
// on the target side names the same marker in its NULL option.
const NullMarker = `\N`

// MakeStageFileName adds a random suffix to avoid collisions when two runs
// stage the same table concurrently.
func MakeStageFileName(tableName string) (string, error) {
	nBig, err := rand.Int(rand.Reader, big.NewInt(1000))
	if err != nil {
		return "", errors.Wrap(err, "Unable to generate random number")
	}
	return fmt.Sprintf("%s_%d.csv", tableName, nBig), nil
}

// Writer streams rows into a '^'-delimited CSV file with a header row.
// Close the writer, then hand the file path to the COPY loader; the caller
// owns removal of the file.
type Writer struct {
	file    *os.File
	csv     *csv.Writer
	path    string
	rows    int64
	columns int
}

// NewWriter creates the stage file in dir (os.TempDir when empty) and writes
// the header record.
func NewWriter(dir, tableName string, columns []string) (*Writer, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	name, err := MakeStageFileName(tableName)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "Unable to create stage file "+path)
	}
	w := csv.NewWriter(file)
	w.Comma = Delimiter
	if err = w.Write(columns); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return nil, errors.Wrap(err, "Unable to write stage header for "+tableName)
	}
	return &Writer{file: file, csv: w, path: path, columns: len(columns)}, nil
}

// WriteRow appends one row of values.
func (w *Writer) WriteRow(values []any) error {
	record := make([]string, len(values))
	for i, v := range values {
		record[i] = formatValue(v)
	}
	if err := w.csv.Write(record); err != nil {
		return errors.Wrapf(err, "Unable to write stage row %d", w.rows+1)
	}
	w.rows++
	return nil
}

// Rows returns the number of data rows written so far.
func (w *Writer) Rows() int64 { return w.rows }

// Path returns the stage file location.
func (w *Writer) Path() string { return w.path }

// Close flushes and closes the stage file.
func (w *Writer) Close() error {
	w.csv.Flush()
	flushErr := w.csv.Error()
	closeErr := w.file.Close()
	if flushErr != nil {
		return errors.Wrap(flushErr, "Unable to flush stage file "+w.path)
	}
	return errors.Wrap(closeErr, "Unable to close stage file "+w.path)
}

// formatValue renders a staging value the way the target's CSV COPY expects:
// NULL as the null marker (an empty field would read back as NULL too, losing
// genuine empty strings), timestamps in the standard layout.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return NullMarker
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprintf("%v", val)
	}
}
