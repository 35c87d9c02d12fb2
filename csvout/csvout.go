// Package csvout writes the pipeline's tables to CSV files in a local
// output directory. Every file is written atomically: content lands in
// a temporary file which is renamed into place, so a failure never
// leaves a partial table behind.
package csvout

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/okwatch/donorwall/transform"

	"github.com/gocarina/gocsv"
)

// SummaryFileName is the donor totals table's file name.
const SummaryFileName = "donor-totals.csv"

// WriteError reports a table that could not be written.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// WriteTables writes a full run's output: the donor totals table and
// every wall table. Stale .csv files from a previous run are removed
// first so the directory holds exactly this run's tables.
func WriteTables(dir string, rows []transform.SummaryRow, walls []transform.Wall) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &WriteError{Path: dir, Err: err}
	}
	if err := removeStaleTables(dir); err != nil {
		return err
	}
	if err := WriteSummary(dir, rows); err != nil {
		return err
	}
	for _, wall := range walls {
		if err := WriteWall(dir, wall); err != nil {
			return err
		}
	}
	return nil
}

// WriteSummary writes the donor totals table: a header line followed by
// one line per row, standard CSV escaping.
func WriteSummary(dir string, rows []transform.SummaryRow) error {
	path := filepath.Join(dir, SummaryFileName)
	var buf bytes.Buffer
	if err := gocsv.Marshal(&rows, &buf); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if err := writeAtomic(path, buf.Bytes()); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return nil
}

// WriteWall writes one giving-wall table in the table plugin's import
// format: no header, the level label as a single-cell row wherever the
// level changes, then one single-cell row per donor, every field
// quoted, CRLF line endings.
func WriteWall(dir string, wall transform.Wall) error {
	path := filepath.Join(dir, wall.Name+".csv")

	var buf bytes.Buffer
	currentLevel := ""
	for _, entry := range wall.Entries {
		if entry.Level != currentLevel {
			currentLevel = entry.Level
			writeQuotedRow(&buf, entry.Level)
		}
		writeQuotedRow(&buf, entry.Name)
	}

	if err := writeAtomic(path, buf.Bytes()); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return nil
}

// writeQuotedRow appends one CSV row with every field quoted, which
// encoding/csv cannot be asked to do. Embedded quotes are doubled.
func writeQuotedRow(buf *bytes.Buffer, fields ...string) {
	for i, field := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(strings.ReplaceAll(field, `"`, `""`))
		buf.WriteByte('"')
	}
	buf.WriteString("\r\n")
}

// removeStaleTables deletes the .csv files a previous run left in dir.
func removeStaleTables(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &WriteError{Path: dir, Err: err}
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			return &WriteError{Path: path, Err: err}
		}
	}
	return nil
}

// writeAtomic writes data to path via a temporary file in the same
// directory, renamed into place only once fully written.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp")
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	committed = true
	return nil
}
