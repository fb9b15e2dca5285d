package batch

import (
	"encoding/csv"
	"fmt"
	"os"
	"regexp"

	"github.com/mossyoak/genfetch/internal/condense"
	"github.com/mossyoak/genfetch/internal/model"
)

// ReadColumn reads one named column from a CSV file with a header row.
func ReadColumn(path, column string) ([]string, error) {
	header, rows, err := ReadRows(path)
	if err != nil {
		return nil, err
	}

	found := false
	for _, h := range header {
		if h == column {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("column %q not found in %s", column, path)
	}

	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row[column])
	}
	return out, nil
}

// ReadRows reads a CSV file with a header row into the header and one map
// per data row.
func ReadRows(path string) ([]string, []map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // ragged rows tolerated

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("%s is empty", path)
	}

	header := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

// WriteTable writes an uncondensed table as delimited text with a header
// row. With appendMode set and an existing destination, rows are appended
// without a header; the caller is trusted to be appending compatible data.
func WriteTable(path string, t model.Table, appendMode bool) error {
	cols := t.Columns()
	records := make([][]string, 0, t.Len())
	for _, row := range t.Rows {
		flat := row.Flat()
		rec := make([]string, len(cols))
		for i, col := range cols {
			rec[i] = flat[col]
		}
		records = append(records, rec)
	}
	return writeCSV(path, cols, records, appendMode)
}

// WriteResult writes a condensed result the same way.
func WriteResult(path string, res *condense.Result, appendMode bool) error {
	records := make([][]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		rec := make([]string, len(res.Columns))
		for i, col := range res.Columns {
			rec[i] = row[col]
		}
		records = append(records, rec)
	}
	return writeCSV(path, res.Columns, records, appendMode)
}

// WriteRecords writes arbitrary pre-built records under a header row,
// with the same append semantics as WriteTable.
func WriteRecords(path string, header []string, records [][]string, appendMode bool) error {
	return writeCSV(path, header, records, appendMode)
}

var extensionRe = regexp.MustCompile(`\.[^.]{3,4}$`)

// UncondensedPath derives the side-file name used for raw data when the
// main output is condensed.
func UncondensedPath(path string) string {
	if extensionRe.MatchString(path) {
		return extensionRe.ReplaceAllString(path, "_uncondensed.csv")
	}
	return path + "_uncondensed.csv"
}

func writeCSV(path string, header []string, records [][]string, appendMode bool) error {
	appending := false
	if appendMode {
		if _, err := os.Stat(path); err == nil {
			appending = true
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if appending {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	if !appending {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("failed to write rows to %s: %w", path, err)
	}
	w.Flush()
	return w.Error()
}
