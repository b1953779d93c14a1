// internal/etl/export.go
package etl

import (
	"encoding/csv"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"

	"github.com/aviatools/unipix-etl/internal/report"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ExportCSV writes fetched report records to dir as a timestamped CSV and
// returns the file path. The column order is the first-seen order of keys
// across all records, and the file opens with a BOM so spreadsheet tools
// pick up the UTF-8 encoding.
func ExportCSV(fs afero.Fs, dir string, records []report.Record, now time.Time) (string, error) {
	if len(records) == 0 {
		return "", fmt.Errorf("nothing to export")
	}

	columns := collectColumns(records)
	path := filepath.Join(dir, fmt.Sprintf("unipix_relatorio_%s.csv", now.Format("20060102_150405")))

	f, err := fs.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString("\uFEFF"); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return "", fmt.Errorf("failed to write header: %w", err)
	}
	for _, record := range records {
		row := make([]string, len(columns))
		for i, col := range columns {
			row[i] = formatValue(record[col])
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("failed to write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush export file: %w", err)
	}
	return path, nil
}

func collectColumns(records []report.Record) []string {
	var columns []string
	seen := make(map[string]struct{})
	for _, record := range records {
		for key := range record {
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				columns = append(columns, key)
			}
		}
	}
	// Map iteration order is random; make the layout reproducible by sorting
	// keys first seen in the same record.
	sortColumns(columns, records[0])
	return columns
}

// sortColumns orders the first record's keys alphabetically and keeps later
// additions appended after them in discovery order.
func sortColumns(columns []string, first report.Record) {
	inFirst := func(c string) bool { _, ok := first[c]; return ok }
	firstKeys := make([]string, 0, len(first))
	rest := make([]string, 0)
	for _, c := range columns {
		if inFirst(c) {
			firstKeys = append(firstKeys, c)
		} else {
			rest = append(rest, c)
		}
	}
	sort.Strings(firstKeys)
	copy(columns, append(firstKeys, rest...))
}

// formatValue renders a decoded JSON value the way the report consumers
// expect: integral floats without the decimal point, nested structures as
// compact JSON.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		encoded, err := json.MarshalToString(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return encoded
	}
}
