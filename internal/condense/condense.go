// Package condense maps the wide, ragged column set of fetched records
// onto canonical output schemas and applies the per-record-type validity
// filters.
package condense

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/mossyoak/genfetch/internal/common"
	"github.com/mossyoak/genfetch/internal/model"
)

// Mapping is a condensation schema: canonical output columns in document
// order, each with an ordered list of source column aliases that may supply
// its value.
type Mapping struct {
	Columns []string
	Aliases map[string][]string
}

// LoadMapping reads a condensation mapping document. The document is a
// JSON object from canonical column name to a list of aliases; object key
// order defines output column order. An unparsable document is fatal.
func LoadMapping(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading mapping %s: %v", common.ErrMissingConfig, path, err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: mapping %s is not valid JSON", common.ErrInvalidConfig, path)
	}

	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: mapping %s must be a JSON object", common.ErrInvalidConfig, path)
	}

	m := &Mapping{Aliases: make(map[string][]string)}
	root.ForEach(func(key, value gjson.Result) bool {
		col := key.String()
		m.Columns = append(m.Columns, col)
		if value.IsArray() {
			for _, alias := range value.Array() {
				m.Aliases[col] = append(m.Aliases[col], alias.String())
			}
		} else {
			m.Aliases[col] = append(m.Aliases[col], value.String())
		}
		return true
	})
	return m, nil
}

// Result is a condensed table: fixed canonical columns and one flat record
// per input row.
type Result struct {
	Columns []string
	Rows    []map[string]string
}

// Condense projects a table onto the mapping's canonical columns. For each
// row and canonical column, the first alias with a non-missing value wins;
// later aliases only fill gaps left by earlier ones. Exact duplicate rows
// are dropped afterwards.
func Condense(t model.Table, m *Mapping) *Result {
	out := &Result{Columns: m.Columns}

	seen := make(map[string]struct{})
	for _, row := range t.Rows {
		flat := row.Flat()

		rec := make(map[string]string, len(m.Columns))
		for _, col := range m.Columns {
			for _, alias := range m.Aliases[col] {
				if v := flat[alias]; v != "" {
					rec[col] = v
					break
				}
			}
		}

		key := recordKey(rec, m.Columns)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out.Rows = append(out.Rows, rec)
	}
	return out
}

func recordKey(rec map[string]string, columns []string) string {
	var b strings.Builder
	for _, col := range columns {
		b.WriteString(rec[col])
		b.WriteByte(0)
	}
	return b.String()
}

// NormalizeYear derives a numeric year from a field value: either the
// value is already numeric, or its trailing four digits are taken (month
// prefixes like "Jun 1900" are common). ok is false when no year can be
// derived.
func NormalizeYear(value string) (int, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	if y, err := strconv.Atoi(value); err == nil {
		return y, true
	}
	if len(value) >= 4 {
		if y, err := strconv.Atoi(value[len(value)-4:]); err == nil {
			return y, true
		}
	}
	return 0, false
}

// FilterCensus keeps only rows whose year resolves to a decade year;
// census enumerations happen on multiples of ten, so anything else is a
// state or special census. The year column is rewritten in normalized
// form.
func FilterCensus(res *Result) *Result {
	out := &Result{Columns: res.Columns}
	for _, rec := range res.Rows {
		year, ok := NormalizeYear(rec["year"])
		if !ok || year%10 != 0 {
			continue
		}
		rec["year"] = strconv.Itoa(year)
		out.Rows = append(out.Rows, rec)
	}
	return out
}

// FilterDeaths drops rows lacking a death date.
func FilterDeaths(res *Result) *Result {
	out := &Result{Columns: res.Columns}
	for _, rec := range res.Rows {
		if rec["death_date"] == "" {
			continue
		}
		out.Rows = append(out.Rows, rec)
	}
	return out
}
