// Package model defines the core data types shared across the application.
package model

import (
	"sort"
	"strconv"
)

// Reserved column names used when rows are projected into flat records.
// They carry provenance rather than record fields and always sort after
// the field columns.
const (
	ColArkID   = "ark_id"
	ColSubject = "is_subject"
	ColScore   = "score"
	ColPID     = "PID"
)

// Row is one person entry extracted from a record document. Fields maps
// lowercased field labels to their values; a repeated label within one
// person's fields accumulates into a single value at flatten time.
type Row struct {
	Fields  map[string]string
	PID     string
	ArkID   string
	Score   float64
	Subject bool
}

// Flat projects the row into a single flat record, exposing provenance as
// ordinary columns so downstream condensation can treat them uniformly.
// Missing values are empty strings.
func (r Row) Flat() map[string]string {
	out := make(map[string]string, len(r.Fields)+4)
	for k, v := range r.Fields {
		out[k] = v
	}
	out[ColArkID] = r.ArkID
	out[ColSubject] = boolFlag(r.Subject)
	out[ColScore] = FormatScore(r.Score)
	out[ColPID] = r.PID
	return out
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// FormatScore renders a confidence score the way it appears in output files.
func FormatScore(score float64) string {
	return strconv.FormatFloat(score, 'g', -1, 64)
}

// Table is an ordered collection of rows, typically everything fetched for
// one batch. Rows from one person's records stay contiguous and in
// discovery order.
type Table struct {
	Rows []Row
}

// Append adds rows to the end of the table.
func (t *Table) Append(rows ...Row) {
	t.Rows = append(t.Rows, rows...)
}

// Len returns the number of rows.
func (t Table) Len() int {
	return len(t.Rows)
}

// Columns returns the union of field labels across all rows, sorted, with
// the provenance columns appended last in a fixed order. The ordering is
// deterministic so repeated runs produce identical headers.
func (t Table) Columns() []string {
	seen := make(map[string]struct{})
	for _, row := range t.Rows {
		for k := range row.Fields {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen)+4)
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return append(cols, ColArkID, ColSubject, ColScore, ColPID)
}
