// Package match resolves person identifiers from identifying information
// via the tree match search.
package match

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mossyoak/genfetch/internal/api"
	"github.com/mossyoak/genfetch/internal/common"
)

// ColumnMap translates input column names to the API's search parameter
// names. Columns absent from the map are ignored.
type ColumnMap map[string]string

// LoadColumnMap reads a column map document. An unparsable document is a
// fatal configuration error.
func LoadColumnMap(path string) (ColumnMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading column map %s: %v", common.ErrMissingConfig, path, err)
	}

	var cmap ColumnMap
	if err := json.Unmarshal(data, &cmap); err != nil {
		return nil, fmt.Errorf("%w: parsing column map %s: %v", common.ErrInvalidConfig, path, err)
	}
	return cmap, nil
}

// FormatQuery renders search parameters in the API's query form:
// `field:value` terms joined by `+`, with multi-word values quoted and
// their words joined by `+`. Fields are emitted in sorted order so the
// same inputs always produce the same query.
func FormatQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	terms := make([]string, 0, len(keys))
	for _, k := range keys {
		words := strings.Fields(params[k])
		switch {
		case len(words) > 1:
			terms = append(terms, fmt.Sprintf("%s:%q", k, strings.Join(words, "+")))
		case len(words) == 1:
			terms = append(terms, fmt.Sprintf("%s:%s", k, words[0]))
		}
	}
	return strings.Join(terms, "+")
}

// Searcher runs identity match queries. Satisfied by *api.Client.
type Searcher interface {
	TreeMatches(ctx context.Context, query string) ([]api.SearchEntry, error)
}

// Candidate is one possible person match.
type Candidate struct {
	PID   string
	Score float64
}

// MaxCandidates bounds how many matches are kept per person; the API
// returns best matches first.
const MaxCandidates = 3

// Finder resolves identifying fields to candidate person identifiers.
type Finder struct {
	api  Searcher
	cmap ColumnMap
}

// NewFinder creates a finder using the given column map to translate input
// columns to search parameters.
func NewFinder(searcher Searcher, cmap ColumnMap) *Finder {
	return &Finder{api: searcher, cmap: cmap}
}

// Best returns up to MaxCandidates matches for the identifying fields of
// one person, keyed by input column name. An empty result is not an error.
func (f *Finder) Best(ctx context.Context, fields map[string]string) ([]Candidate, error) {
	params := make(map[string]string)
	for col, value := range fields {
		param, ok := f.cmap[col]
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		params[param] = value
	}

	query := FormatQuery(params)
	if query == "" {
		return nil, nil
	}

	entries, err := f.api.TreeMatches(ctx, query)
	if err != nil {
		return nil, err
	}

	if len(entries) > MaxCandidates {
		entries = entries[:MaxCandidates]
	}
	candidates := make([]Candidate, 0, len(entries))
	for _, e := range entries {
		candidates = append(candidates, Candidate{PID: e.ID, Score: e.Score})
	}
	return candidates, nil
}
