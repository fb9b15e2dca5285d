// Package fetch discovers and retrieves the records attached to or matched
// against a person, flattening each into tabular rows tagged with
// provenance.
package fetch

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/mossyoak/genfetch/internal/flatten"
	"github.com/mossyoak/genfetch/internal/model"
)

// attachedScore is the confidence assigned to sources already attached to
// the person; attachment implies certainty.
const attachedScore = 1.0

// SourceRef is one discovered record reference.
type SourceRef struct {
	ArkID string
	Score float64
}

// Fetcher retrieves records for individual persons.
type Fetcher struct {
	api SourceAPI
}

// New creates a fetcher over the given API.
func New(api SourceAPI) *Fetcher {
	return &Fetcher{api: api}
}

// Discover returns the record references for a person whose titles match
// pattern: attached sources first (fixed confidence), then searched
// unattached candidates with their API-provided scores.
func (f *Fetcher) Discover(ctx context.Context, pid string, pattern *regexp.Regexp) ([]SourceRef, error) {
	attached, err := f.attachedRefs(ctx, pid, pattern)
	if err != nil {
		return nil, err
	}
	searched, err := f.searchedRefs(ctx, pid, pattern)
	if err != nil {
		return nil, err
	}
	return append(attached, searched...), nil
}

func (f *Fetcher) attachedRefs(ctx context.Context, pid string, pattern *regexp.Regexp) ([]SourceRef, error) {
	sources, err := f.api.AttachedSources(ctx, pid)
	if err != nil {
		return nil, err
	}

	var refs []SourceRef
	for _, src := range sources {
		titles := make([]string, 0, len(src.Titles))
		for _, t := range src.Titles {
			titles = append(titles, t.Value)
		}
		if !pattern.MatchString(strings.Join(titles, " ")) {
			continue
		}
		if ark := flatten.ArkSuffix(src.About); ark != "" {
			refs = append(refs, SourceRef{ArkID: ark, Score: attachedScore})
		}
	}
	return refs, nil
}

func (f *Fetcher) searchedRefs(ctx context.Context, pid string, pattern *regexp.Regexp) ([]SourceRef, error) {
	entries, err := f.api.SearchSources(ctx, pid)
	if err != nil {
		return nil, err
	}

	var refs []SourceRef
	for _, entry := range entries {
		if !pattern.MatchString(entry.Title) {
			continue
		}
		if ark := flatten.ArkSuffix(entry.ID); ark != "" {
			refs = append(refs, SourceRef{ArkID: ark, Score: entry.Score})
		}
	}
	return refs, nil
}

// RecordsForPerson fetches every matching record for a person and flattens
// it, tagging each row with the person identifier and the reference's
// confidence score. A person with no matching sources yields an empty
// table; that is not an error.
func (f *Fetcher) RecordsForPerson(ctx context.Context, pid string, pattern *regexp.Regexp) (model.Table, error) {
	var table model.Table

	refs, err := f.Discover(ctx, pid, pattern)
	if err != nil {
		return table, err
	}

	slog.Debug("Discovered sources", "pid", pid, "count", len(refs))

	for _, ref := range refs {
		doc, ok, err := f.api.PersonaRecord(ctx, ref.ArkID)
		if err != nil {
			return table, err
		}
		if !ok {
			continue
		}

		rows, _ := flatten.Flatten(doc, ref.ArkID)
		for i := range rows {
			rows[i].PID = pid
			rows[i].Score = ref.Score
		}
		table.Append(rows...)
	}
	return table, nil
}
