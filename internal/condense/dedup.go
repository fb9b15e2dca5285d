package condense

import (
	"github.com/mossyoak/genfetch/internal/model"
)

// Dedup resolves competing records for the same person and time period.
// Non-subject rows are dropped first; among subject rows sharing a person
// identifier and a derived year, only the row with the strictly highest
// confidence score survives. When the highest score is tied the whole
// group is dropped: there is no single best match to trust. Rows whose
// year cannot be derived are never treated as duplicates.
func Dedup(t model.Table) model.Table {
	type key struct {
		pid  string
		year int
	}

	counts := make(map[key]int)
	keyFor := func(r model.Row) (key, bool) {
		year, ok := NormalizeYear(r.Fields["year"])
		if !ok {
			return key{}, false
		}
		return key{pid: r.PID, year: year}, true
	}

	var subjects []model.Row
	for _, r := range t.Rows {
		if !r.Subject {
			continue
		}
		subjects = append(subjects, r)
		if k, ok := keyFor(r); ok {
			counts[k]++
		}
	}

	// For each contested (person, year), find the top score and whether
	// it is unique.
	type best struct {
		score   float64
		ties    int
		started bool
	}
	bests := make(map[key]*best)
	for _, r := range subjects {
		k, ok := keyFor(r)
		if !ok || counts[k] < 2 {
			continue
		}
		b := bests[k]
		if b == nil {
			b = &best{}
			bests[k] = b
		}
		switch {
		case !b.started || r.Score > b.score:
			b.started = true
			b.score = r.Score
			b.ties = 1
		case r.Score == b.score:
			b.ties++
		}
	}

	var out model.Table
	for _, r := range subjects {
		k, ok := keyFor(r)
		if ok && counts[k] > 1 {
			b := bests[k]
			if b.ties != 1 || r.Score != b.score {
				continue
			}
		}
		out.Append(r)
	}
	return out
}
