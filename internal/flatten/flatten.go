// Package flatten converts nested record documents into flat per-person
// rows. Record documents carry their fields as (labelId, text) pairs
// scattered through an arbitrarily nested tree; the walk here recovers them
// in document order.
package flatten

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/mossyoak/genfetch/internal/model"
)

// arkRe extracts the persistent identifier suffix from an ark-style URI.
var arkRe = regexp.MustCompile(`[^:]{4}-[^:]{3}$`)

// persistentIdentifierType keys the durable identifier list inside a
// person's identifiers map.
const persistentIdentifierType = "http://gedcomx.org/Persistent"

// descriptionPrefixLen is the length of the fixed prefix on a document's
// description reference ("#SD-" style); what follows is the subject
// person's id.
const descriptionPrefixLen = 4

// ArkSuffix returns the ark id suffix of an ark-style URI, or "" when the
// string does not end in one.
func ArkSuffix(s string) string {
	return arkRe.FindString(s)
}

// accumulator collects values per lowercased label in encounter order.
// A literal `;` inside a value is rewritten to `:` so the per-label join
// stays reversible.
type accumulator struct {
	order  []string
	values map[string][]string
}

func newAccumulator() *accumulator {
	return &accumulator{values: make(map[string][]string)}
}

func (a *accumulator) add(label, value string) {
	if _, ok := a.values[label]; !ok {
		a.order = append(a.order, label)
	}
	a.values[label] = append(a.values[label], strings.ReplaceAll(value, ";", ":"))
}

// walk descends one object, recursing into object values and object-valued
// list elements, and scanning this object's own scalar pairs for the
// labelId/text protocol. The armed label never leaks across object
// boundaries: each object's key iteration carries its own state.
func walk(obj gjson.Result, acc *accumulator) {
	label := ""
	armed := false

	obj.ForEach(func(key, value gjson.Result) bool {
		if value.IsObject() {
			walk(value, acc)
			return true
		}
		if value.IsArray() {
			value.ForEach(func(_, elem gjson.Result) bool {
				if elem.IsObject() {
					walk(elem, acc)
				}
				return true
			})
			return true
		}

		switch key.String() {
		case "labelId":
			label = strings.ToLower(value.String())
			armed = true
		case "text":
			if armed {
				acc.add(label, value.String())
				armed = false
			}
		}
		return true
	})
}

// subjectIndex resolves which entry of the top-level persons list the
// document is about: the description value minus its fixed prefix names the
// subject person's id. Defaults to 0 when resolution fails.
func subjectIndex(root gjson.Result) int {
	desc := root.Get("description").String()
	if len(desc) <= descriptionPrefixLen {
		return 0
	}
	keep := desc[descriptionPrefixLen:]

	for i, p := range root.Get("persons").Array() {
		if p.Get("id").String() == keep {
			return i
		}
	}
	return 0
}

// personaArks extracts one ark suffix per entry of the persons list from
// their persistent identifiers. ok is false when any person lacks a
// resolvable identifier.
func personaArks(root gjson.Result) ([]string, bool) {
	persons := root.Get("persons").Array()
	if len(persons) == 0 {
		return nil, false
	}

	arks := make([]string, 0, len(persons))
	for _, p := range persons {
		var raw string
		p.Get("identifiers").ForEach(func(key, value gjson.Result) bool {
			if key.String() == persistentIdentifierType {
				raw = value.Get("0").String()
				return false
			}
			return true
		})

		ark := ArkSuffix(raw)
		if ark == "" {
			return nil, false
		}
		arks = append(arks, ark)
	}
	return arks, true
}

// labelValues returns the flat label-to-value projection of a document:
// every labelId/text pair in the tree, lowercased, with repeated labels
// joined by `;` in encounter order.
func labelValues(doc []byte) map[string]string {
	acc := newAccumulator()
	walk(gjson.ParseBytes(doc), acc)

	out := make(map[string]string, len(acc.values))
	for label, vs := range acc.values {
		out[label] = strings.Join(vs, ";")
	}
	return out
}

// Flatten walks a record document and produces one row per person
// mentioned in it, plus the index of the subject row. requestedArk is the
// ark id the document was fetched under; it is used as a best-effort ark
// for the subject row when per-person identifiers cannot be resolved.
func Flatten(doc []byte, requestedArk string) ([]model.Row, int) {
	root := gjson.ParseBytes(doc)

	acc := newAccumulator()
	walk(root, acc)
	subject := subjectIndex(root)

	// Each label's accumulated value list spans the persons of the
	// document in order; transposing the lists yields one row per person.
	n := 0
	for _, vs := range acc.values {
		if len(vs) > n {
			n = len(vs)
		}
	}
	if n == 0 {
		return nil, subject
	}

	rows := make([]model.Row, n)
	for i := range rows {
		rows[i].Fields = make(map[string]string)
		rows[i].Subject = i == subject
	}
	for _, label := range acc.order {
		for i, v := range acc.values[label] {
			rows[i].Fields[label] = v
		}
	}

	if arks, ok := personaArks(root); ok && len(arks) == n {
		for i := range rows {
			rows[i].ArkID = arks[i]
		}
	} else if subject < n {
		rows[subject].ArkID = requestedArk
	}

	return rows, subject
}
