// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "strings"

// Query describes one bulk search: free text, a publication-year filter, and
// the record fields to request. A Query is immutable for the duration of a
// run; the continuation cursor is tracked separately by the harvest loop.
type Query struct {
	// Text is the free-text query. The API's boolean syntax is passed
	// through verbatim (e.g. `("large language model" | "LLM")`).
	Text string `json:"text" yaml:"text"`

	// Year filters by publication year: a single year ("2025") or a
	// range ("2020-2025").
	Year string `json:"year,omitempty" yaml:"year,omitempty"`

	// Fields lists the record fields to request, in order. Joined with
	// commas on the wire.
	Fields []string `json:"fields" yaml:"fields"`
}

// IsEmpty reports whether the query contains no searchable text.
func (q Query) IsEmpty() bool {
	return strings.TrimSpace(q.Text) == ""
}

// FieldList returns the fields formatted for the API's fields parameter.
func (q Query) FieldList() string {
	return strings.Join(q.Fields, ",")
}
