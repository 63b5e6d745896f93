// Package merge implements the coordinator's search result merger: a
// bounded top-K heap over every shard's replies, the SORTBY/score
// comparator, and KNN post-processing with the shard-window-ratio
// rewrite.
package merge

import (
	"strconv"
	"strings"

	"github.com/distquery/coordinator/resp"
)

// SortKey is a parsed SORTBY key: either numeric (Num, Numeric true) or a
// raw string, or altogether missing (the literal "none", any case).
type SortKey struct {
	Str     string
	Num     float64
	Numeric bool
	Missing bool
}

// ParseSortKey interprets r: a leading '#' followed by a valid f64 is
// numeric; the literal "none" (any case) means the document carries no
// sort key; anything else is a string key.
func ParseSortKey(r resp.Reply) SortKey {
	s, ok := r.AsString()
	if !ok {
		return SortKey{Str: s}
	}
	if strings.EqualFold(s, "none") {
		return SortKey{Missing: true}
	}
	if rest, found := strings.CutPrefix(s, "#"); found {
		if f, err := strconv.ParseFloat(rest, 64); err == nil {
			return SortKey{Num: f, Numeric: true}
		}
	}
	return SortKey{Str: s}
}

// Document is one row of a shard's search reply, parsed into the fields
// the merger needs to rank and re-emit it.
type Document struct {
	DocID          string
	Score          float64
	VectorScore    float64
	Payload        string
	HasPayload     bool
	SortKey        SortKey
	RequiredFields map[string]resp.Reply
	Fields         []resp.Reply
}

// RowOptions describes which optional fields a shard's per-document
// array carries, derived from the flags the coordinator appended to the
// fanned-out command.
type RowOptions struct {
	WithScores      bool
	NoSortBy        bool
	WithPayload     bool
	WithSortingKeys bool
	RequiredFields  []string
	NoContent       bool
}

// Step computes the per-document array length the coordinator derives
// once per request from the effective flags.
func (o RowOptions) Step() int {
	step := 2
	if o.WithScores || o.NoSortBy {
		step++
	}
	if o.WithPayload {
		step++
	}
	step += len(o.RequiredFields)
	if o.WithSortingKeys && len(o.RequiredFields) == 0 {
		step++
	}
	if o.NoContent {
		step--
	}
	return step
}

// ParseRow decodes one document out of a shard reply's document array,
// which is laid out as:
// [doc_id, score?, payload?, sort_key?, required_field1..n, fields?]
func ParseRow(arr []resp.Reply, o RowOptions) Document {
	var d Document
	idx := 0

	if idx < len(arr) {
		d.DocID, _ = arr[idx].AsString()
		idx++
	}
	if o.WithScores || o.NoSortBy {
		if idx < len(arr) {
			d.Score, _ = arr[idx].AsFloat64()
			idx++
		}
	}
	if o.WithPayload {
		if idx < len(arr) {
			d.Payload, d.HasPayload = arr[idx].AsString()
			idx++
		}
	}
	if o.WithSortingKeys {
		if idx < len(arr) {
			d.SortKey = ParseSortKey(arr[idx])
			idx++
		}
	}
	if len(o.RequiredFields) > 0 {
		d.RequiredFields = make(map[string]resp.Reply, len(o.RequiredFields))
		for _, name := range o.RequiredFields {
			if idx >= len(arr) {
				break
			}
			d.RequiredFields[name] = arr[idx]
			idx++
		}
	}
	if !o.NoContent && idx < len(arr) {
		d.Fields = arr[idx:]
	}
	return d
}
