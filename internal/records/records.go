// Copyright (c) 2024 Netskope, Inc. All rights reserved.

// Package records holds the flat key/value inventory that every stage of the
// cleanup pipeline reads and writes.
package records

import (
	"path/filepath"
	"sort"
	"strings"
)

// Identity columns, in the order they lead every exported schema.
const (
	FieldID          = "id"
	FieldDestination = "destination"
	FieldType        = "type"
	FieldComment     = "comment"
	FieldCreatedAt   = "createdAt"
	FieldModifiedAt  = "modifiedAt"
	FieldObserved    = "observedInDefender"
)

// PreferredOrder is the fixed leading column order of an exported schema.
var PreferredOrder = []string{FieldID, FieldDestination, FieldType, FieldComment, FieldCreatedAt}

// Record is one destination entry. Values are kept as strings; only a few
// fields are interpreted.
type Record map[string]string

// Get returns the trimmed value of key, or "" if absent.
func (r Record) Get(key string) string {
	return strings.TrimSpace(r[key])
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// RecordSet is an ordered sequence of records sharing one column schema.
type RecordSet struct {
	Columns []string
	Records []Record
}

// New builds a RecordSet whose schema is SchemaFor(recs).
func New(recs []Record) RecordSet {
	return RecordSet{Columns: SchemaFor(recs), Records: recs}
}

// Len returns the number of records.
func (rs RecordSet) Len() int {
	return len(rs.Records)
}

// HasColumn reports whether name is part of the schema.
func (rs RecordSet) HasColumn(name string) bool {
	for _, c := range rs.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// WithColumn returns a set whose schema includes name, appended at the end if
// it was missing. Records are shared with rs.
func (rs RecordSet) WithColumn(name string) RecordSet {
	cols := append([]string(nil), rs.Columns...)
	if !rs.HasColumn(name) {
		cols = append(cols, name)
	}
	return RecordSet{Columns: cols, Records: rs.Records}
}

// WithRecords returns a set with the same schema and the given records.
func (rs RecordSet) WithRecords(recs []Record) RecordSet {
	return RecordSet{Columns: append([]string(nil), rs.Columns...), Records: recs}
}

// Clean returns the set restricted to non-empty column names. Every record is
// rewritten so it carries exactly the clean columns.
func (rs RecordSet) Clean() RecordSet {
	var cols []string
	for _, c := range rs.Columns {
		if c != "" {
			cols = append(cols, c)
		}
	}
	recs := make([]Record, 0, len(rs.Records))
	for _, r := range rs.Records {
		clean := make(Record, len(cols))
		for _, c := range cols {
			clean[c] = r[c]
		}
		recs = append(recs, clean)
	}
	return RecordSet{Columns: cols, Records: recs}
}

// SchemaFor computes the column schema for recs: the preferred identity
// columns first, then every other key seen in any record, alphabetically.
func SchemaFor(recs []Record) []string {
	seen := make(map[string]struct{})
	for _, r := range recs {
		for k := range r {
			seen[k] = struct{}{}
		}
	}

	cols := append([]string(nil), PreferredOrder...)
	preferred := make(map[string]struct{}, len(PreferredOrder))
	for _, c := range PreferredOrder {
		preferred[c] = struct{}{}
	}

	var rest []string
	for k := range seen {
		if _, ok := preferred[k]; !ok {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(cols, rest...)
}

// SiblingPath returns path with its extension replaced by suffix, e.g.
// SiblingPath("a/list.csv", "_to_delete.csv") == "a/list_to_delete.csv".
func SiblingPath(path, suffix string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + suffix
}
