package query

import "strings"

// DefaultSortKey is the public sort key used when the caller's choice is unknown.
const DefaultSortKey = "created_at"

// Sort is a resolved, allow-listed ordering.
type Sort struct {
	Key    string
	Column string
	Desc   bool

	tiebreak string
}

// SortSpec is a per-entity allow-list mapping public sort keys to column expressions.
type SortSpec struct {
	columns  map[string]string
	tiebreak string
}

// NewSortSpec builds an allow-list. The map must contain DefaultSortKey; if it does not,
// the default resolves to the bare created_at column.
func NewSortSpec(columns map[string]string, tiebreak string) SortSpec {
	cp := make(map[string]string, len(columns))
	for k, v := range columns {
		if ValidIdentifier(v) {
			cp[strings.ToLower(k)] = v
		}
	}
	if _, ok := cp[DefaultSortKey]; !ok {
		cp[DefaultSortKey] = DefaultSortKey
	}
	if !ValidIdentifier(tiebreak) {
		tiebreak = ""
	}
	return SortSpec{columns: cp, tiebreak: tiebreak}
}

// Resolve validates key and direction. An unknown key yields the default column
// and default direction regardless of direction; an unknown direction yields DESC.
func (s SortSpec) Resolve(key, direction string) Sort {
	k := strings.ToLower(strings.TrimSpace(key))
	col, ok := s.columns[k]
	if !ok {
		return s.Default()
	}
	desc := true
	if strings.EqualFold(strings.TrimSpace(direction), "asc") {
		desc = false
	}
	return Sort{Key: k, Column: col, Desc: desc, tiebreak: s.tiebreak}
}

// Default returns created_at descending.
func (s SortSpec) Default() Sort {
	col := s.columns[DefaultSortKey]
	if col == "" {
		col = DefaultSortKey
	}
	return Sort{Key: DefaultSortKey, Column: col, Desc: true, tiebreak: s.tiebreak}
}

// Direction returns ASC or DESC.
func (s Sort) Direction() string {
	if s.Desc {
		return "DESC"
	}
	return "ASC"
}

// Clause renders the ORDER BY clause.
func (s Sort) Clause() string {
	col := s.Column
	if !ValidIdentifier(col) {
		col = DefaultSortKey
	}
	out := "ORDER BY " + col + " " + s.Direction()
	if s.tiebreak != "" && s.tiebreak != col {
		out += ", " + s.tiebreak + " " + s.Direction()
	}
	return out
}
