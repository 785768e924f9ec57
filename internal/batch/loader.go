// Package batch loads child rows for a page of parents in a single round trip.
package batch

import (
	"context"
	"fmt"
	"strings"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/query"
)

// Groups maps parent ids to their children in store order.
type Groups[K comparable, V any] map[K][]V

// Get returns the children of k, or an empty slice.
func (g Groups[K, V]) Get(k K) []V {
	if v, ok := g[k]; ok && v != nil {
		return v
	}
	return []V{}
}

// Spec describes one child table.
type Spec[K comparable, V any] struct {
	Table      string
	ForeignKey string
	Columns    []string
	OrderBy    string
	Scan       func(db.Row) (V, error)
	Key        func(V) K
}

// Loader issues exactly one query per Load call with a non-empty id set.
type Loader[K comparable, V any] struct {
	spec Spec[K, V]
}

// NewLoader validates identifiers once so Load never needs to.
func NewLoader[K comparable, V any](spec Spec[K, V]) (*Loader[K, V], error) {
	if !query.ValidIdentifier(spec.Table) || !query.ValidIdentifier(spec.ForeignKey) {
		return nil, fmt.Errorf("batch: invalid table or key %q.%q", spec.Table, spec.ForeignKey)
	}
	for _, c := range spec.Columns {
		if !query.ValidIdentifier(c) {
			return nil, fmt.Errorf("batch: invalid column %q", c)
		}
	}
	if spec.OrderBy != "" {
		for _, part := range strings.Split(spec.OrderBy, ",") {
			if !query.ValidIdentifier(strings.TrimSpace(part)) {
				return nil, fmt.Errorf("batch: invalid order %q", spec.OrderBy)
			}
		}
	}
	if spec.Scan == nil || spec.Key == nil {
		return nil, fmt.Errorf("batch: scan and key functions required")
	}
	return &Loader[K, V]{spec: spec}, nil
}

// MustLoader is NewLoader for package-level specs.
func MustLoader[K comparable, V any](spec Spec[K, V]) *Loader[K, V] {
	l, err := NewLoader(spec)
	if err != nil {
		panic(err)
	}
	return l
}

// Load fetches children of every id. No ids means no query. Every requested id
// is present in the result, possibly with no children.
func (l *Loader[K, V]) Load(ctx context.Context, q db.Querier, ids []K) (Groups[K, V], error) {
	groups := make(Groups[K, V], len(ids))
	unique := make([]K, 0, len(ids))
	for _, id := range ids {
		if _, seen := groups[id]; seen {
			continue
		}
		groups[id] = []V{}
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return groups, nil
	}

	where, args := query.New().In(l.spec.ForeignKey, query.Values(unique)).Where()
	if where == "" {
		return groups, nil
	}
	cols := "*"
	if len(l.spec.Columns) > 0 {
		cols = strings.Join(l.spec.Columns, ", ")
	}
	sql := "SELECT " + cols + " FROM " + l.spec.Table + " " + where
	if l.spec.OrderBy != "" {
		sql += " ORDER BY " + l.spec.OrderBy
	}

	rows, err := q.Select(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("batch: load %s: %w", l.spec.Table, err)
	}
	for _, row := range rows {
		child, err := l.spec.Scan(row)
		if err != nil {
			return nil, fmt.Errorf("batch: scan %s: %w", l.spec.Table, err)
		}
		k := l.spec.Key(child)
		groups[k] = append(groups[k], child)
	}
	return groups, nil
}
