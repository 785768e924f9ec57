// Package query builds parameterized predicates, allow-listed ORDER BY clauses and
// bounded pagination without ever interpolating caller-supplied values into SQL text.
//
// Every operation degrades to a no-op or a safe default on bad input; nothing in this
// package returns an error or panics.
package query

import (
	"reflect"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidIdentifier reports whether name is a plain or table-qualified column identifier.
func ValidIdentifier(name string) bool {
	return identPattern.MatchString(name)
}

// Builder accumulates AND-joined conditions. The zero value is ready to use and
// numbers placeholders from $1. Builder is immutable: every method returns a copy.
type Builder struct {
	conds []string
	args  []any
	start int
}

// New returns an empty builder.
func New() Builder {
	return Builder{}
}

// StartAt reserves placeholders below n for the caller. Values below 1 are ignored.
func (b Builder) StartAt(n int) Builder {
	if n < 1 {
		return b
	}
	out := b.clone()
	out.start = n - 1
	return out
}

// Eq appends `column = $n`. Nil, nil pointers, empty strings and uuid.Nil are skipped.
func (b Builder) Eq(column string, value any) Builder {
	if !ValidIdentifier(column) {
		return b
	}
	v, ok := bindable(value)
	if !ok {
		return b
	}
	return b.with(column+" = "+b.placeholder(0), v)
}

// Require appends `column = $n` and binds value even when Eq would skip it. A
// zero id or scope therefore matches nothing instead of widening the query. An
// invalid column or a nil value yields FALSE.
func (b Builder) Require(column string, value any) Builder {
	if !ValidIdentifier(column) {
		return b.with("FALSE")
	}
	v := deref(value)
	if v == nil {
		return b.with("FALSE")
	}
	return b.with(column+" = "+b.placeholder(0), v)
}

// Search appends `(c1 ILIKE $n OR c2 ILIKE $n+1 ...)` binding %term% once per column.
func (b Builder) Search(columns []string, term string) Builder {
	term = strings.TrimSpace(term)
	if term == "" {
		return b
	}
	valid := make([]string, 0, len(columns))
	for _, c := range columns {
		if ValidIdentifier(c) {
			valid = append(valid, c)
		}
	}
	if len(valid) == 0 {
		return b
	}
	pattern := "%" + term + "%"
	parts := make([]string, len(valid))
	args := make([]any, len(valid))
	for i, c := range valid {
		parts[i] = c + " ILIKE " + b.placeholder(i)
		args[i] = pattern
	}
	return b.with("("+strings.Join(parts, " OR ")+")", args...)
}

// Range appends `column >= $n` and/or `column <= $m` for whichever bounds are set.
func (b Builder) Range(column string, lower, upper any) Builder {
	if !ValidIdentifier(column) {
		return b
	}
	out := b
	if v, ok := bindable(lower); ok {
		out = out.with(column+" >= "+out.placeholder(0), v)
	}
	if v, ok := bindable(upper); ok {
		out = out.with(column+" <= "+out.placeholder(0), v)
	}
	return out
}

// In appends `column IN ($n, ...)`. Blank elements are dropped; an empty set is skipped.
func (b Builder) In(column string, values []any) Builder {
	if !ValidIdentifier(column) {
		return b
	}
	kept := make([]any, 0, len(values))
	for _, v := range values {
		if bv, ok := bindable(v); ok {
			kept = append(kept, bv)
		}
	}
	if len(kept) == 0 {
		return b
	}
	holders := make([]string, len(kept))
	for i := range kept {
		holders[i] = b.placeholder(i)
	}
	return b.with(column+" IN ("+strings.Join(holders, ", ")+")", kept...)
}

// InSelect appends `column IN (SELECT selectColumn FROM table WHERE matchColumn IN ($n, ...))`.
// It is skipped when values is empty or any identifier is invalid.
func (b Builder) InSelect(column, table, selectColumn, matchColumn string, values []any) Builder {
	for _, ident := range []string{column, table, selectColumn, matchColumn} {
		if !ValidIdentifier(ident) {
			return b
		}
	}
	inner := New().StartAt(b.Next()).In(matchColumn, values)
	if inner.Len() == 0 {
		return b
	}
	clause, args := inner.Predicate()
	return b.with(column+" IN (SELECT "+selectColumn+" FROM "+table+" WHERE "+clause+")", args...)
}

// Bool appends `column = $n` unless value is nil; false is a real filter.
func (b Builder) Bool(column string, value *bool) Builder {
	if value == nil || !ValidIdentifier(column) {
		return b
	}
	return b.with(column+" = "+b.placeholder(0), *value)
}

// Predicate returns the AND-joined clause and its arguments in placeholder order.
// An empty builder yields "TRUE" and no arguments.
func (b Builder) Predicate() (string, []any) {
	if len(b.conds) == 0 {
		return "TRUE", nil
	}
	return strings.Join(b.conds, " AND "), slices.Clone(b.args)
}

// Where is Predicate prefixed with WHERE, or empty when nothing was accumulated.
func (b Builder) Where() (string, []any) {
	if len(b.conds) == 0 {
		return "", nil
	}
	clause, args := b.Predicate()
	return "WHERE " + clause, args
}

// Next returns the index of the next free placeholder.
func (b Builder) Next() int {
	return b.start + len(b.args) + 1
}

// Len reports the number of accumulated conditions.
func (b Builder) Len() int {
	return len(b.conds)
}

func (b Builder) placeholder(offset int) string {
	return "$" + strconv.Itoa(b.Next()+offset)
}

func (b Builder) with(cond string, args ...any) Builder {
	out := b.clone()
	out.conds = append(out.conds, cond)
	out.args = append(out.args, args...)
	return out
}

func (b Builder) clone() Builder {
	return Builder{conds: slices.Clone(b.conds), args: slices.Clone(b.args), start: b.start}
}

// Values converts a typed slice for In.
func Values[T any](vs []T) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}

func deref(v any) any {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}

// bindable dereferences pointers and reports whether v carries a usable value.
func bindable(v any) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case string:
		return t, t != ""
	case uuid.UUID:
		return t, t != uuid.Nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, false
		}
		return bindable(rv.Elem().Interface())
	}
	return v, true
}
