// Package numbering mints human readable, year scoped document numbers of the
// form PREFIX-YYYY-00001.
//
// Generation is optimistic: it reads the highest existing suffix, re-checks the
// candidate once and bumps it once on collision. Two concurrent callers can still
// produce the same number; the documents table carries a unique index and callers
// retry the whole create once on conflict.
package numbering

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/query"
)

// DefaultFetchLimit bounds how many existing numbers are scanned for the maximum.
const DefaultFetchLimit = 500

// Sequence identifies where numbers of one document type live.
type Sequence struct {
	Prefix string
	Table  string
	Column string
	// Kind, when set, restricts the scan to rows whose kind column matches.
	Kind string
}

// CollisionRecorder observes re-check collisions.
type CollisionRecorder interface {
	NumberCollision(prefix string)
}

// Generator produces the next number for a Sequence.
type Generator struct {
	fetchLimit int
	recorder   CollisionRecorder
}

// NewGenerator constructs a Generator. fetchLimit <= 0 uses DefaultFetchLimit.
func NewGenerator(fetchLimit int, recorder CollisionRecorder) *Generator {
	if fetchLimit <= 0 {
		fetchLimit = DefaultFetchLimit
	}
	return &Generator{fetchLimit: fetchLimit, recorder: recorder}
}

// Format renders a number. Sequences wider than five digits are not truncated.
func Format(prefix string, year, seq int) string {
	return fmt.Sprintf("%s-%d-%05d", prefix, year, seq)
}

// ParseSuffix extracts the numeric suffix of number for stem "PREFIX-YYYY-".
func ParseSuffix(number, stem string) (int, bool) {
	if !strings.HasPrefix(number, stem) {
		return 0, false
	}
	rest := number[len(stem):]
	if rest == "" {
		return 0, false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Next returns max(existing suffix)+1 for the year, bumped once if the candidate
// is already taken.
func (g *Generator) Next(ctx context.Context, q db.Querier, seq Sequence, year int) (string, error) {
	if !query.ValidIdentifier(seq.Table) || !query.ValidIdentifier(seq.Column) {
		return "", fmt.Errorf("numbering: invalid sequence target %q.%q", seq.Table, seq.Column)
	}
	stem := fmt.Sprintf("%s-%d-", seq.Prefix, year)

	existing, err := g.existing(ctx, q, seq, stem)
	if err != nil {
		return "", err
	}
	maxSeq := 0
	for _, n := range existing {
		if v, ok := ParseSuffix(n, stem); ok && v > maxSeq {
			maxSeq = v
		}
	}
	candidate := Format(seq.Prefix, year, maxSeq+1)

	taken, err := g.exists(ctx, q, seq, candidate)
	if err != nil {
		return "", err
	}
	if taken {
		if g.recorder != nil {
			g.recorder.NumberCollision(seq.Prefix)
		}
		candidate = Format(seq.Prefix, year, maxSeq+2)
	}
	return candidate, nil
}

func (g *Generator) existing(ctx context.Context, q db.Querier, seq Sequence, stem string) ([]string, error) {
	b := query.New().Eq("kind", seq.Kind)
	where, args := b.Predicate()
	next := b.Next()
	sql := fmt.Sprintf(
		"SELECT %[1]s AS number FROM %[2]s WHERE %[3]s AND %[1]s LIKE $%[4]d ORDER BY created_at DESC LIMIT $%[5]d",
		seq.Column, seq.Table, where, next, next+1,
	)
	args = append(args, stem+"%", g.fetchLimit)
	rows, err := q.Select(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("numbering: fetch existing: %w", err)
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if s, ok := r["number"].(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (g *Generator) exists(ctx context.Context, q db.Querier, seq Sequence, number string) (bool, error) {
	b := query.New().Eq("kind", seq.Kind).Eq(seq.Column, number)
	where, args := b.Predicate()
	rows, err := q.Select(ctx, fmt.Sprintf("SELECT 1 AS found FROM %s WHERE %s LIMIT 1", seq.Table, where), args...)
	if err != nil {
		return false, fmt.Errorf("numbering: re-check: %w", err)
	}
	return len(rows) > 0, nil
}
