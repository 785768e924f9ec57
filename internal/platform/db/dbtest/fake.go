// Package dbtest provides an in-memory db.Store that records every statement.
package dbtest

import (
	"context"
	"strings"
	"sync"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
)

// Statement is one recorded call against the fake store.
type Statement struct {
	SQL  string
	Args []any
	InTx bool
}

// Responder answers a statement. Returning a nil slice and nil error yields no rows.
type Responder func(sql string, args []any) ([]db.Row, error)

// Store is a concurrency-safe fake implementing db.Store.
type Store struct {
	mu         sync.Mutex
	statements []Statement
	respond    Responder
	execErr    error
	affected   int64
	txDepth    int
	Commits    int
	Rollbacks  int
}

// New returns a fake answering selects with respond.
func New(respond Responder) *Store {
	return &Store{respond: respond, affected: 1}
}

// FailExec makes every Exec return err.
func (s *Store) FailExec(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execErr = err
}

// SetRowsAffected changes the count returned by Exec.
func (s *Store) SetRowsAffected(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.affected = n
}

// Select implements db.Querier.
func (s *Store) Select(ctx context.Context, sql string, args ...any) ([]db.Row, error) {
	s.record(sql, args)
	if s.respond == nil {
		return nil, nil
	}
	return s.respond(sql, args)
}

// Exec implements db.Querier.
func (s *Store) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	s.record(sql, args)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.execErr != nil {
		return 0, s.execErr
	}
	return s.affected, nil
}

// InTx implements db.Store. Statements issued inside fn are flagged InTx.
func (s *Store) InTx(ctx context.Context, fn func(db.Querier) error) error {
	s.mu.Lock()
	s.txDepth++
	s.mu.Unlock()
	err := fn(s)
	s.mu.Lock()
	s.txDepth--
	if err != nil {
		s.Rollbacks++
	} else {
		s.Commits++
	}
	s.mu.Unlock()
	return err
}

func (s *Store) record(sql string, args []any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statements = append(s.statements, Statement{SQL: sql, Args: append([]any(nil), args...), InTx: s.txDepth > 0})
}

// Statements returns a copy of every recorded statement.
func (s *Store) Statements() []Statement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Statement(nil), s.statements...)
}

// Matching returns recorded statements whose SQL contains fragment.
func (s *Store) Matching(fragment string) []Statement {
	var out []Statement
	for _, st := range s.Statements() {
		if strings.Contains(st.SQL, fragment) {
			out = append(out, st)
		}
	}
	return out
}

// Reset clears recorded statements.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statements = nil
}
