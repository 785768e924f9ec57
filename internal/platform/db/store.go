package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Row is a loosely typed record keyed by column name.
type Row = map[string]any

// Querier runs positional-placeholder statements.
type Querier interface {
	Select(ctx context.Context, sql string, args ...any) ([]Row, error)
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
}

// Store is a Querier that can open a transaction.
type Store interface {
	Querier
	InTx(ctx context.Context, fn func(Querier) error) error
}

const uniqueViolation = "23505"

type pgxConn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type querier struct {
	conn pgxConn
}

// PGStore implements Store on top of pgxpool.
type PGStore struct {
	querier
	pool *pgxpool.Pool
}

// NewStore wraps the pool.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{querier: querier{conn: pool}, pool: pool}
}

// InTx runs fn inside one RepeatableRead transaction.
func (s *PGStore) InTx(ctx context.Context, fn func(Querier) error) error {
	return WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(querier{conn: tx})
	})
}

func (q querier) Select(ctx context.Context, sql string, args ...any) ([]Row, error) {
	rows, err := q.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, translate(err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, translate(err)
	}
	return records, nil
}

func (q querier) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := q.conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, translate(err)
	}
	return tag.RowsAffected(), nil
}

// First returns the first row, if any.
func First(rows []Row) (Row, bool) {
	if len(rows) == 0 {
		return nil, false
	}
	return rows[0], true
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, shared.ErrConflict) || errors.Is(err, shared.ErrInternal) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", shared.ErrConflict, pgErr.ConstraintName)
	}
	return fmt.Errorf("%w: %w", shared.ErrInternal, err)
}
