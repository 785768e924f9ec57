package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// ============================================================================
// FAKES
// ============================================================================

type fakeTx struct {
	pgx.Tx
	committed   bool
	rolledBack  bool
	commitErr   error
	rollbackErr error
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return t.commitErr
}

func (t *fakeTx) Rollback(context.Context) error {
	t.rolledBack = true
	return t.rollbackErr
}

type fakeBeginner struct {
	tx   *fakeTx
	opts pgx.TxOptions
	err  error
}

func (b *fakeBeginner) BeginTx(_ context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	b.opts = opts
	if b.err != nil {
		return nil, b.err
	}
	return b.tx, nil
}

// ============================================================================
// TESTS
// ============================================================================

func TestWithTxCommits(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	err := WithTx(context.Background(), b, func(pgx.Tx) error { return nil })
	require.NoError(t, err)
	assert.True(t, b.tx.committed)
	assert.False(t, b.tx.rolledBack)
	assert.Equal(t, pgx.RepeatableRead, b.opts.IsoLevel)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	boom := errors.New("boom")
	err := WithTx(context.Background(), b, func(pgx.Tx) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.True(t, b.tx.rolledBack)
	assert.False(t, b.tx.committed)
}

func TestWithTxJoinsRollbackFailure(t *testing.T) {
	rbErr := errors.New("connection reset")
	b := &fakeBeginner{tx: &fakeTx{rollbackErr: rbErr}}
	boom := errors.New("boom")
	err := WithTx(context.Background(), b, func(pgx.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, rbErr)
}

func TestWithTxBeginAndCommitFailuresAreInternal(t *testing.T) {
	b := &fakeBeginner{err: errors.New("pool closed")}
	err := WithTx(context.Background(), b, func(pgx.Tx) error { return nil })
	assert.ErrorIs(t, err, shared.ErrInternal)

	b = &fakeBeginner{tx: &fakeTx{commitErr: errors.New("serialization failure")}}
	err = WithTxOptions(context.Background(), b, pgx.TxOptions{}, func(pgx.Tx) error { return nil })
	assert.ErrorIs(t, err, shared.ErrInternal)
	assert.Equal(t, pgx.TxIsoLevel(""), b.opts.IsoLevel)
}
