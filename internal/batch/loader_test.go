package batch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/platform/db/dbtest"
)

type child struct {
	Parent string
	Name   string
}

func testLoader(t *testing.T) *Loader[string, child] {
	t.Helper()
	l, err := NewLoader(Spec[string, child]{
		Table:      "document_lines",
		ForeignKey: "document_id",
		Columns:    []string{"document_id", "name"},
		OrderBy:    "position, id",
		Scan: func(r db.Row) (child, error) {
			p, _ := r["document_id"].(string)
			n, _ := r["name"].(string)
			if p == "" {
				return child{}, errors.New("missing parent")
			}
			return child{Parent: p, Name: n}, nil
		},
		Key: func(c child) string { return c.Parent },
	})
	require.NoError(t, err)
	return l
}

func TestLoadWithoutIDsIssuesNoQuery(t *testing.T) {
	store := dbtest.New(nil)
	groups, err := testLoader(t).Load(context.Background(), store, nil)
	require.NoError(t, err)
	assert.Empty(t, groups)
	assert.Empty(t, store.Statements())
}

func TestLoadIssuesOneQueryRegardlessOfParentCount(t *testing.T) {
	for _, n := range []int{1, 2, 10, 100} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			ids := make([]string, n)
			for i := range ids {
				ids[i] = fmt.Sprintf("p%d", i)
			}
			store := dbtest.New(func(sql string, args []any) ([]db.Row, error) {
				rows := make([]db.Row, 0, len(args))
				for _, a := range args {
					rows = append(rows, db.Row{"document_id": a, "name": "x"})
				}
				return rows, nil
			})
			groups, err := testLoader(t).Load(context.Background(), store, ids)
			require.NoError(t, err)
			require.Len(t, store.Statements(), 1)
			assert.Len(t, store.Statements()[0].Args, n)
			assert.Len(t, groups, n)
		})
	}
}

func TestLoadGroupsPreservingStoreOrder(t *testing.T) {
	store := dbtest.New(func(sql string, args []any) ([]db.Row, error) {
		return []db.Row{
			{"document_id": "a", "name": "a1"},
			{"document_id": "b", "name": "b1"},
			{"document_id": "a", "name": "a2"},
			{"document_id": "a", "name": "a3"},
		}, nil
	})
	groups, err := testLoader(t).Load(context.Background(), store, []string{"a", "b", "c", "a"})
	require.NoError(t, err)

	st := store.Statements()
	require.Len(t, st, 1)
	assert.Equal(t, "SELECT document_id, name FROM document_lines WHERE document_id IN ($1, $2, $3) ORDER BY position, id", st[0].SQL)
	assert.Equal(t, []any{"a", "b", "c"}, st[0].Args)

	assert.Equal(t, []child{{"a", "a1"}, {"a", "a2"}, {"a", "a3"}}, groups.Get("a"))
	assert.Equal(t, []child{{"b", "b1"}}, groups.Get("b"))
	c, ok := groups["c"]
	assert.True(t, ok)
	assert.Empty(t, c)
	assert.NotNil(t, groups.Get("missing"))
	assert.Empty(t, groups.Get("missing"))
}

func TestLoadPropagatesStoreErrors(t *testing.T) {
	boom := errors.New("connection reset")
	store := dbtest.New(func(string, []any) ([]db.Row, error) { return nil, boom })
	groups, err := testLoader(t).Load(context.Background(), store, []string{"a"})
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, groups)
}

func TestLoadFailsWholeBatchOnScanError(t *testing.T) {
	store := dbtest.New(func(string, []any) ([]db.Row, error) {
		return []db.Row{{"document_id": "a", "name": "ok"}, {"name": "orphan"}}, nil
	})
	groups, err := testLoader(t).Load(context.Background(), store, []string{"a"})
	assert.Error(t, err)
	assert.Nil(t, groups)
}

func TestNewLoaderRejectsUnsafeIdentifiers(t *testing.T) {
	_, err := NewLoader(Spec[string, child]{
		Table: "lines; DROP TABLE x", ForeignKey: "id",
		Scan: func(db.Row) (child, error) { return child{}, nil },
		Key:  func(c child) string { return c.Parent },
	})
	assert.Error(t, err)
}
