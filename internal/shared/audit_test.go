package shared

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecer struct {
	sql  string
	args []any
	err  error
}

func (r *recordingExecer) Exec(_ context.Context, sql string, args ...any) (int64, error) {
	r.sql, r.args = sql, args
	return 1, r.err
}

func TestAuditRecordWritesRow(t *testing.T) {
	exec := &recordingExecer{}
	id := uuid.New()
	NewAuditLogger(exec, nil).Record(context.Background(), AuditEntry{
		Action: "document.create", EntityType: "invoice", EntityID: &id, Meta: map[string]any{"number": "INV-2024-00001"},
	})
	require.Len(t, exec.args, 5)
	assert.Contains(t, exec.sql, "INSERT INTO audit_logs")
	assert.Equal(t, "document.create", exec.args[1])
	assert.JSONEq(t, `{"number":"INV-2024-00001"}`, string(exec.args[4].([]byte)))
}

func TestAuditRecordSwallowsFailures(t *testing.T) {
	exec := &recordingExecer{err: errors.New("db down")}
	assert.NotPanics(t, func() {
		NewAuditLogger(exec, nil).Record(context.Background(), AuditEntry{Action: "x", EntityType: "y"})
	})
	var nilLogger *AuditLogger
	assert.NotPanics(t, func() { nilLogger.Record(context.Background(), AuditEntry{}) })
}

func TestIdentityFromContext(t *testing.T) {
	_, ok := IdentityFromContext(context.Background())
	assert.False(t, ok)

	company := uuid.New()
	id, ok := IdentityFromContext(ContextWithIdentity(context.Background(), Identity{CompanyID: company}))
	assert.True(t, ok)
	assert.Equal(t, company, id.CompanyID)

	_, ok = IdentityFromContext(ContextWithIdentity(context.Background(), Identity{}))
	assert.False(t, ok)
}
