package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/documents"
	"github.com/odyssey-erp/backoffice/jobs"
)

type stubVerifier struct {
	reports map[documents.Kind]documents.VerifyReport
	batches []int
}

func (s *stubVerifier) Verify(_ context.Context, kind documents.Kind, batch int) (documents.VerifyReport, error) {
	s.batches = append(s.batches, batch)
	r, ok := s.reports[kind]
	if !ok {
		return documents.VerifyReport{Mismatches: []documents.Mismatch{}}, nil
	}
	return r, nil
}

type stubNumbers struct {
	kind documents.Kind
	year int
}

func (s *stubNumbers) NextNumber(_ context.Context, kind documents.Kind, year int) (string, error) {
	s.kind, s.year = kind, year
	return "QUO-2023-00012", nil
}

type stubQueue struct {
	taskType string
	payload  []byte
	err      error
}

func (q *stubQueue) Trigger(_ context.Context, taskType string, payload []byte) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.taskType, q.payload = taskType, payload
	return &asynq.TaskInfo{ID: "abc", Type: taskType, Queue: jobs.QueueDefault}, nil
}

func (q *stubQueue) InspectQueue(context.Context) (QueueStats, error) {
	return QueueStats{Queue: jobs.QueueDefault, Pending: 2, Retry: 1}, nil
}

func run(t *testing.T, e *env, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(e)
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func stubEnv() (*env, *stubVerifier, *stubNumbers, *stubQueue) {
	v := &stubVerifier{reports: map[documents.Kind]documents.VerifyReport{}}
	n := &stubNumbers{}
	q := &stubQueue{}
	e := &env{verifier: v, numbers: n, queue: q}
	e.migrate = func(context.Context) ([]string, error) { return nil, nil }
	return e, v, n, q
}

func TestMigrateReportsUpToDate(t *testing.T) {
	e, _, _, _ := stubEnv()
	out, err := run(t, e, "migrate")
	require.NoError(t, err)
	assert.Equal(t, "schema up to date\n", out)

	e.migrate = func(context.Context) ([]string, error) { return []string{"0001_init.sql"}, nil }
	out, err = run(t, e, "migrate")
	require.NoError(t, err)
	assert.Equal(t, "applied 0001_init.sql\n", out)
}

func TestTotalsVerifyCleanRun(t *testing.T) {
	e, v, _, _ := stubEnv()
	out, err := run(t, e, "totals", "verify", "--batch-size", "50")
	require.NoError(t, err)
	assert.Contains(t, out, "invoice        checked=0 mismatches=0")
	assert.Equal(t, []int{50, 50, 50}, v.batches)
}

func TestTotalsVerifyReportsDrift(t *testing.T) {
	e, v, _, _ := stubEnv()
	v.reports[documents.KindInvoice] = documents.VerifyReport{Checked: 3, Mismatches: []documents.Mismatch{
		{DocumentNumber: "INV-2024-00002", Fields: []string{"vat_amount", "total"}},
	}}

	out, err := run(t, e, "totals", "verify", "--kind", "invoice")
	assert.ErrorIs(t, err, errDrift)
	assert.Contains(t, out, "INV-2024-00002 vat_amount,total")

	out, err = run(t, e, "totals", "verify", "--kind", "invoice", "--json")
	assert.ErrorIs(t, err, errDrift)
	var decoded map[string]documents.VerifyReport
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, 3, decoded["invoice"].Checked)

	_, err = run(t, e, "totals", "verify", "--kind", "receipt")
	assert.ErrorContains(t, err, "unknown kind")
}

func TestNumbersNext(t *testing.T) {
	e, _, n, _ := stubEnv()
	out, err := run(t, e, "numbers", "next", "--kind", "quote", "--year", "2023")
	require.NoError(t, err)
	assert.Equal(t, "QUO-2023-00012\n", out)
	assert.Equal(t, documents.KindQuote, n.kind)
	assert.Equal(t, 2023, n.year)
}

func TestJobsTriggerAndStats(t *testing.T) {
	e, _, _, q := stubEnv()
	out, err := run(t, e, "jobs", "trigger", jobs.TaskVerifyTotals, "--payload", `{"kind":"invoice"}`)
	require.NoError(t, err)
	assert.Equal(t, jobs.TaskVerifyTotals, q.taskType)
	assert.JSONEq(t, `{"kind":"invoice"}`, string(q.payload))
	assert.Contains(t, out, "enqueued documents:verify_totals id=abc")

	out, err = run(t, e, "jobs", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "pending=2 active=0 scheduled=0 retry=1")

	q.err = errors.New("unknown task type")
	_, err = run(t, e, "jobs", "trigger", "reports:rebuild")
	assert.Error(t, err)

	_, err = run(t, e, "jobs", "trigger")
	assert.Error(t, err, "task type argument required")
}
