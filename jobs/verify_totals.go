package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/backoffice/internal/documents"
	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
)

// DefaultVerifyBatch is the page size of a totals sweep.
const DefaultVerifyBatch = 200

// TotalsVerifier recomputes stored documents of one kind.
type TotalsVerifier interface {
	Verify(ctx context.Context, kind documents.Kind, batchSize int) (documents.VerifyReport, error)
}

// VerifyTotalsJob handles documents:verify_totals tasks.
type VerifyTotalsJob struct {
	Verifier TotalsVerifier
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// Handle sweeps the requested kinds and records drift per kind. Drift is
// reported, not an error.
func (j *VerifyTotalsJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Verifier == nil {
		return errors.New("verify totals: handler not configured")
	}
	var p VerifyTotalsPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("verify totals: bad payload: %w", asynq.SkipRetry)
		}
	}
	if p.BatchSize <= 0 {
		p.BatchSize = DefaultVerifyBatch
	}
	var kinds []documents.Kind
	if p.Kind != "" {
		kinds = []documents.Kind{p.Kind}
	} else {
		for _, spec := range documents.Kinds() {
			kinds = append(kinds, spec.Kind)
		}
	}

	tracker := j.Metrics.Track(TaskVerifyTotals)
	defer func() { err = tracker.End(err) }()

	logger := loggerOr(j.Logger)
	for _, kind := range kinds {
		report, err := j.Verifier.Verify(ctx, kind, p.BatchSize)
		if err != nil {
			logger.Error("verify totals", slog.String("kind", string(kind)), slog.Any("error", err))
			return err
		}
		j.Metrics.AddDrift(string(kind), len(report.Mismatches))
		for _, m := range report.Mismatches {
			logger.Warn("document totals drift",
				slog.String("kind", string(kind)),
				slog.String("document_number", m.DocumentNumber),
				slog.Any("fields", m.Fields))
		}
		logger.Info("verified document totals",
			slog.String("kind", string(kind)),
			slog.Int("checked", report.Checked),
			slog.Int("mismatches", len(report.Mismatches)))
	}
	return nil
}
