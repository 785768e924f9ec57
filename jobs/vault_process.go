package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// VaultProcessor classifies one stored file.
type VaultProcessor interface {
	Process(ctx context.Context, scope, id uuid.UUID) error
}

// VaultProcessJob handles vault:process tasks.
type VaultProcessJob struct {
	Processor VaultProcessor
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle decodes the payload and runs classification. Files deleted before the
// task ran are skipped without retry.
func (j *VaultProcessJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Processor == nil {
		return errors.New("vault process: handler not configured")
	}
	var p VaultProcessPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil || p.FileID == uuid.Nil || p.ScopeID == uuid.Nil {
		return fmt.Errorf("vault process: bad payload: %w", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskVaultProcess)
	defer func() { err = tracker.End(err) }()

	logger := loggerOr(j.Logger).With(slog.String("file_id", p.FileID.String()), slog.String("scope_id", p.ScopeID.String()))
	if err := j.Processor.Process(ctx, p.ScopeID, p.FileID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			logger.Info("vault file gone before processing")
			return fmt.Errorf("vault process: %w: %w", err, asynq.SkipRetry)
		}
		logger.Error("vault processing failed", slog.Any("error", err))
		return err
	}
	logger.Info("vault file processed")
	return nil
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
