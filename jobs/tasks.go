package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/backoffice/internal/documents"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskVaultProcess classifies an uploaded vault file.
	TaskVaultProcess = "vault:process"
	// TaskDocumentEmail delivers a sent document to its recipient.
	TaskDocumentEmail = "documents:email"
	// TaskVerifyTotals sweeps stored documents for totals drift.
	TaskVerifyTotals = "documents:verify_totals"
)

// VaultProcessPayload identifies the file to classify.
type VaultProcessPayload struct {
	FileID  uuid.UUID `json:"file_id"`
	ScopeID uuid.UUID `json:"scope_id"`
}

// VerifyTotalsPayload limits a sweep to one kind; empty means every kind.
type VerifyTotalsPayload struct {
	Kind      documents.Kind `json:"kind,omitempty"`
	BatchSize int            `json:"batch_size,omitempty"`
}

// NewVaultProcessTask builds a vault:process task. Processing the same file
// twice is harmless, so a uniqueness window only trims duplicate work.
func NewVaultProcessTask(p VaultProcessPayload) (*asynq.Task, error) {
	if p.FileID == uuid.Nil || p.ScopeID == uuid.Nil {
		return nil, fmt.Errorf("jobs: vault process needs a file id and a scope")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskVaultProcess, data, asynq.MaxRetry(5), asynq.Unique(10*time.Minute)), nil
}

// NewDocumentEmailTask builds a documents:email task.
func NewDocumentEmailTask(req documents.EmailRequest) (*asynq.Task, error) {
	if req.DocumentID == uuid.Nil || req.ScopeID == uuid.Nil || req.Recipient == "" {
		return nil, fmt.Errorf("jobs: document email needs a document, a scope and a recipient")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDocumentEmail, data, asynq.MaxRetry(8)), nil
}

// NewVerifyTotalsTask builds a documents:verify_totals task.
func NewVerifyTotalsTask(p VerifyTotalsPayload) (*asynq.Task, error) {
	if p.Kind != "" {
		if _, ok := documents.Spec(p.Kind); !ok {
			return nil, fmt.Errorf("jobs: unknown document kind %q", p.Kind)
		}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskVerifyTotals, data, asynq.MaxRetry(1), asynq.Timeout(30*time.Minute)), nil
}

// NewTask builds any known task from a raw JSON payload. The ops CLI uses it.
func NewTask(taskType string, payload []byte) (*asynq.Task, error) {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	switch taskType {
	case TaskVaultProcess:
		var p VaultProcessPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("jobs: decode %s payload: %w", taskType, err)
		}
		return NewVaultProcessTask(p)
	case TaskDocumentEmail:
		var p documents.EmailRequest
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("jobs: decode %s payload: %w", taskType, err)
		}
		return NewDocumentEmailTask(p)
	case TaskVerifyTotals:
		var p VerifyTotalsPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("jobs: decode %s payload: %w", taskType, err)
		}
		return NewVerifyTotalsTask(p)
	}
	return nil, fmt.Errorf("jobs: unknown task type %q", taskType)
}
