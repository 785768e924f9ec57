package shared

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
)

// AuditExecer is the subset of the store the audit trail needs.
type AuditExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
}

// AuditEntry is one row in audit_logs.
type AuditEntry struct {
	ActorID    *uuid.UUID
	Action     string
	EntityType string
	EntityID   *uuid.UUID
	Meta       map[string]any
}

// AuditLogger appends to audit_logs. Failures never reach the caller.
type AuditLogger struct {
	store  AuditExecer
	logger *slog.Logger
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(store AuditExecer, logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{store: store, logger: logger}
}

// Record persists entry and logs a warning when that fails.
func (l *AuditLogger) Record(ctx context.Context, entry AuditEntry) {
	if l == nil || l.store == nil {
		return
	}
	meta := []byte("{}")
	if len(entry.Meta) > 0 {
		if raw, err := json.Marshal(entry.Meta); err == nil {
			meta = raw
		}
	}
	_, err := l.store.Exec(ctx,
		`INSERT INTO audit_logs (actor_id, action, entity_type, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, NOW())`,
		entry.ActorID, entry.Action, entry.EntityType, entry.EntityID, meta)
	if err != nil {
		l.logger.Warn("audit log write failed",
			slog.String("action", entry.Action),
			slog.String("entity_type", entry.EntityType),
			slog.Any("error", err))
	}
}
