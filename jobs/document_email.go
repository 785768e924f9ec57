package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/backoffice/internal/documents"
	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Message is a rendered outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers messages. Template rendering and transport live behind it.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SummaryLoader returns render-ready document totals inside a known scope.
type SummaryLoader interface {
	ScopedSummary(ctx context.Context, scope uuid.UUID, kind documents.Kind, id uuid.UUID) (*documents.Summary, error)
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct {
	Logger *slog.Logger
}

// Send implements Mailer.
func (m LogMailer) Send(_ context.Context, msg Message) error {
	loggerOr(m.Logger).Info("email",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.Int("body_bytes", len(msg.Body)))
	return nil
}

// DocumentEmailJob handles documents:email tasks.
type DocumentEmailJob struct {
	Summaries SummaryLoader
	Mailer    Mailer
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle loads recomputed totals and hands the message to the mailer.
func (j *DocumentEmailJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Summaries == nil || j.Mailer == nil {
		return errors.New("document email: handler not configured")
	}
	var req documents.EmailRequest
	if err := json.Unmarshal(t.Payload(), &req); err != nil || req.DocumentID == uuid.Nil || req.ScopeID == uuid.Nil || req.Recipient == "" {
		return fmt.Errorf("document email: bad payload: %w", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskDocumentEmail)
	defer func() { err = tracker.End(err) }()

	summary, err := j.Summaries.ScopedSummary(ctx, req.ScopeID, req.Kind, req.DocumentID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return fmt.Errorf("document email: %w: %w", err, asynq.SkipRetry)
		}
		return err
	}
	if err := j.Mailer.Send(ctx, RenderDocumentEmail(req, summary)); err != nil {
		loggerOr(j.Logger).Error("send document email",
			slog.String("document_number", req.DocumentNumber), slog.Any("error", err))
		return err
	}
	return nil
}

var kindTitles = map[documents.Kind]string{
	documents.KindInvoice:      "Invoice",
	documents.KindQuote:        "Quote",
	documents.KindDeliveryNote: "Delivery note",
}

// RenderDocumentEmail builds the plain text message for a sent document.
func RenderDocumentEmail(req documents.EmailRequest, s *documents.Summary) Message {
	title := kindTitles[req.Kind]
	if title == "" {
		title = "Document"
	}
	number := s.Document.DocumentNumber
	if number == "" {
		number = req.DocumentNumber
	}
	var b strings.Builder
	if msg := strings.TrimSpace(req.Message); msg != "" {
		b.WriteString(msg)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "%s %s\n", title, number)
	if s.Document.IssueDate != nil {
		fmt.Fprintf(&b, "Issued: %s\n", *s.Document.IssueDate)
	}
	if s.Document.DueDate != nil {
		fmt.Fprintf(&b, "Due: %s\n", *s.Document.DueDate)
	}
	fmt.Fprintf(&b, "Subtotal: %s %s\n", s.Totals.Subtotal.StringFixed(2), s.Document.Currency)
	if !s.Totals.VAT.IsZero() {
		fmt.Fprintf(&b, "VAT: %s %s\n", s.Totals.VAT.StringFixed(2), s.Document.Currency)
	}
	if !s.Totals.Tax.IsZero() {
		fmt.Fprintf(&b, "Tax: %s %s\n", s.Totals.Tax.StringFixed(2), s.Document.Currency)
	}
	fmt.Fprintf(&b, "Total: %s %s\n", s.Totals.Total.StringFixed(2), s.Document.Currency)
	return Message{
		To:      req.Recipient,
		Subject: title + " " + number,
		Body:    b.String(),
	}
}
