package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/platform/validate"
	"github.com/odyssey-erp/backoffice/internal/pricing"
	"github.com/odyssey-erp/backoffice/internal/query"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Store is the persistence contract the service depends on. *Repository
// satisfies it.
type Store interface {
	NextNumber(ctx context.Context, kind Kind, year int) (string, error)
	List(ctx context.Context, scope uuid.UUID, f ListFilter) ([]Document, int, error)
	Get(ctx context.Context, scope uuid.UUID, kind Kind, id uuid.UUID) (*Document, error)
	Create(ctx context.Context, doc *Document) error
	Update(ctx context.Context, doc *Document) error
	UpdateStatus(ctx context.Context, scope uuid.UUID, kind Kind, id uuid.UUID, status Status) error
	ApplyPayment(ctx context.Context, scope, id uuid.UUID, amount decimal.Decimal, classify func(paid, total decimal.Decimal, current Status) Status) (PaymentResult, error)
	Delete(ctx context.Context, scope uuid.UUID, kind Kind, id uuid.UUID) error
	CheckReferences(ctx context.Context, scope uuid.UUID, refs References) error
	EachStored(ctx context.Context, kind Kind, batchSize int, fn func(Document) error) error
}

// ScopeResolver maps a company to its data scope.
type ScopeResolver interface {
	ResolveScope(ctx context.Context, companyID uuid.UUID) uuid.UUID
}

// EmailEnqueuer hands outgoing document mail to the job queue.
type EmailEnqueuer interface {
	EnqueueDocumentEmail(ctx context.Context, req EmailRequest) error
}

// Auditor records actions. Implementations must not fail the caller.
type Auditor interface {
	Record(ctx context.Context, entry shared.AuditEntry)
}

// Metrics observes degraded listings.
type Metrics interface {
	ListDegraded(kind string)
}

// Service provides business logic for every document kind.
type Service struct {
	store    Store
	scopes   ScopeResolver
	mailer   EmailEnqueuer
	audit    Auditor
	metrics  Metrics
	validate *validate.Validator
	logger   *slog.Logger
	now      func() time.Time
}

// Deps are the optional collaborators of a Service.
type Deps struct {
	Mailer  EmailEnqueuer
	Audit   Auditor
	Metrics Metrics
	Logger  *slog.Logger
}

// NewService constructs a document service.
func NewService(store Store, scopes ScopeResolver, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		scopes:   scopes,
		mailer:   deps.Mailer,
		audit:    deps.Audit,
		metrics:  deps.Metrics,
		validate: validate.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// ============================================================================
// READS
// ============================================================================

// List returns a page of documents in the caller's scope. Store failures are
// logged and degrade to an empty page with Error set.
func (s *Service) List(ctx context.Context, companyID uuid.UUID, f ListFilter) ListResult {
	scope := s.scopes.ResolveScope(ctx, companyID)
	if f.Page.Size == 0 {
		f.Page = query.NewPage(f.Page.Number, query.DefaultPageSize)
	}
	items, total, err := s.store.List(ctx, scope, f)
	if err != nil {
		s.logger.Error("list documents failed",
			slog.String("kind", string(f.Kind)),
			slog.String("scope_id", scope.String()),
			slog.Any("error", err))
		if s.metrics != nil {
			s.metrics.ListDegraded(string(f.Kind))
		}
		return ListResult{Items: []Document{}, Pagination: f.Page.Meta(0), Error: true}
	}
	if items == nil {
		items = []Document{}
	}
	return ListResult{Items: items, Pagination: f.Page.Meta(total)}
}

// Get loads one document in the caller's scope.
func (s *Service) Get(ctx context.Context, companyID uuid.UUID, kind Kind, id uuid.UUID) (*Document, error) {
	return s.store.Get(ctx, s.scopes.ResolveScope(ctx, companyID), kind, id)
}

// Summary recomputes totals from the stored lines for render paths and reports
// any drift from the persisted totals.
func (s *Service) Summary(ctx context.Context, companyID uuid.UUID, kind Kind, id uuid.UUID) (*Summary, error) {
	return s.ScopedSummary(ctx, s.scopes.ResolveScope(ctx, companyID), kind, id)
}

// ScopedSummary is Summary for callers that already hold a resolved scope, such
// as the email worker.
func (s *Service) ScopedSummary(ctx context.Context, scope uuid.UUID, kind Kind, id uuid.UUID) (*Summary, error) {
	doc, err := s.store.Get(ctx, scope, kind, id)
	if err != nil {
		return nil, err
	}
	totals := pricing.Compute(PricingLines(doc.Lines), doc.PricingOptions())
	out := &Summary{Document: *doc, Totals: totals}
	if drift := doc.StoredTotals().Diff(totals); len(drift) > 0 {
		out.Drift = drift
		s.logger.Warn("stored totals drifted",
			slog.String("document_number", doc.DocumentNumber),
			slog.Any("fields", drift))
	}
	return out, nil
}

// Preview prices unsaved lines with the same calculator used on submit.
func (s *Service) Preview(kind Kind, in PreviewInput) (Preview, error) {
	spec, ok := Spec(kind)
	if !ok {
		return Preview{}, fmt.Errorf("%w: unknown kind %q", shared.ErrValidation, kind)
	}
	if err := s.validate.Struct(in); err != nil {
		return Preview{}, err
	}
	opts := options(spec, in.VATRate, in.TaxRate, in.IncludeVAT, in.IncludeTax)
	lines := buildLines(in.Lines, opts.VATRate)
	totals := make([]decimal.Decimal, len(lines))
	for i, l := range lines {
		totals[i] = l.LineTotal
	}
	return Preview{Lines: totals, Totals: pricing.Compute(PricingLines(lines), opts)}, nil
}

// Verify recomputes every stored document of kind and reports those whose stored
// totals differ.
func (s *Service) Verify(ctx context.Context, kind Kind, batchSize int) (VerifyReport, error) {
	report := VerifyReport{Mismatches: []Mismatch{}}
	err := s.store.EachStored(ctx, kind, batchSize, func(d Document) error {
		report.Checked++
		recomputed := pricing.Compute(PricingLines(d.Lines), d.PricingOptions())
		if fields := d.StoredTotals().Diff(recomputed); len(fields) > 0 {
			report.Mismatches = append(report.Mismatches, Mismatch{ID: d.ID, DocumentNumber: d.DocumentNumber, Fields: fields})
		}
		return nil
	})
	return report, err
}

// ============================================================================
// WRITES
// ============================================================================

// Create validates, prices, numbers and stores a new draft. A number collision
// caught by the unique index is retried once with a fresh number.
func (s *Service) Create(ctx context.Context, who shared.Identity, kind Kind, in Input) (*Document, error) {
	spec, ok := Spec(kind)
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", shared.ErrValidation, kind)
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}

	doc := &Document{
		ID:         uuid.New(),
		Kind:       kind,
		ScopeID:    s.scopes.ResolveScope(ctx, who.CompanyID),
		Status:     StatusDraft,
		PaidAmount: decimal.Zero,
		CreatedBy:  who.ActorID,
	}
	if err := s.checkReferences(ctx, doc.ScopeID, in); err != nil {
		return nil, err
	}
	s.apply(doc, spec, in)

	year := in.IssueDate.UTC().Year()
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		doc.DocumentNumber, err = s.store.NextNumber(ctx, kind, year)
		if err != nil {
			return nil, fmt.Errorf("generate document number: %w", err)
		}
		err = s.store.Create(ctx, doc)
		if !errors.Is(err, shared.ErrConflict) {
			break
		}
		s.logger.Warn("document number taken, retrying",
			slog.String("document_number", doc.DocumentNumber),
			slog.Int("attempt", attempt+1))
	}
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", kind, err)
	}

	s.record(ctx, who, "document.create", doc, map[string]any{"document_number": doc.DocumentNumber, "total": doc.Total.String()})
	return doc, nil
}

// Update replaces the content and lines of an existing document. Number and
// status are kept.
func (s *Service) Update(ctx context.Context, who shared.Identity, kind Kind, id uuid.UUID, in Input) (*Document, error) {
	spec, ok := Spec(kind)
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", shared.ErrValidation, kind)
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}
	doc, err := s.Get(ctx, who.CompanyID, kind, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkReferences(ctx, doc.ScopeID, in); err != nil {
		return nil, err
	}
	doc.Lines = nil
	s.apply(doc, spec, in)
	if err := s.store.Update(ctx, doc); err != nil {
		return nil, fmt.Errorf("update %s: %w", kind, err)
	}
	s.record(ctx, who, "document.update", doc, map[string]any{"total": doc.Total.String()})
	return doc, nil
}

// UpdateStatus moves a document to a status allowed for its kind.
func (s *Service) UpdateStatus(ctx context.Context, who shared.Identity, kind Kind, id uuid.UUID, in StatusInput) error {
	spec, ok := Spec(kind)
	if !ok {
		return fmt.Errorf("%w: unknown kind %q", shared.ErrValidation, kind)
	}
	if err := s.validate.Struct(in); err != nil {
		return err
	}
	if !spec.Allows(in.Status) {
		return fmt.Errorf("%w: status %q is not valid for %s", shared.ErrValidation, in.Status, kind)
	}
	scope := s.scopes.ResolveScope(ctx, who.CompanyID)
	if err := s.store.UpdateStatus(ctx, scope, kind, id, in.Status); err != nil {
		return err
	}
	s.recordID(ctx, who, "document.status", kind, id, map[string]any{"status": string(in.Status)})
	return nil
}

// Send marks the document sent and queues the email. A queue failure is logged
// and does not undo the status change.
func (s *Service) Send(ctx context.Context, who shared.Identity, kind Kind, id uuid.UUID, in SendInput) (*Document, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}
	doc, err := s.Get(ctx, who.CompanyID, kind, id)
	if err != nil {
		return nil, err
	}
	if doc.Status == StatusDraft {
		if err := s.store.UpdateStatus(ctx, doc.ScopeID, kind, id, StatusSent); err != nil {
			return nil, err
		}
		doc.Status = StatusSent
	}
	if s.mailer != nil {
		req := EmailRequest{
			DocumentID:     doc.ID,
			Kind:           kind,
			ScopeID:        doc.ScopeID,
			DocumentNumber: doc.DocumentNumber,
			Recipient:      in.Recipient,
			Message:        in.Message,
		}
		if err := s.mailer.EnqueueDocumentEmail(ctx, req); err != nil {
			s.logger.Error("enqueue document email failed",
				slog.String("document_number", doc.DocumentNumber),
				slog.Any("error", err))
		}
	}
	s.record(ctx, who, "document.send", doc, map[string]any{"recipient": in.Recipient})
	return doc, nil
}

// RecordPayment adds money received against an invoice and reclassifies the
// status from the full paid amount.
func (s *Service) RecordPayment(ctx context.Context, who shared.Identity, id uuid.UUID, in PaymentInput) (PaymentResult, error) {
	if err := s.validate.Struct(in); err != nil {
		return PaymentResult{}, err
	}
	scope := s.scopes.ResolveScope(ctx, who.CompanyID)
	res, err := s.store.ApplyPayment(ctx, scope, id, in.Amount, ClassifyPayment)
	if err != nil {
		return PaymentResult{}, err
	}
	s.recordID(ctx, who, "invoice.payment", KindInvoice, id, map[string]any{
		"amount": in.Amount.String(), "paid_amount": res.PaidAmount.String(), "status": string(res.Status),
	})
	return res, nil
}

// Delete removes a document and its lines.
func (s *Service) Delete(ctx context.Context, who shared.Identity, kind Kind, id uuid.UUID) error {
	scope := s.scopes.ResolveScope(ctx, who.CompanyID)
	if err := s.store.Delete(ctx, scope, kind, id); err != nil {
		return err
	}
	s.recordID(ctx, who, "document.delete", kind, id, nil)
	return nil
}

// ClassifyPayment is paid when paid >= total, partial when 0 < paid < total,
// and current otherwise.
func ClassifyPayment(paid, total decimal.Decimal, current Status) Status {
	switch {
	case paid.GreaterThanOrEqual(total):
		return StatusPaid
	case paid.IsPositive():
		return StatusPartial
	default:
		return current
	}
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *Service) checkReferences(ctx context.Context, scope uuid.UUID, in Input) error {
	if in.CustomerID == nil && in.SourceDocumentID == nil {
		return nil
	}
	return s.store.CheckReferences(ctx, scope, References{CustomerID: in.CustomerID, SourceDocumentID: in.SourceDocumentID})
}

func (s *Service) apply(doc *Document, spec KindSpec, in Input) {
	opts := options(spec, in.VATRate, in.TaxRate, in.IncludeVAT, in.IncludeTax)
	doc.Currency = in.Currency
	doc.VATRate, doc.TaxRate = opts.VATRate, opts.TaxRate
	doc.IncludeVAT, doc.IncludeTax = opts.IncludeVAT, opts.IncludeTax
	doc.IssueDate = dateString(&in.IssueDate)
	doc.DueDate = dateString(in.DueDate)
	doc.ShipDate = dateString(in.ShipDate)
	doc.DeliveryDate = dateString(in.DeliveryDate)
	doc.Notes = in.Notes
	doc.FromDetails = jsonOf([]byte(in.FromDetails))
	doc.CustomerDetails = jsonOf([]byte(in.CustomerDetails))
	doc.TemplateSettings = jsonOf([]byte(in.TemplateSettings))
	doc.CustomerID = in.CustomerID
	doc.SourceDocumentID = in.SourceDocumentID
	doc.Lines = buildLines(in.Lines, opts.VATRate)
	doc.applyTotals(pricing.Compute(PricingLines(doc.Lines), opts))
}

func options(spec KindSpec, vat, tax *decimal.Decimal, includeVAT, includeTax *bool) pricing.Options {
	opts := pricing.Options{VATRate: spec.DefaultVAT, TaxRate: decimal.Zero, IncludeVAT: spec.DefaultVAT.IsPositive()}
	if vat != nil {
		opts.VATRate = pricing.QuantizeRate(*vat)
	}
	if tax != nil {
		opts.TaxRate = pricing.QuantizeRate(*tax)
	}
	if includeVAT != nil {
		opts.IncludeVAT = *includeVAT
	}
	if includeTax != nil {
		opts.IncludeTax = *includeTax
	}
	return opts
}

func buildLines(in []LineInput, defaultVAT decimal.Decimal) []LineItem {
	out := make([]LineItem, len(in))
	for i, l := range in {
		vat := defaultVAT
		if l.VATRatePercent != nil {
			vat = pricing.QuantizeRate(*l.VATRatePercent)
		}
		priced := pricing.Line{
			Quantity:        pricing.Quantize(l.Quantity),
			UnitPrice:       pricing.Quantize(l.UnitPrice),
			DiscountPercent: pricing.QuantizeRate(l.DiscountPercent),
		}
		out[i] = LineItem{
			Position:        i + 1,
			ProductName:     l.ProductName,
			Description:     l.Description,
			Quantity:        priced.Quantity,
			Unit:            l.Unit,
			UnitPrice:       priced.UnitPrice,
			DiscountPercent: priced.DiscountPercent,
			VATRatePercent:  vat,
			LineTotal:       pricing.LineTotal(priced),
		}
	}
	return out
}

func dateString(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func (s *Service) record(ctx context.Context, who shared.Identity, action string, doc *Document, meta map[string]any) {
	s.recordID(ctx, who, action, doc.Kind, doc.ID, meta)
}

func (s *Service) recordID(ctx context.Context, who shared.Identity, action string, kind Kind, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, shared.AuditEntry{
		ActorID:    who.ActorID,
		Action:     action,
		EntityType: string(kind),
		EntityID:   &id,
		Meta:       meta,
	})
}
