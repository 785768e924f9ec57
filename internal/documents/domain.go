// Package documents implements invoices, quotes and delivery notes: one aggregate
// shape, one table pair, per-kind numbering prefixes, VAT defaults and status sets.
package documents

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/pricing"
	"github.com/odyssey-erp/backoffice/internal/query"
)

// ============================================================================
// KINDS AND STATUSES
// ============================================================================

// Kind distinguishes business document types stored side by side.
type Kind string

const (
	KindInvoice      Kind = "invoice"
	KindQuote        Kind = "quote"
	KindDeliveryNote Kind = "delivery_note"
)

// Status is a document lifecycle state. Valid values depend on the Kind.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusPartial   Status = "partial"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
	StatusAccepted  Status = "accepted"
	StatusDeclined  Status = "declined"
	StatusExpired   Status = "expired"
	StatusDelivered Status = "delivered"
)

// KindSpec holds everything that varies between document kinds.
type KindSpec struct {
	Kind       Kind
	Prefix     string
	Path       string
	DefaultVAT decimal.Decimal
	Statuses   []Status
}

var kinds = map[Kind]KindSpec{
	KindInvoice: {
		Kind:       KindInvoice,
		Prefix:     "INV",
		Path:       "invoices",
		DefaultVAT: decimal.NewFromInt(20),
		Statuses:   []Status{StatusDraft, StatusSent, StatusPartial, StatusPaid, StatusOverdue, StatusCancelled},
	},
	KindQuote: {
		Kind:       KindQuote,
		Prefix:     "QUO",
		Path:       "quotes",
		DefaultVAT: decimal.NewFromInt(20),
		Statuses:   []Status{StatusDraft, StatusSent, StatusAccepted, StatusDeclined, StatusExpired},
	},
	KindDeliveryNote: {
		Kind:       KindDeliveryNote,
		Prefix:     "DN",
		Path:       "delivery-notes",
		DefaultVAT: decimal.Zero,
		Statuses:   []Status{StatusDraft, StatusSent, StatusDelivered, StatusCancelled},
	},
}

// Spec returns the configuration of k.
func Spec(k Kind) (KindSpec, bool) {
	s, ok := kinds[k]
	return s, ok
}

// Kinds lists every kind in a stable order.
func Kinds() []KindSpec {
	return []KindSpec{kinds[KindInvoice], kinds[KindQuote], kinds[KindDeliveryNote]}
}

// Allows reports whether status belongs to this kind.
func (s KindSpec) Allows(status Status) bool {
	return slices.Contains(s.Statuses, status)
}

// ============================================================================
// AGGREGATE
// ============================================================================

// Document is the public shape of a business document with its line items.
type Document struct {
	ID               uuid.UUID       `json:"id"`
	Kind             Kind            `json:"kind"`
	DocumentNumber   string          `json:"document_number"`
	ScopeID          uuid.UUID       `json:"scope_id"`
	Status           Status          `json:"status"`
	Currency         string          `json:"currency"`
	VATRate          decimal.Decimal `json:"vat_rate"`
	TaxRate          decimal.Decimal `json:"tax_rate"`
	IncludeVAT       bool            `json:"include_vat"`
	IncludeTax       bool            `json:"include_tax"`
	GrossTotal       decimal.Decimal `json:"gross_total"`
	DiscountAmount   decimal.Decimal `json:"discount_amount"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	VATAmount        decimal.Decimal `json:"vat_amount"`
	TaxAmount        decimal.Decimal `json:"tax_amount"`
	Total            decimal.Decimal `json:"total"`
	PaidAmount       decimal.Decimal `json:"paid_amount"`
	IssueDate        *string         `json:"issue_date"`
	DueDate          *string         `json:"due_date,omitempty"`
	ShipDate         *string         `json:"ship_date,omitempty"`
	DeliveryDate     *string         `json:"delivery_date,omitempty"`
	Notes            *string         `json:"notes,omitempty"`
	FromDetails      json.RawMessage `json:"from_details"`
	CustomerDetails  json.RawMessage `json:"customer_details"`
	TemplateSettings json.RawMessage `json:"template_settings"`
	CustomerID       *uuid.UUID      `json:"customer_id,omitempty"`
	SourceDocumentID *uuid.UUID      `json:"source_document_id,omitempty"`
	Customer         *Customer       `json:"customer,omitempty"`
	Source           *SourceDocument `json:"source,omitempty"`
	CreatedBy        *uuid.UUID      `json:"created_by,omitempty"`
	CreatedAt        string          `json:"created_at"`
	UpdatedAt        string          `json:"updated_at"`
	Lines            []LineItem      `json:"lines"`
}

// LineItem is one billable row. LineTotal is derived and persisted.
type LineItem struct {
	ID              uuid.UUID       `json:"id"`
	DocumentID      uuid.UUID       `json:"document_id"`
	Position        int             `json:"position"`
	ProductName     string          `json:"product_name"`
	Description     *string         `json:"description,omitempty"`
	Quantity        decimal.Decimal `json:"quantity"`
	Unit            string          `json:"unit"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	VATRatePercent  decimal.Decimal `json:"vat_rate_percent"`
	LineTotal       decimal.Decimal `json:"line_total"`
}

// Customer is the left-joined customer relation.
type Customer struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email *string   `json:"email,omitempty"`
}

// SourceDocument is the document this one was converted from, e.g. the quote
// behind an invoice.
type SourceDocument struct {
	ID             uuid.UUID `json:"id"`
	Kind           Kind      `json:"kind"`
	DocumentNumber string    `json:"document_number"`
}

// PricingLines converts line items to calculator input.
func PricingLines(items []LineItem) []pricing.Line {
	out := make([]pricing.Line, len(items))
	for i, it := range items {
		out[i] = pricing.Line{Quantity: it.Quantity, UnitPrice: it.UnitPrice, DiscountPercent: it.DiscountPercent}
	}
	return out
}

// PricingOptions returns the calculator flags stored on the document.
func (d Document) PricingOptions() pricing.Options {
	return pricing.Options{VATRate: d.VATRate, TaxRate: d.TaxRate, IncludeVAT: d.IncludeVAT, IncludeTax: d.IncludeTax}
}

// StoredTotals returns the persisted monetary fields.
func (d Document) StoredTotals() pricing.Totals {
	return pricing.Totals{
		GrossTotal:     d.GrossTotal,
		DiscountAmount: d.DiscountAmount,
		Subtotal:       d.Subtotal,
		VAT:            d.VATAmount,
		Tax:            d.TaxAmount,
		Total:          d.Total,
	}
}

func (d *Document) applyTotals(t pricing.Totals) {
	d.GrossTotal = t.GrossTotal
	d.DiscountAmount = t.DiscountAmount
	d.Subtotal = t.Subtotal
	d.VATAmount = t.VAT
	d.TaxAmount = t.Tax
	d.Total = t.Total
}

// ============================================================================
// REQUEST DTOs
// ============================================================================

// LineInput is a line item as submitted by a client.
type LineInput struct {
	ProductName     string           `json:"product_name" validate:"required,max=255"`
	Description     *string          `json:"description,omitempty" validate:"omitempty,max=2000"`
	Quantity        decimal.Decimal  `json:"quantity" validate:"dgte=0"`
	Unit            string           `json:"unit" validate:"max=32"`
	UnitPrice       decimal.Decimal  `json:"unit_price" validate:"dgte=0"`
	DiscountPercent decimal.Decimal  `json:"discount_percent" validate:"dgte=0,dlte=100"`
	VATRatePercent  *decimal.Decimal `json:"vat_rate_percent,omitempty" validate:"omitempty,dgte=0,dlte=100"`
}

// Input is the body of create and update requests.
type Input struct {
	Currency         string           `json:"currency" validate:"required,iso4217"`
	IssueDate        time.Time        `json:"issue_date" validate:"required"`
	DueDate          *time.Time       `json:"due_date,omitempty"`
	ShipDate         *time.Time       `json:"ship_date,omitempty"`
	DeliveryDate     *time.Time       `json:"delivery_date,omitempty"`
	VATRate          *decimal.Decimal `json:"vat_rate,omitempty" validate:"omitempty,dgte=0,dlte=100"`
	TaxRate          *decimal.Decimal `json:"tax_rate,omitempty" validate:"omitempty,dgte=0,dlte=100"`
	IncludeVAT       *bool            `json:"include_vat,omitempty"`
	IncludeTax       *bool            `json:"include_tax,omitempty"`
	CustomerID       *uuid.UUID       `json:"customer_id,omitempty"`
	SourceDocumentID *uuid.UUID       `json:"source_document_id,omitempty"`
	Notes            *string          `json:"notes,omitempty" validate:"omitempty,max=4000"`
	FromDetails      json.RawMessage  `json:"from_details,omitempty"`
	CustomerDetails  json.RawMessage  `json:"customer_details,omitempty"`
	TemplateSettings json.RawMessage  `json:"template_settings,omitempty"`
	Lines            []LineInput      `json:"lines" validate:"required,min=1,max=500,dive"`
}

// PreviewInput is unsaved draft content sent for autosave totals.
type PreviewInput struct {
	VATRate    *decimal.Decimal `json:"vat_rate,omitempty" validate:"omitempty,dgte=0,dlte=100"`
	TaxRate    *decimal.Decimal `json:"tax_rate,omitempty" validate:"omitempty,dgte=0,dlte=100"`
	IncludeVAT *bool            `json:"include_vat,omitempty"`
	IncludeTax *bool            `json:"include_tax,omitempty"`
	Lines      []LineInput      `json:"lines" validate:"max=500,dive"`
}

// StatusInput changes a document status.
type StatusInput struct {
	Status Status `json:"status" validate:"required"`
}

// PaymentInput records money received against an invoice.
type PaymentInput struct {
	Amount decimal.Decimal `json:"amount" validate:"dgt=0"`
}

// SendInput addresses the outgoing email.
type SendInput struct {
	Recipient string `json:"recipient" validate:"required,email"`
	Message   string `json:"message,omitempty" validate:"max=4000"`
}

// ============================================================================
// LISTING
// ============================================================================

// ListFilter narrows a listing. Zero values mean "not filtered".
type ListFilter struct {
	Kind       Kind
	Statuses   []Status
	CustomerID *uuid.UUID
	Search     string
	IssuedFrom *time.Time
	IssuedTo   *time.Time
	MinTotal   *decimal.Decimal
	MaxTotal   *decimal.Decimal
	IncludeVAT *bool
	Sort       string
	Direction  string
	Page       query.Page
}

// ListResult is a page of documents. Error is set when the listing degraded to
// an empty result because the store failed.
type ListResult struct {
	Items      []Document       `json:"items"`
	Pagination query.Pagination `json:"pagination"`
	Error      bool             `json:"error,omitempty"`
}

// Preview is the computed view of unsaved lines.
type Preview struct {
	Lines  []decimal.Decimal `json:"line_totals"`
	Totals pricing.Totals    `json:"totals"`
}

// Summary is what render paths (PDF, email) consume: totals recomputed from the
// stored lines.
type Summary struct {
	Document Document       `json:"document"`
	Totals   pricing.Totals `json:"totals"`
	Drift    []string       `json:"drift,omitempty"`
}

// PaymentResult reports the invoice state after a payment.
type PaymentResult struct {
	PaidAmount decimal.Decimal `json:"paid_amount"`
	Total      decimal.Decimal `json:"total"`
	Status     Status          `json:"status"`
}

// Mismatch is one document whose stored totals drifted from a recomputation.
type Mismatch struct {
	ID             uuid.UUID `json:"id"`
	DocumentNumber string    `json:"document_number"`
	Fields         []string  `json:"fields"`
}

// VerifyReport summarises a stored-vs-recomputed sweep.
type VerifyReport struct {
	Checked    int        `json:"checked"`
	Mismatches []Mismatch `json:"mismatches"`
}

// EmailRequest is handed to the job queue when a document is sent.
type EmailRequest struct {
	DocumentID     uuid.UUID `json:"document_id"`
	Kind           Kind      `json:"kind"`
	ScopeID        uuid.UUID `json:"scope_id"`
	DocumentNumber string    `json:"document_number"`
	Recipient      string    `json:"recipient"`
	Message        string    `json:"message,omitempty"`
}
