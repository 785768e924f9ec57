package documents

import (
	"github.com/google/uuid"

	"github.com/odyssey-erp/backoffice/internal/batch"
	"github.com/odyssey-erp/backoffice/internal/numbering"
	"github.com/odyssey-erp/backoffice/internal/query"
)

const documentColumns = `d.id, d.kind, d.document_number, d.scope_id, d.status, d.currency,
	d.vat_rate, d.tax_rate, d.include_vat, d.include_tax,
	d.gross_total, d.discount_amount, d.subtotal, d.vat_amount, d.tax_amount, d.total, d.paid_amount,
	d.issue_date, d.due_date, d.ship_date, d.delivery_date, d.notes,
	d.from_details, d.customer_details, d.template_settings,
	d.customer_id, d.source_document_id, d.created_by, d.created_at, d.updated_at`

const relationColumns = `c.id AS customer_ref_id, c.name AS customer_name, c.email AS customer_email,
	s.id AS source_ref_id, s.kind AS source_kind, s.document_number AS source_number`

const documentFrom = `FROM documents d
	LEFT JOIN customers c ON c.id = d.customer_id AND c.scope_id = d.scope_id
	LEFT JOIN documents s ON s.id = d.source_document_id AND s.scope_id = d.scope_id`

var sortSpec = query.NewSortSpec(map[string]string{
	"created_at":      "d.created_at",
	"updated_at":      "d.updated_at",
	"issue_date":      "d.issue_date",
	"due_date":        "d.due_date",
	"document_number": "d.document_number",
	"status":          "d.status",
	"total":           "d.total",
	"customer":        "c.name",
}, "d.id")

var searchColumns = []string{"d.document_number", "d.notes", "c.name"}

var lineLoader = batch.MustLoader(batch.Spec[uuid.UUID, LineItem]{
	Table:      "document_lines",
	ForeignKey: "document_id",
	Columns: []string{
		"id", "document_id", "position", "product_name", "description", "quantity",
		"unit", "unit_price", "discount_percent", "vat_rate_percent", "line_total",
	},
	OrderBy: "position, id",
	Scan:    scanLine,
	Key:     func(l LineItem) uuid.UUID { return l.DocumentID },
})

func sequenceFor(spec KindSpec) numbering.Sequence {
	return numbering.Sequence{
		Prefix: spec.Prefix,
		Table:  "documents",
		Column: "document_number",
		Kind:   string(spec.Kind),
	}
}
