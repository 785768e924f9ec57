package documents

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
)

// Joined says which relations were selected alongside the parent row.
type Joined struct {
	Customer bool
	Source   bool
}

// Assemble builds the public document from a parent row, its line items and any
// joined relation columns. It never fails: unreadable fields come back as zero
// values and malformed JSON blobs as nil.
func Assemble(row db.Row, lines []LineItem, joined Joined) Document {
	doc := Document{
		ID:               uuidOf(row["id"]),
		Kind:             Kind(stringOf(row["kind"])),
		DocumentNumber:   stringOf(row["document_number"]),
		ScopeID:          uuidOf(row["scope_id"]),
		Status:           Status(stringOf(row["status"])),
		Currency:         stringOf(row["currency"]),
		VATRate:          decimalOf(row["vat_rate"]),
		TaxRate:          decimalOf(row["tax_rate"]),
		IncludeVAT:       boolOf(row["include_vat"]),
		IncludeTax:       boolOf(row["include_tax"]),
		GrossTotal:       decimalOf(row["gross_total"]),
		DiscountAmount:   decimalOf(row["discount_amount"]),
		Subtotal:         decimalOf(row["subtotal"]),
		VATAmount:        decimalOf(row["vat_amount"]),
		TaxAmount:        decimalOf(row["tax_amount"]),
		Total:            decimalOf(row["total"]),
		PaidAmount:       decimalOf(row["paid_amount"]),
		IssueDate:        timestampPtr(row["issue_date"]),
		DueDate:          timestampPtr(row["due_date"]),
		ShipDate:         timestampPtr(row["ship_date"]),
		DeliveryDate:     timestampPtr(row["delivery_date"]),
		Notes:            stringPtr(row["notes"]),
		FromDetails:      jsonOf(row["from_details"]),
		CustomerDetails:  jsonOf(row["customer_details"]),
		TemplateSettings: jsonOf(row["template_settings"]),
		CustomerID:       uuidPtr(row["customer_id"]),
		SourceDocumentID: uuidPtr(row["source_document_id"]),
		CreatedBy:        uuidPtr(row["created_by"]),
		CreatedAt:        timestamp(row["created_at"]),
		UpdatedAt:        timestamp(row["updated_at"]),
		Lines:            lines,
	}
	if doc.Lines == nil {
		doc.Lines = []LineItem{}
	}
	if joined.Customer {
		if id := uuidPtr(row["customer_ref_id"]); id != nil {
			doc.Customer = &Customer{ID: *id, Name: stringOf(row["customer_name"]), Email: stringPtr(row["customer_email"])}
		}
	}
	if joined.Source {
		if id := uuidPtr(row["source_ref_id"]); id != nil {
			doc.Source = &SourceDocument{ID: *id, Kind: Kind(stringOf(row["source_kind"])), DocumentNumber: stringOf(row["source_number"])}
		}
	}
	return doc
}

func scanLine(row db.Row) (LineItem, error) {
	docID := uuidOf(row["document_id"])
	if docID == uuid.Nil {
		return LineItem{}, fmt.Errorf("documents: line %v has no document id", row["id"])
	}
	return LineItem{
		ID:              uuidOf(row["id"]),
		DocumentID:      docID,
		Position:        intOf(row["position"]),
		ProductName:     stringOf(row["product_name"]),
		Description:     stringPtr(row["description"]),
		Quantity:        decimalOf(row["quantity"]),
		Unit:            stringOf(row["unit"]),
		UnitPrice:       decimalOf(row["unit_price"]),
		DiscountPercent: decimalOf(row["discount_percent"]),
		VATRatePercent:  decimalOf(row["vat_rate_percent"]),
		LineTotal:       decimalOf(row["line_total"]),
	}, nil
}

// ============================================================================
// DRIVER VALUE COERCION
// ============================================================================

func decimalOf(v any) decimal.Decimal {
	switch t := v.(type) {
	case nil:
		return decimal.Zero
	case decimal.Decimal:
		return t
	case *decimal.Decimal:
		if t == nil {
			return decimal.Zero
		}
		return *t
	case string:
		d, err := decimal.NewFromString(t)
		if err != nil {
			return decimal.Zero
		}
		return d
	case []byte:
		return decimalOf(string(t))
	case float64:
		return decimal.NewFromFloat(t)
	case float32:
		return decimal.NewFromFloat32(t)
	case int:
		return decimal.NewFromInt(int64(t))
	case int32:
		return decimal.NewFromInt32(t)
	case int64:
		return decimal.NewFromInt(t)
	case driver.Valuer:
		// pgtype.Numeric renders as its exact decimal string.
		raw, err := t.Value()
		if err != nil {
			return decimal.Zero
		}
		return decimalOf(raw)
	case fmt.Stringer:
		return decimalOf(t.String())
	}
	return decimal.Zero
}

func uuidOf(v any) uuid.UUID {
	switch t := v.(type) {
	case uuid.UUID:
		return t
	case [16]byte:
		return uuid.UUID(t)
	case *uuid.UUID:
		if t != nil {
			return *t
		}
	case string:
		if id, err := uuid.Parse(t); err == nil {
			return id
		}
	case []byte:
		if len(t) == 16 {
			id, _ := uuid.FromBytes(t)
			return id
		}
		if id, err := uuid.ParseBytes(t); err == nil {
			return id
		}
	}
	return uuid.Nil
}

func uuidPtr(v any) *uuid.UUID {
	id := uuidOf(v)
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func stringOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case *string:
		if t != nil {
			return *t
		}
	case fmt.Stringer:
		return t.String()
	}
	return ""
}

func stringPtr(v any) *string {
	if v == nil {
		return nil
	}
	if p, ok := v.(*string); ok {
		return p
	}
	s := stringOf(v)
	return &s
}

func boolOf(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case *bool:
		return t != nil && *t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	}
	return false
}

func intOf(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int16:
		return int(t)
	case int32:
		return int(t)
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(t)
		return n
	}
	return 0
}

// timestamp renders dates and timestamps as RFC 3339 in UTC.
func timestamp(v any) string {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format(time.RFC3339)
	case *time.Time:
		if t != nil {
			return timestamp(*t)
		}
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05Z07:00", "2006-01-02 15:04:05", time.DateOnly} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC().Format(time.RFC3339)
			}
		}
	}
	return ""
}

func timestampPtr(v any) *string {
	s := timestamp(v)
	if s == "" {
		return nil
	}
	return &s
}

// jsonOf returns a verbatim blob, or nil when the stored value is not valid JSON.
func jsonOf(v any) json.RawMessage {
	var raw []byte
	switch t := v.(type) {
	case nil:
		return nil
	case json.RawMessage:
		raw = t
	case []byte:
		raw = t
	case string:
		raw = []byte(t)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return nil
		}
		return b
	default:
		return nil
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || !json.Valid(raw) {
		return nil
	}
	return json.RawMessage(bytes.Clone(raw))
}

// jsonArg prepares a blob for a jsonb column. Invalid input is stored as NULL.
func jsonArg(raw json.RawMessage) any {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return string(raw)
}
