package documents

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/backoffice/internal/numbering"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/query"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

var withRelations = Joined{Customer: true, Source: true}

// Repository persists documents and their line items.
type Repository struct {
	store   db.Store
	numbers *numbering.Generator
}

// NewRepository constructs a Repository.
func NewRepository(store db.Store, numbers *numbering.Generator) *Repository {
	if numbers == nil {
		numbers = numbering.NewGenerator(0, nil)
	}
	return &Repository{store: store, numbers: numbers}
}

// NextNumber mints the next document number of kind for year.
func (r *Repository) NextNumber(ctx context.Context, kind Kind, year int) (string, error) {
	spec, ok := Spec(kind)
	if !ok {
		return "", fmt.Errorf("%w: unknown kind %q", shared.ErrValidation, kind)
	}
	return r.numbers.Next(ctx, r.store, sequenceFor(spec), year)
}

// List returns one page of scoped documents plus the total match count.
func (r *Repository) List(ctx context.Context, scope uuid.UUID, f ListFilter) ([]Document, int, error) {
	if scope == uuid.Nil {
		return nil, 0, fmt.Errorf("%w: list documents without a scope", shared.ErrValidation)
	}
	b := listPredicate(scope, f)
	where, args := b.Where()
	sort := sortSpec.Resolve(f.Sort, f.Direction)
	page := f.Page
	if page.Size == 0 {
		page = query.NewPage(page.Number, query.DefaultPageSize)
	}
	limit, pageArgs := page.Clause(b.Next())
	selectArgs := append(slices.Clone(args), pageArgs...)

	var (
		rows  []db.Row
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		counted, err := r.store.Select(gctx, "SELECT COUNT(*) AS total "+documentFrom+" "+where, args...)
		if err != nil {
			return fmt.Errorf("count documents: %w", err)
		}
		if row, ok := db.First(counted); ok {
			total = intOf(row["total"])
		}
		return nil
	})
	g.Go(func() error {
		sql := "SELECT " + documentColumns + ", " + relationColumns + " " + documentFrom + " " + where + " " + sort.Clause() + " " + limit
		var err error
		rows, err = r.store.Select(gctx, sql, selectArgs...)
		if err != nil {
			return fmt.Errorf("select documents: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	docs, err := r.attachLines(ctx, rows)
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

func listPredicate(scope uuid.UUID, f ListFilter) query.Builder {
	return query.New().
		Require("d.scope_id", scope).
		Eq("d.kind", string(f.Kind)).
		In("d.status", query.Values(f.Statuses)).
		Eq("d.customer_id", f.CustomerID).
		Search(searchColumns, f.Search).
		Range("d.issue_date", f.IssuedFrom, f.IssuedTo).
		Range("d.total", f.MinTotal, f.MaxTotal).
		Bool("d.include_vat", f.IncludeVAT)
}

// Get loads one scoped document with its lines.
func (r *Repository) Get(ctx context.Context, scope uuid.UUID, kind Kind, id uuid.UUID) (*Document, error) {
	return r.get(ctx, r.store, scope, kind, id)
}

func (r *Repository) get(ctx context.Context, q db.Querier, scope uuid.UUID, kind Kind, id uuid.UUID) (*Document, error) {
	if id == uuid.Nil || scope == uuid.Nil {
		return nil, fmt.Errorf("%s %s: %w", kind, id, shared.ErrNotFound)
	}
	where, args := query.New().
		Require("d.id", id).
		Require("d.scope_id", scope).
		Require("d.kind", string(kind)).
		Where()
	rows, err := q.Select(ctx, "SELECT "+documentColumns+", "+relationColumns+" "+documentFrom+" "+where+" LIMIT 1", args...)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s %s: %w", kind, id, shared.ErrNotFound)
	}
	docs, err := r.attachLinesWith(ctx, q, rows)
	if err != nil {
		return nil, err
	}
	return &docs[0], nil
}

// References names the rows a document may point at.
type References struct {
	CustomerID       *uuid.UUID
	SourceDocumentID *uuid.UUID
}

// CheckReferences verifies that every set reference belongs to scope. A
// reference outside it, or to nothing, is a validation error.
func (r *Repository) CheckReferences(ctx context.Context, scope uuid.UUID, refs References) error {
	checks := []struct {
		field string
		table string
		id    *uuid.UUID
	}{
		{"customer_id", "customers", refs.CustomerID},
		{"source_document_id", "documents", refs.SourceDocumentID},
	}
	for _, c := range checks {
		if c.id == nil {
			continue
		}
		where, args := query.New().Require("id", *c.id).Require("scope_id", scope).Where()
		rows, err := r.store.Select(ctx, "SELECT id FROM "+c.table+" "+where+" LIMIT 1", args...)
		if err != nil {
			return fmt.Errorf("check %s: %w", c.field, err)
		}
		if len(rows) == 0 {
			return fmt.Errorf("%w: %s %s is not in scope", shared.ErrValidation, c.field, *c.id)
		}
	}
	return nil
}

func (r *Repository) attachLines(ctx context.Context, rows []db.Row) ([]Document, error) {
	return r.attachLinesWith(ctx, r.store, rows)
}

func (r *Repository) attachLinesWith(ctx context.Context, q db.Querier, rows []db.Row) ([]Document, error) {
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, uuidOf(row["id"]))
	}
	groups, err := lineLoader.Load(ctx, q, ids)
	if err != nil {
		return nil, fmt.Errorf("load document lines: %w", err)
	}
	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, Assemble(row, groups.Get(uuidOf(row["id"])), withRelations))
	}
	return docs, nil
}

// Create inserts the document and its lines in one transaction. Timestamps are
// assigned by the store.
func (r *Repository) Create(ctx context.Context, doc *Document) error {
	return r.store.InTx(ctx, func(q db.Querier) error {
		rows, err := q.Select(ctx, `INSERT INTO documents (
			id, kind, document_number, scope_id, status, currency,
			vat_rate, tax_rate, include_vat, include_tax,
			gross_total, discount_amount, subtotal, vat_amount, tax_amount, total, paid_amount,
			issue_date, due_date, ship_date, delivery_date, notes,
			from_details, customer_details, template_settings,
			customer_id, source_document_id, created_by, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, NOW(), NOW()
		) RETURNING created_at, updated_at`,
			doc.ID, string(doc.Kind), doc.DocumentNumber, doc.ScopeID, string(doc.Status), doc.Currency,
			doc.VATRate, doc.TaxRate, doc.IncludeVAT, doc.IncludeTax,
			doc.GrossTotal, doc.DiscountAmount, doc.Subtotal, doc.VATAmount, doc.TaxAmount, doc.Total, doc.PaidAmount,
			dateArg(doc.IssueDate), dateArg(doc.DueDate), dateArg(doc.ShipDate), dateArg(doc.DeliveryDate), doc.Notes,
			jsonArg(doc.FromDetails), jsonArg(doc.CustomerDetails), jsonArg(doc.TemplateSettings),
			doc.CustomerID, doc.SourceDocumentID, doc.CreatedBy,
		)
		if err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
		if row, ok := db.First(rows); ok {
			doc.CreatedAt = timestamp(row["created_at"])
			doc.UpdatedAt = timestamp(row["updated_at"])
		}
		return insertLines(ctx, q, doc.ID, doc.Lines)
	})
}

// Update rewrites the parent and replaces every line inside one transaction, so
// readers never observe the document without lines.
func (r *Repository) Update(ctx context.Context, doc *Document) error {
	return r.store.InTx(ctx, func(q db.Querier) error {
		rows, err := q.Select(ctx, `UPDATE documents SET
			currency = $1, vat_rate = $2, tax_rate = $3, include_vat = $4, include_tax = $5,
			gross_total = $6, discount_amount = $7, subtotal = $8, vat_amount = $9, tax_amount = $10, total = $11,
			issue_date = $12, due_date = $13, ship_date = $14, delivery_date = $15, notes = $16,
			from_details = $17, customer_details = $18, template_settings = $19,
			customer_id = $20, source_document_id = $21, updated_at = NOW()
		WHERE id = $22 AND scope_id = $23 AND kind = $24
		RETURNING updated_at`,
			doc.Currency, doc.VATRate, doc.TaxRate, doc.IncludeVAT, doc.IncludeTax,
			doc.GrossTotal, doc.DiscountAmount, doc.Subtotal, doc.VATAmount, doc.TaxAmount, doc.Total,
			dateArg(doc.IssueDate), dateArg(doc.DueDate), dateArg(doc.ShipDate), dateArg(doc.DeliveryDate), doc.Notes,
			jsonArg(doc.FromDetails), jsonArg(doc.CustomerDetails), jsonArg(doc.TemplateSettings),
			doc.CustomerID, doc.SourceDocumentID,
			doc.ID, doc.ScopeID, string(doc.Kind),
		)
		if err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		row, ok := db.First(rows)
		if !ok {
			return fmt.Errorf("%s %s: %w", doc.Kind, doc.ID, shared.ErrNotFound)
		}
		doc.UpdatedAt = timestamp(row["updated_at"])

		if _, err := q.Exec(ctx, `DELETE FROM document_lines WHERE document_id = $1`, doc.ID); err != nil {
			return fmt.Errorf("delete document lines: %w", err)
		}
		return insertLines(ctx, q, doc.ID, doc.Lines)
	})
}

const lineArity = 11

func insertLines(ctx context.Context, q db.Querier, docID uuid.UUID, lines []LineItem) error {
	if len(lines) == 0 {
		return nil
	}
	tuples := make([]string, len(lines))
	args := make([]any, 0, len(lines)*lineArity)
	for i := range lines {
		l := &lines[i]
		if l.ID == uuid.Nil {
			l.ID = uuid.New()
		}
		l.DocumentID = docID
		l.Position = i + 1
		holders := make([]string, lineArity)
		for j := range holders {
			holders[j] = "$" + strconv.Itoa(i*lineArity+j+1)
		}
		tuples[i] = "(" + strings.Join(holders, ", ") + ")"
		args = append(args, l.ID, docID, l.Position, l.ProductName, l.Description, l.Quantity,
			l.Unit, l.UnitPrice, l.DiscountPercent, l.VATRatePercent, l.LineTotal)
	}
	_, err := q.Exec(ctx, `INSERT INTO document_lines (
		id, document_id, position, product_name, description, quantity,
		unit, unit_price, discount_percent, vat_rate_percent, line_total
	) VALUES `+strings.Join(tuples, ", "), args...)
	if err != nil {
		return fmt.Errorf("insert document lines: %w", err)
	}
	return nil
}

// UpdateStatus sets the status of one scoped document.
func (r *Repository) UpdateStatus(ctx context.Context, scope uuid.UUID, kind Kind, id uuid.UUID, status Status) error {
	n, err := r.store.Exec(ctx,
		`UPDATE documents SET status = $1, updated_at = NOW() WHERE id = $2 AND scope_id = $3 AND kind = $4`,
		string(status), id, scope, string(kind))
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, shared.ErrNotFound)
	}
	return nil
}

// ApplyPayment adds amount to the paid total and stores the status chosen by
// classify from the full paid amount, all in one transaction.
func (r *Repository) ApplyPayment(ctx context.Context, scope, id uuid.UUID, amount decimal.Decimal, classify func(paid, total decimal.Decimal, current Status) Status) (PaymentResult, error) {
	var out PaymentResult
	err := r.store.InTx(ctx, func(q db.Querier) error {
		rows, err := q.Select(ctx,
			`UPDATE documents SET paid_amount = paid_amount + $1, updated_at = NOW()
			WHERE id = $2 AND scope_id = $3 AND kind = $4
			RETURNING paid_amount, total, status`,
			amount, id, scope, string(KindInvoice))
		if err != nil {
			return fmt.Errorf("apply payment: %w", err)
		}
		row, ok := db.First(rows)
		if !ok {
			return fmt.Errorf("invoice %s: %w", id, shared.ErrNotFound)
		}
		out.PaidAmount = decimalOf(row["paid_amount"])
		out.Total = decimalOf(row["total"])
		current := Status(stringOf(row["status"]))
		out.Status = classify(out.PaidAmount, out.Total, current)
		if out.Status == current {
			return nil
		}
		if _, err := q.Exec(ctx, `UPDATE documents SET status = $1 WHERE id = $2`, string(out.Status), id); err != nil {
			return fmt.Errorf("store payment status: %w", err)
		}
		return nil
	})
	return out, err
}

// Delete removes a scoped document. Lines cascade.
func (r *Repository) Delete(ctx context.Context, scope uuid.UUID, kind Kind, id uuid.UUID) error {
	n, err := r.store.Exec(ctx, `DELETE FROM documents WHERE id = $1 AND scope_id = $2 AND kind = $3`, id, scope, string(kind))
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, shared.ErrNotFound)
	}
	return nil
}

// ErrStopIteration ends EachStored early without reporting an error.
var ErrStopIteration = errors.New("stop iteration")

// EachStored walks every document of kind across all scopes in id order,
// batchSize parents at a time, and calls fn with lines attached.
func (r *Repository) EachStored(ctx context.Context, kind Kind, batchSize int, fn func(Document) error) error {
	if batchSize <= 0 {
		batchSize = query.MaxPageSize
	}
	after := uuid.Nil
	for {
		b := query.New().Require("d.kind", string(kind))
		clause, args := b.Predicate()
		next := b.Next()
		sql := fmt.Sprintf("SELECT %s, %s %s WHERE %s AND d.id > $%d ORDER BY d.id LIMIT $%d",
			documentColumns, relationColumns, documentFrom, clause, next, next+1)
		rows, err := r.store.Select(ctx, sql, append(args, after, batchSize)...)
		if err != nil {
			return fmt.Errorf("scan stored documents: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		docs, err := r.attachLines(ctx, rows)
		if err != nil {
			return err
		}
		for _, d := range docs {
			if err := fn(d); err != nil {
				if errors.Is(err, ErrStopIteration) {
					return nil
				}
				return err
			}
		}
		if len(rows) < batchSize {
			return nil
		}
		after = docs[len(docs)-1].ID
	}
}

func dateArg(s *string) any {
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil
	}
	return t
}
