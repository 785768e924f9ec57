package documents

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/query"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockStore struct {
	mu        sync.Mutex
	docs      map[uuid.UUID]*Document
	numbers   []string
	createErr []error
	listErr   error
	enqueued  []EmailRequest
	scopes    []uuid.UUID
	paid      map[uuid.UUID]decimal.Decimal
	customers map[uuid.UUID]uuid.UUID
	refChecks []References
}

func newMockStore() *mockStore {
	return &mockStore{docs: map[uuid.UUID]*Document{}, paid: map[uuid.UUID]decimal.Decimal{}, customers: map[uuid.UUID]uuid.UUID{}}
}

func (m *mockStore) CheckReferences(_ context.Context, scope uuid.UUID, refs References) error {
	m.refChecks = append(m.refChecks, refs)
	if refs.CustomerID != nil {
		if owner, ok := m.customers[*refs.CustomerID]; !ok || owner != scope {
			return fmt.Errorf("%w: customer_id", shared.ErrValidation)
		}
	}
	if refs.SourceDocumentID != nil {
		if d, ok := m.docs[*refs.SourceDocumentID]; !ok || d.ScopeID != scope {
			return fmt.Errorf("%w: source_document_id", shared.ErrValidation)
		}
	}
	return nil
}

func (m *mockStore) NextNumber(_ context.Context, kind Kind, year int) (string, error) {
	spec, _ := Spec(kind)
	n := fmt.Sprintf("%s-%d-%05d", spec.Prefix, year, len(m.numbers)+1)
	m.numbers = append(m.numbers, n)
	return n, nil
}

func (m *mockStore) List(_ context.Context, scope uuid.UUID, f ListFilter) ([]Document, int, error) {
	m.scopes = append(m.scopes, scope)
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	var out []Document
	for _, d := range m.docs {
		if d.ScopeID == scope && d.Kind == f.Kind {
			out = append(out, *d)
		}
	}
	return out, len(out), nil
}

func (m *mockStore) Get(_ context.Context, scope uuid.UUID, kind Kind, id uuid.UUID) (*Document, error) {
	m.scopes = append(m.scopes, scope)
	d, ok := m.docs[id]
	if !ok || d.ScopeID != scope || d.Kind != kind {
		return nil, shared.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *mockStore) Create(_ context.Context, doc *Document) error {
	if len(m.createErr) > 0 {
		err := m.createErr[0]
		m.createErr = m.createErr[1:]
		if err != nil {
			return err
		}
	}
	cp := *doc
	m.docs[doc.ID] = &cp
	return nil
}

func (m *mockStore) Update(_ context.Context, doc *Document) error {
	if _, ok := m.docs[doc.ID]; !ok {
		return shared.ErrNotFound
	}
	cp := *doc
	m.docs[doc.ID] = &cp
	return nil
}

func (m *mockStore) UpdateStatus(_ context.Context, scope uuid.UUID, kind Kind, id uuid.UUID, status Status) error {
	d, ok := m.docs[id]
	if !ok || d.ScopeID != scope || d.Kind != kind {
		return shared.ErrNotFound
	}
	d.Status = status
	return nil
}

func (m *mockStore) ApplyPayment(_ context.Context, scope, id uuid.UUID, amount decimal.Decimal, classify func(paid, total decimal.Decimal, current Status) Status) (PaymentResult, error) {
	d, ok := m.docs[id]
	if !ok || d.ScopeID != scope || d.Kind != KindInvoice {
		return PaymentResult{}, shared.ErrNotFound
	}
	d.PaidAmount = d.PaidAmount.Add(amount)
	d.Status = classify(d.PaidAmount, d.Total, d.Status)
	return PaymentResult{PaidAmount: d.PaidAmount, Total: d.Total, Status: d.Status}, nil
}

func (m *mockStore) Delete(_ context.Context, scope uuid.UUID, kind Kind, id uuid.UUID) error {
	d, ok := m.docs[id]
	if !ok || d.ScopeID != scope || d.Kind != kind {
		return shared.ErrNotFound
	}
	delete(m.docs, id)
	return nil
}

func (m *mockStore) EachStored(_ context.Context, kind Kind, _ int, fn func(Document) error) error {
	for _, d := range m.docs {
		if d.Kind == kind {
			if err := fn(*d); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *mockStore) EnqueueDocumentEmail(_ context.Context, req EmailRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueued = append(m.enqueued, req)
	return nil
}

type failingMailer struct{}

func (failingMailer) EnqueueDocumentEmail(context.Context, EmailRequest) error {
	return errors.New("redis unavailable")
}

type fixedScope struct{ scope map[uuid.UUID]uuid.UUID }

func (f fixedScope) ResolveScope(_ context.Context, company uuid.UUID) uuid.UUID {
	if s, ok := f.scope[company]; ok {
		return s
	}
	return company
}

type recordingAudit struct{ actions []string }

func (r *recordingAudit) Record(_ context.Context, e shared.AuditEntry) {
	r.actions = append(r.actions, e.Action)
}

type degradedCounter struct{ kinds []string }

func (d *degradedCounter) ListDegraded(kind string) { d.kinds = append(d.kinds, kind) }

// ============================================================================
// HELPERS
// ============================================================================

func invoiceInput() Input {
	return Input{
		Currency:  "EUR",
		IssueDate: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Lines: []LineInput{
			{ProductName: "Widget", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(100), DiscountPercent: decimal.NewFromInt(10)},
			{ProductName: "Gadget", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(50)},
		},
	}
}

type harness struct {
	store   *mockStore
	audit   *recordingAudit
	metrics *degradedCounter
	svc     *Service
	who     shared.Identity
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	actor := uuid.New()
	h := &harness{
		store:   newMockStore(),
		audit:   &recordingAudit{},
		metrics: &degradedCounter{},
		who:     shared.Identity{CompanyID: uuid.New(), ActorID: &actor},
	}
	h.svc = NewService(h.store, fixedScope{}, Deps{Mailer: h.store, Audit: h.audit, Metrics: h.metrics})
	return h
}

// ============================================================================
// TESTS
// ============================================================================

func TestCreateComputesTotalsAndNumbers(t *testing.T) {
	h := newHarness(t)
	doc, err := h.svc.Create(context.Background(), h.who, KindInvoice, invoiceInput())
	require.NoError(t, err)

	assert.Equal(t, "INV-2024-00001", doc.DocumentNumber)
	assert.Equal(t, StatusDraft, doc.Status)
	assert.Equal(t, h.who.CompanyID, doc.ScopeID)
	assert.True(t, doc.GrossTotal.Equal(decimal.NewFromInt(250)))
	assert.True(t, doc.DiscountAmount.Equal(decimal.NewFromInt(20)))
	assert.True(t, doc.Subtotal.Equal(decimal.NewFromInt(230)))
	assert.True(t, doc.VATAmount.Equal(decimal.NewFromInt(46)))
	assert.True(t, doc.TaxAmount.IsZero())
	assert.True(t, doc.Total.Equal(decimal.NewFromInt(276)))
	assert.True(t, doc.Lines[0].LineTotal.Equal(decimal.NewFromInt(180)))
	assert.True(t, doc.Lines[1].VATRatePercent.Equal(decimal.NewFromInt(20)), "line VAT defaults to the kind rate")
	assert.Equal(t, []string{"document.create"}, h.audit.actions)
}

func TestCreateDeliveryNoteDefaultsToNoVAT(t *testing.T) {
	h := newHarness(t)
	doc, err := h.svc.Create(context.Background(), h.who, KindDeliveryNote, invoiceInput())
	require.NoError(t, err)
	assert.Equal(t, "DN-2024-00001", doc.DocumentNumber)
	assert.False(t, doc.IncludeVAT)
	assert.True(t, doc.Total.Equal(decimal.NewFromInt(230)))
}

func TestCreateRetriesOnceOnConflict(t *testing.T) {
	h := newHarness(t)
	h.store.createErr = []error{fmt.Errorf("insert: %w", shared.ErrConflict)}
	doc, err := h.svc.Create(context.Background(), h.who, KindQuote, invoiceInput())
	require.NoError(t, err)
	assert.Equal(t, "QUO-2024-00002", doc.DocumentNumber)
	assert.Len(t, h.store.numbers, 2)
}

func TestCreateGivesUpAfterSecondConflict(t *testing.T) {
	h := newHarness(t)
	h.store.createErr = []error{shared.ErrConflict, shared.ErrConflict}
	_, err := h.svc.Create(context.Background(), h.who, KindInvoice, invoiceInput())
	assert.ErrorIs(t, err, shared.ErrConflict)
	assert.Len(t, h.store.numbers, 2)
	assert.Empty(t, h.audit.actions)
}

func TestCreateValidatesInput(t *testing.T) {
	h := newHarness(t)
	in := invoiceInput()
	in.Currency = "EURO"
	in.Lines[0].DiscountPercent = decimal.NewFromInt(120)
	_, err := h.svc.Create(context.Background(), h.who, KindInvoice, in)
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.Empty(t, h.store.numbers, "nothing reaches the store")

	_, err = h.svc.Create(context.Background(), h.who, Kind("receipt"), invoiceInput())
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateKeepsNumberAndRecomputes(t *testing.T) {
	h := newHarness(t)
	doc, err := h.svc.Create(context.Background(), h.who, KindInvoice, invoiceInput())
	require.NoError(t, err)

	in := invoiceInput()
	in.Lines = in.Lines[:1]
	updated, err := h.svc.Update(context.Background(), h.who, KindInvoice, doc.ID, in)
	require.NoError(t, err)
	assert.Equal(t, doc.DocumentNumber, updated.DocumentNumber)
	assert.Len(t, updated.Lines, 1)
	assert.True(t, updated.Total.Equal(decimal.NewFromInt(216)))
}

func TestListAndDetailShareFallbackScope(t *testing.T) {
	h := newHarness(t)
	doc, err := h.svc.Create(context.Background(), h.who, KindInvoice, invoiceInput())
	require.NoError(t, err)

	res := h.svc.List(context.Background(), h.who.CompanyID, ListFilter{Kind: KindInvoice})
	require.Len(t, res.Items, 1)
	_, err = h.svc.Get(context.Background(), h.who.CompanyID, KindInvoice, doc.ID)
	require.NoError(t, err)

	require.Len(t, h.store.scopes, 2)
	assert.Equal(t, h.store.scopes[0], h.store.scopes[1])
	assert.Equal(t, h.who.CompanyID, h.store.scopes[0])
}

func TestListIsolatesTenantScopes(t *testing.T) {
	h := newHarness(t)
	tenant := uuid.New()
	sibling := uuid.New()
	h.svc.scopes = fixedScope{scope: map[uuid.UUID]uuid.UUID{h.who.CompanyID: tenant, sibling: tenant}}

	_, err := h.svc.Create(context.Background(), h.who, KindInvoice, invoiceInput())
	require.NoError(t, err)

	assert.Len(t, h.svc.List(context.Background(), sibling, ListFilter{Kind: KindInvoice}).Items, 1, "companies of one tenant share documents")
	assert.Empty(t, h.svc.List(context.Background(), uuid.New(), ListFilter{Kind: KindInvoice}).Items)
}

func TestListDegradesOnStoreFailure(t *testing.T) {
	h := newHarness(t)
	h.store.listErr = shared.ErrInternal
	res := h.svc.List(context.Background(), h.who.CompanyID, ListFilter{Kind: KindQuote, Page: query.NewPage(2, 10)})
	assert.True(t, res.Error)
	assert.NotNil(t, res.Items)
	assert.Empty(t, res.Items)
	assert.Equal(t, 2, res.Pagination.Page)
	assert.Equal(t, []string{"quote"}, h.metrics.kinds)
}

func TestUpdateStatusChecksKindStatuses(t *testing.T) {
	h := newHarness(t)
	doc, err := h.svc.Create(context.Background(), h.who, KindQuote, invoiceInput())
	require.NoError(t, err)

	err = h.svc.UpdateStatus(context.Background(), h.who, KindQuote, doc.ID, StatusInput{Status: StatusPaid})
	assert.ErrorIs(t, err, shared.ErrValidation)

	require.NoError(t, h.svc.UpdateStatus(context.Background(), h.who, KindQuote, doc.ID, StatusInput{Status: StatusAccepted}))
	assert.Equal(t, StatusAccepted, h.store.docs[doc.ID].Status)
}

func TestRecordPaymentClassifiesFromFullPaidAmount(t *testing.T) {
	h := newHarness(t)
	doc, err := h.svc.Create(context.Background(), h.who, KindInvoice, invoiceInput())
	require.NoError(t, err)

	res, err := h.svc.RecordPayment(context.Background(), h.who, doc.ID, PaymentInput{Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, res.Status)

	res, err = h.svc.RecordPayment(context.Background(), h.who, doc.ID, PaymentInput{Amount: decimal.NewFromInt(176)})
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, res.Status)
	assert.True(t, res.PaidAmount.Equal(decimal.NewFromInt(276)))

	_, err = h.svc.RecordPayment(context.Background(), h.who, doc.ID, PaymentInput{Amount: decimal.Zero})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestClassifyPayment(t *testing.T) {
	total := decimal.NewFromInt(100)
	assert.Equal(t, StatusPaid, ClassifyPayment(decimal.NewFromInt(100), total, StatusSent))
	assert.Equal(t, StatusPaid, ClassifyPayment(decimal.NewFromInt(150), total, StatusSent))
	assert.Equal(t, StatusPartial, ClassifyPayment(decimal.RequireFromString("0.01"), total, StatusOverdue))
	assert.Equal(t, StatusOverdue, ClassifyPayment(decimal.Zero, total, StatusOverdue))
}

func TestSendMarksSentAndEnqueues(t *testing.T) {
	h := newHarness(t)
	doc, err := h.svc.Create(context.Background(), h.who, KindInvoice, invoiceInput())
	require.NoError(t, err)

	sent, err := h.svc.Send(context.Background(), h.who, KindInvoice, doc.ID, SendInput{Recipient: "ap@example.com"})
	require.NoError(t, err)
	assert.Equal(t, StatusSent, sent.Status)
	require.Len(t, h.store.enqueued, 1)
	assert.Equal(t, doc.DocumentNumber, h.store.enqueued[0].DocumentNumber)
	assert.Equal(t, "ap@example.com", h.store.enqueued[0].Recipient)
}

func TestSendSurvivesQueueFailure(t *testing.T) {
	h := newHarness(t)
	h.svc.mailer = failingMailer{}
	doc, err := h.svc.Create(context.Background(), h.who, KindInvoice, invoiceInput())
	require.NoError(t, err)

	sent, err := h.svc.Send(context.Background(), h.who, KindInvoice, doc.ID, SendInput{Recipient: "ap@example.com"})
	require.NoError(t, err)
	assert.Equal(t, StatusSent, sent.Status)
	assert.Equal(t, StatusSent, h.store.docs[doc.ID].Status)
}

func TestPreviewMatchesCreate(t *testing.T) {
	h := newHarness(t)
	in := invoiceInput()
	preview, err := h.svc.Preview(KindInvoice, PreviewInput{Lines: in.Lines})
	require.NoError(t, err)
	doc, err := h.svc.Create(context.Background(), h.who, KindInvoice, in)
	require.NoError(t, err)

	assert.True(t, preview.Totals.Equal(doc.StoredTotals()))
	require.Len(t, preview.Lines, 2)
	assert.True(t, preview.Lines[0].Equal(doc.Lines[0].LineTotal))
}

func TestSummaryAndVerifyReportDrift(t *testing.T) {
	h := newHarness(t)
	doc, err := h.svc.Create(context.Background(), h.who, KindInvoice, invoiceInput())
	require.NoError(t, err)

	sum, err := h.svc.Summary(context.Background(), h.who.CompanyID, KindInvoice, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, sum.Drift)

	h.store.docs[doc.ID].Total = decimal.NewFromInt(999)
	sum, err = h.svc.Summary(context.Background(), h.who.CompanyID, KindInvoice, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"total"}, sum.Drift)
	assert.True(t, sum.Totals.Total.Equal(decimal.NewFromInt(276)))

	report, err := h.svc.Verify(context.Background(), KindInvoice, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	require.Len(t, report.Mismatches, 1)
	assert.Equal(t, doc.DocumentNumber, report.Mismatches[0].DocumentNumber)
}

func TestDeleteIsScoped(t *testing.T) {
	h := newHarness(t)
	doc, err := h.svc.Create(context.Background(), h.who, KindInvoice, invoiceInput())
	require.NoError(t, err)

	stranger := shared.Identity{CompanyID: uuid.New()}
	assert.ErrorIs(t, h.svc.Delete(context.Background(), stranger, KindInvoice, doc.ID), shared.ErrNotFound)
	require.NoError(t, h.svc.Delete(context.Background(), h.who, KindInvoice, doc.ID))
	assert.Empty(t, h.store.docs)
}

func TestCreateRejectsReferencesOutsideScope(t *testing.T) {
	h := newHarness(t)
	foreignScope := uuid.New()
	foreignCustomer := uuid.New()
	h.store.customers[foreignCustomer] = foreignScope
	foreignDoc := &Document{ID: uuid.New(), Kind: KindQuote, ScopeID: foreignScope}
	h.store.docs[foreignDoc.ID] = foreignDoc

	in := invoiceInput()
	in.CustomerID = &foreignCustomer
	_, err := h.svc.Create(context.Background(), h.who, KindInvoice, in)
	assert.ErrorIs(t, err, shared.ErrValidation)

	in = invoiceInput()
	in.SourceDocumentID = &foreignDoc.ID
	_, err = h.svc.Create(context.Background(), h.who, KindInvoice, in)
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.Empty(t, h.store.numbers, "no number is minted for a rejected create")

	own := uuid.New()
	h.store.customers[own] = h.who.CompanyID
	in = invoiceInput()
	in.CustomerID = &own
	doc, err := h.svc.Create(context.Background(), h.who, KindInvoice, in)
	require.NoError(t, err)
	assert.Equal(t, &own, doc.CustomerID)
}

func TestUpdateRejectsReferencesOutsideScope(t *testing.T) {
	h := newHarness(t)
	doc, err := h.svc.Create(context.Background(), h.who, KindInvoice, invoiceInput())
	require.NoError(t, err)
	assert.Empty(t, h.store.refChecks, "no references, no lookup")

	foreign := uuid.New()
	h.store.customers[foreign] = uuid.New()
	in := invoiceInput()
	in.CustomerID = &foreign
	_, err = h.svc.Update(context.Background(), h.who, KindInvoice, doc.ID, in)
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.Nil(t, h.store.docs[doc.ID].CustomerID, "stored document is untouched")
}

func TestCreateQuantizesInputsToStoredScale(t *testing.T) {
	h := newHarness(t)
	rate := decimal.RequireFromString("19.12345")
	in := Input{
		Currency:  "EUR",
		IssueDate: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		VATRate:   &rate,
		Lines: []LineInput{{
			ProductName:     "Cable",
			Quantity:        decimal.RequireFromString("1.0000005"),
			UnitPrice:       decimal.RequireFromString("3.3333333"),
			DiscountPercent: decimal.RequireFromString("2.50005"),
		}},
	}
	doc, err := h.svc.Create(context.Background(), h.who, KindInvoice, in)
	require.NoError(t, err)

	assert.Equal(t, "19.1235", doc.VATRate.String())
	assert.Equal(t, "1.000001", doc.Lines[0].Quantity.String())
	assert.Equal(t, "3.333333", doc.Lines[0].UnitPrice.String())
	assert.Equal(t, "2.5001", doc.Lines[0].DiscountPercent.String())

	// Reload the way NUMERIC columns hand values back.
	stored := h.store.docs[doc.ID]
	for _, amount := range []*decimal.Decimal{&stored.GrossTotal, &stored.DiscountAmount, &stored.Subtotal, &stored.VATAmount, &stored.TaxAmount, &stored.Total} {
		*amount = decimal.RequireFromString(amount.StringFixed(6))
	}
	sum, err := h.svc.Summary(context.Background(), h.who.CompanyID, KindInvoice, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, sum.Drift)
}
