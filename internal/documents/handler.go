package documents

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/query"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Handler serves the JSON API of one document kind.
type Handler struct {
	logger  *slog.Logger
	service *Service
	spec    KindSpec
}

// NewHandler builds a Handler for kind.
func NewHandler(logger *slog.Logger, service *Service, kind Kind) *Handler {
	spec, ok := Spec(kind)
	if !ok {
		panic(fmt.Sprintf("documents: unknown kind %q", kind))
	}
	return &Handler{logger: logger, service: service, spec: spec}
}

// MountRoutes registers the kind's routes on r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Post("/preview", h.preview)
	r.Get("/{id}", h.show)
	r.Get("/{id}/summary", h.summary)
	r.Put("/{id}", h.update)
	r.Post("/{id}/status", h.updateStatus)
	r.Post("/{id}/send", h.send)
	if h.spec.Kind == KindInvoice {
		r.Post("/{id}/payments", h.recordPayment)
	}
	r.Delete("/{id}", h.delete)
}

// Mount registers a handler per kind under its path, e.g. /invoices.
func Mount(r chi.Router, logger *slog.Logger, service *Service) {
	for _, spec := range Kinds() {
		h := NewHandler(logger, service, spec.Kind)
		r.Route("/"+spec.Path, h.MountRoutes)
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	who, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrNoIdentity)
		return
	}
	result := h.service.List(r.Context(), who.CompanyID, h.parseFilter(r))
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	who, id, ok := h.target(w, r)
	if !ok {
		return
	}
	doc, err := h.service.Get(r.Context(), who.CompanyID, h.spec.Kind, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	who, id, ok := h.target(w, r)
	if !ok {
		return
	}
	sum, err := h.service.Summary(r.Context(), who.CompanyID, h.spec.Kind, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sum)
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	var in PreviewInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.Preview(h.spec.Kind, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	who, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrNoIdentity)
		return
	}
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.Create(r.Context(), who, h.spec.Kind, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	who, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.Update(r.Context(), who, h.spec.Kind, id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	who, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var in StatusInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.UpdateStatus(r.Context(), who, h.spec.Kind, id, in); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	who, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var in SendInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.Send(r.Context(), who, h.spec.Kind, id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, doc)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	who, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var in PaymentInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.RecordPayment(r.Context(), who, id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	who, id, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), who, h.spec.Kind, id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// target extracts identity and the {id} path parameter, answering the request
// itself when either is unusable.
func (h *Handler) target(w http.ResponseWriter, r *http.Request) (shared.Identity, uuid.UUID, bool) {
	who, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrNoIdentity)
		return shared.Identity{}, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid id", shared.ErrValidation))
		return shared.Identity{}, uuid.Nil, false
	}
	if id == uuid.Nil {
		httpx.RespondError(w, fmt.Errorf("%s %s: %w", h.spec.Kind, id, shared.ErrNotFound))
		return shared.Identity{}, uuid.Nil, false
	}
	return who, id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Warn("document request failed",
		slog.String("kind", string(h.spec.Kind)),
		slog.String("path", r.URL.Path),
		slog.Any("error", err))
	httpx.RespondError(w, err)
}

// parseFilter reads list parameters. Unparseable values are dropped.
func (h *Handler) parseFilter(r *http.Request) ListFilter {
	q := r.URL.Query()
	f := ListFilter{
		Kind:      h.spec.Kind,
		Search:    q.Get("search"),
		Sort:      q.Get("sort"),
		Direction: q.Get("dir"),
		Page:      query.ParsePage(q.Get("page"), q.Get("page_size")),
	}
	for _, raw := range q["status"] {
		for _, st := range strings.Split(raw, ",") {
			if st = strings.TrimSpace(st); st != "" {
				f.Statuses = append(f.Statuses, Status(st))
			}
		}
	}
	if id, err := uuid.Parse(q.Get("customer_id")); err == nil {
		f.CustomerID = &id
	}
	f.IssuedFrom = parseDate(q.Get("issued_from"))
	f.IssuedTo = parseDate(q.Get("issued_to"))
	f.MinTotal = parseDecimal(q.Get("min_total"))
	f.MaxTotal = parseDecimal(q.Get("max_total"))
	switch strings.ToLower(q.Get("include_vat")) {
	case "true", "1":
		v := true
		f.IncludeVAT = &v
	case "false", "0":
		v := false
		f.IncludeVAT = &v
	}
	return f
}

func parseDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}

func parseDecimal(raw string) *decimal.Decimal {
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	return &d
}
