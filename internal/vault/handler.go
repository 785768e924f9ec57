package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// MaxUploadBytes bounds a single multipart upload.
const MaxUploadBytes = 32 << 20

// Downloader serves signed local downloads.
type Downloader interface {
	VerifyAndOpen(ctx context.Context, p, expires, sig string) (io.ReadCloser, error)
}

// Handler serves the vault JSON API.
type Handler struct {
	logger  *slog.Logger
	service *Service
	urlTTL  time.Duration
}

// NewHandler builds a Handler. urlTTL is the lifetime of signed links.
func NewHandler(logger *slog.Logger, service *Service, urlTTL time.Duration) *Handler {
	if urlTTL <= 0 {
		urlTTL = 15 * time.Minute
	}
	return &Handler{logger: logger, service: service, urlTTL: urlTTL}
}

// MountRoutes registers vault routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.upload)
	r.Get("/{id}", h.show)
	r.Get("/{id}/url", h.signedURL)
	r.Delete("/{id}", h.delete)
}

// MountDownloads serves files signed by LocalStorage under r.
func MountDownloads(r chi.Router, d Downloader, logger *slog.Logger) {
	r.Get("/*", func(w http.ResponseWriter, req *http.Request) {
		p := chi.URLParam(req, "*")
		body, err := d.VerifyAndOpen(req.Context(), p, req.URL.Query().Get("expires"), req.URL.Query().Get("sig"))
		if err != nil {
			if errors.Is(err, ErrBadSignature) {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
				return
			}
			logger.Warn("vault download failed", slog.String("path", p), slog.Any("error", err))
			httpx.Problem(w, http.StatusNotFound, "Not Found", "")
			return
		}
		defer body.Close()
		if ct := mime.TypeByExtension(path.Ext(p)); ct != "" {
			w.Header().Set("Content-Type", ct)
		} else {
			w.Header().Set("Content-Type", "application/octet-stream")
		}
		w.Header().Set("Content-Disposition", "attachment")
		_, _ = io.Copy(w, body)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	who, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrNoIdentity)
		return
	}
	q := r.URL.Query()
	f := ListFilter{
		Search: q.Get("search"),
		Status: ProcessingStatus(q.Get("status")),
		Sort:   q.Get("sort"),
		Dir:    q.Get("dir"),
		Cursor: q.Get("cursor"),
	}
	for _, raw := range q["tag"] {
		f.Tags = append(f.Tags, strings.Split(raw, ",")...)
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	if f.Limit == 0 {
		f.Limit = 20
	}
	httpx.JSON(w, http.StatusOK, h.service.List(r.Context(), who.CompanyID, f))
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	who, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrNoIdentity)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrValidation, err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: file field required", shared.ErrValidation))
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	f, err := h.service.Upload(r.Context(), who, UploadInput{FileName: header.Filename, MimeType: mimeType, Body: file})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, f)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	who, id, ok := target(w, r)
	if !ok {
		return
	}
	f, err := h.service.Get(r.Context(), who.CompanyID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, f)
}

func (h *Handler) signedURL(w http.ResponseWriter, r *http.Request) {
	who, id, ok := target(w, r)
	if !ok {
		return
	}
	u, err := h.service.SignedURL(r.Context(), who.CompanyID, id, h.urlTTL)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"url": u, "expires_in": int(h.urlTTL.Seconds())})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	who, id, ok := target(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), who, id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func target(w http.ResponseWriter, r *http.Request) (shared.Identity, uuid.UUID, bool) {
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
	return who, id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Warn("vault request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}
