package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/odyssey-erp/backoffice/internal/platform/validate"
	"github.com/odyssey-erp/backoffice/internal/query"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

const excerptBytes = 8 << 10

// Store is the persistence contract of the service. *Repository satisfies it.
type Store interface {
	Insert(ctx context.Context, f *File) error
	Get(ctx context.Context, scope, id uuid.UUID) (*File, error)
	List(ctx context.Context, scope uuid.UUID, f ListFilter) ([]File, query.Cursor, error)
	ApplyClassification(ctx context.Context, id uuid.UUID, c Classification, fallbackTitle string) error
	SetStatus(ctx context.Context, id uuid.UUID, status ProcessingStatus) error
	Delete(ctx context.Context, scope, id uuid.UUID) (string, error)
}

// ScopeResolver maps a company to its data scope.
type ScopeResolver interface {
	ResolveScope(ctx context.Context, companyID uuid.UUID) uuid.UUID
}

// Auditor records actions without failing the caller.
type Auditor interface {
	Record(ctx context.Context, entry shared.AuditEntry)
}

// Deps are the optional collaborators of a Service.
type Deps struct {
	Classifier Classifier
	Queue      ProcessEnqueuer
	Audit      Auditor
	Logger     *slog.Logger
}

// Service runs vault operations.
type Service struct {
	store      Store
	files      FileStorage
	scopes     ScopeResolver
	classifier Classifier
	queue      ProcessEnqueuer
	audit      Auditor
	validate   *validate.Validator
	logger     *slog.Logger
}

// NewService constructs a vault service.
func NewService(store Store, files FileStorage, scopes ScopeResolver, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      store,
		files:      files,
		scopes:     scopes,
		classifier: deps.Classifier,
		queue:      deps.Queue,
		audit:      deps.Audit,
		validate:   validate.New(),
		logger:     logger,
	}
}

// Upload stores the bytes, records a pending row and queues classification.
// A queue failure leaves the file pending and is only logged.
func (s *Service) Upload(ctx context.Context, who shared.Identity, in UploadInput) (*File, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}
	if in.Body == nil {
		return nil, fmt.Errorf("%w: empty upload", shared.ErrValidation)
	}
	scope := s.scopes.ResolveScope(ctx, who.CompanyID)
	obj, err := s.files.Upload(ctx, scope.String(), in.Body, in.FileName, in.MimeType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrInternal, err)
	}
	f := &File{
		ID:               uuid.New(),
		ScopeID:          scope,
		Title:            TitleFromFileName(in.FileName),
		FileName:         in.FileName,
		StoragePath:      obj.Path,
		MimeType:         obj.MimeType,
		Size:             obj.Size,
		ProcessingStatus: StatusPending,
		Tags:             []string{},
		CreatedBy:        who.ActorID,
	}
	if err := s.store.Insert(ctx, f); err != nil {
		if delErr := s.files.Delete(ctx, obj.Path); delErr != nil {
			s.logger.Warn("orphaned vault object", slog.String("path", obj.Path), slog.Any("error", delErr))
		}
		return nil, err
	}
	if s.queue != nil {
		if err := s.queue.EnqueueVaultProcess(ctx, f.ID, scope); err != nil {
			s.logger.Error("enqueue vault processing failed", slog.String("file_id", f.ID.String()), slog.Any("error", err))
		}
	}
	s.record(ctx, who, "vault.upload", f.ID, map[string]any{"file_name": f.FileName, "size": f.Size})
	return f, nil
}

// Process classifies a stored file. Without a classifier the filename title is
// kept and the file is marked processed; a classifier error marks it failed.
func (s *Service) Process(ctx context.Context, scope, id uuid.UUID) error {
	f, err := s.store.Get(ctx, scope, id)
	if err != nil {
		return err
	}
	if s.classifier == nil {
		return s.store.SetStatus(ctx, id, StatusProcessed)
	}
	ref := Reference{FileName: f.FileName, MimeType: f.MimeType, Excerpt: s.excerpt(ctx, f)}
	c, err := s.classifier.Classify(ctx, ref)
	if err != nil {
		s.logger.Warn("vault classification failed", slog.String("file_id", id.String()), slog.Any("error", err))
		return s.store.SetStatus(ctx, id, StatusFailed)
	}
	return s.store.ApplyClassification(ctx, id, c, f.Title)
}

// excerpt returns leading text of textual files; binary content yields "".
func (s *Service) excerpt(ctx context.Context, f *File) string {
	if !isTextual(f.MimeType) {
		return ""
	}
	r, err := s.files.Open(ctx, f.StoragePath)
	if err != nil {
		s.logger.Debug("vault excerpt unavailable", slog.Any("error", err))
		return ""
	}
	defer r.Close()
	buf, err := io.ReadAll(io.LimitReader(r, excerptBytes))
	if err != nil && !errors.Is(err, io.EOF) {
		return ""
	}
	for len(buf) > 0 && !utf8.Valid(buf) {
		buf = buf[:len(buf)-1]
	}
	return string(buf)
}

func isTextual(mime string) bool {
	mime = strings.ToLower(mime)
	return strings.HasPrefix(mime, "text/") || strings.Contains(mime, "json") || strings.Contains(mime, "xml") || mime == "application/csv"
}

// List returns a cursor page. Store failures degrade to an empty page with Error set.
func (s *Service) List(ctx context.Context, companyID uuid.UUID, f ListFilter) ListResult {
	scope := s.scopes.ResolveScope(ctx, companyID)
	items, cursor, err := s.store.List(ctx, scope, f)
	if err != nil {
		s.logger.Error("list vault documents failed", slog.String("scope_id", scope.String()), slog.Any("error", err))
		return ListResult{Items: []File{}, Error: true}
	}
	if items == nil {
		items = []File{}
	}
	return ListResult{Items: items, NextCursor: cursor.Next(len(items))}
}

// Get loads one scoped file.
func (s *Service) Get(ctx context.Context, companyID, id uuid.UUID) (*File, error) {
	return s.store.Get(ctx, s.scopes.ResolveScope(ctx, companyID), id)
}

// SignedURL returns a time limited download link.
func (s *Service) SignedURL(ctx context.Context, companyID, id uuid.UUID, ttl time.Duration) (string, error) {
	f, err := s.Get(ctx, companyID, id)
	if err != nil {
		return "", err
	}
	u, err := s.files.SignedURL(ctx, f.StoragePath, ttl)
	if err != nil {
		return "", fmt.Errorf("%w: %w", shared.ErrInternal, err)
	}
	return u, nil
}

// Delete removes the row first, then the bytes. A storage failure is logged.
func (s *Service) Delete(ctx context.Context, who shared.Identity, id uuid.UUID) error {
	scope := s.scopes.ResolveScope(ctx, who.CompanyID)
	p, err := s.store.Delete(ctx, scope, id)
	if err != nil {
		return err
	}
	if err := s.files.Delete(ctx, p); err != nil {
		s.logger.Warn("vault object delete failed", slog.String("path", p), slog.Any("error", err))
	}
	s.record(ctx, who, "vault.delete", id, nil)
	return nil
}

func (s *Service) record(ctx context.Context, who shared.Identity, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, shared.AuditEntry{ActorID: who.ActorID, Action: action, EntityType: "vault_document", EntityID: &id, Meta: meta})
}
