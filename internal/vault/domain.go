// Package vault stores uploaded files with searchable metadata. Classification
// runs in the background and is optional; without it a file keeps the title
// derived from its name.
package vault

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// ProcessingStatus tracks background classification.
type ProcessingStatus string

const (
	StatusPending   ProcessingStatus = "pending"
	StatusProcessed ProcessingStatus = "processed"
	StatusFailed    ProcessingStatus = "failed"
)

// File is one vault entry.
type File struct {
	ID               uuid.UUID        `json:"id"`
	ScopeID          uuid.UUID        `json:"scope_id"`
	Title            string           `json:"title"`
	Summary          *string          `json:"summary,omitempty"`
	FileName         string           `json:"file_name"`
	StoragePath      string           `json:"-"`
	MimeType         string           `json:"mime_type"`
	Size             int64            `json:"size"`
	Language         *string          `json:"language,omitempty"`
	DocumentDate     *string          `json:"document_date,omitempty"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	Tags             []string         `json:"tags"`
	CreatedBy        *uuid.UUID       `json:"created_by,omitempty"`
	CreatedAt        string           `json:"created_at"`
	UpdatedAt        string           `json:"updated_at"`
}

// StoredObject describes bytes written to FileStorage.
type StoredObject struct {
	Path     string
	Size     int64
	MimeType string
}

// FileStorage keeps file bytes. Paths are opaque to callers.
type FileStorage interface {
	Upload(ctx context.Context, scope string, body io.Reader, name, mimeType string) (StoredObject, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// Reference is what a classifier receives about a file.
type Reference struct {
	FileName string
	MimeType string
	Excerpt  string
}

// Classification is classifier output. Empty fields mean "unknown".
type Classification struct {
	Title    string   `json:"title" jsonschema:"description=Short human readable document title"`
	Summary  string   `json:"summary" jsonschema:"description=One or two sentence summary"`
	Tags     []string `json:"tags" jsonschema:"description=Up to eight lowercase topical tags"`
	Language string   `json:"language" jsonschema:"description=ISO 639-1 language code or empty"`
	Date     string   `json:"date" jsonschema:"description=Primary document date as YYYY-MM-DD or empty"`
}

// Classifier derives metadata from a file.
type Classifier interface {
	Classify(ctx context.Context, ref Reference) (Classification, error)
}

// ProcessEnqueuer schedules background processing of an upload.
type ProcessEnqueuer interface {
	EnqueueVaultProcess(ctx context.Context, fileID, scopeID uuid.UUID) error
}

// UploadInput is a file received from a client.
type UploadInput struct {
	FileName string `validate:"required,max=255"`
	MimeType string `validate:"required,max=127"`
	Body     io.Reader
}

// ListFilter narrows a vault listing.
type ListFilter struct {
	Search string
	Tags   []string
	Status ProcessingStatus
	Sort   string
	Dir    string
	Cursor string
	Limit  int
}

// ListResult is one cursor page. NextCursor is nil on the last page.
type ListResult struct {
	Items      []File  `json:"items"`
	NextCursor *string `json:"next_cursor"`
	Error      bool    `json:"error,omitempty"`
}

// TitleFromFileName turns "q3_board-report.final.pdf" into "q3 board report.final".
func TitleFromFileName(name string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.Map(func(r rune) rune {
		if r == '_' || r == '-' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, base)
	base = strings.Join(strings.Fields(base), " ")
	if base == "" || base == "." {
		return "Untitled document"
	}
	return base
}

// NormalizeTags lowercases, trims and dedupes tags preserving first occurrence.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
