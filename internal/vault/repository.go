package vault

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/backoffice/internal/batch"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/query"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

const fileColumns = `d.id, d.scope_id, d.title, d.summary, d.file_name, d.storage_path, d.mime_type,
	d.size_bytes, d.language, d.document_date, d.processing_status, d.created_by, d.created_at, d.updated_at`

var fileSort = query.NewSortSpec(map[string]string{
	"created_at": "d.created_at",
	"title":      "d.title",
	"size":       "d.size_bytes",
	"date":       "d.document_date",
}, "d.id")

var fileSearch = []string{"d.title", "d.summary", "d.file_name"}

type tagRow struct {
	DocumentID uuid.UUID
	Name       string
}

var tagLoader = batch.MustLoader(batch.Spec[uuid.UUID, tagRow]{
	Table:      "vault_document_tags",
	ForeignKey: "document_id",
	Columns:    []string{"document_id", "name"},
	OrderBy:    "name",
	Scan: func(r db.Row) (tagRow, error) {
		id := asUUID(r["document_id"])
		if id == uuid.Nil {
			return tagRow{}, fmt.Errorf("vault: tag row without document id")
		}
		name, _ := r["name"].(string)
		return tagRow{DocumentID: id, Name: name}, nil
	},
	Key: func(t tagRow) uuid.UUID { return t.DocumentID },
})

// Repository persists vault files and their tags.
type Repository struct {
	store db.Store
}

// NewRepository constructs a Repository.
func NewRepository(store db.Store) *Repository {
	return &Repository{store: store}
}

// Insert stores a new file row.
func (r *Repository) Insert(ctx context.Context, f *File) error {
	rows, err := r.store.Select(ctx, `INSERT INTO vault_documents (
		id, scope_id, title, file_name, storage_path, mime_type, size_bytes, processing_status, created_by, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW()) RETURNING created_at, updated_at`,
		f.ID, f.ScopeID, f.Title, f.FileName, f.StoragePath, f.MimeType, f.Size, string(f.ProcessingStatus), f.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert vault document: %w", err)
	}
	if row, ok := db.First(rows); ok {
		f.CreatedAt = timestamp(row["created_at"])
		f.UpdatedAt = timestamp(row["updated_at"])
	}
	return nil
}

// Get loads one scoped file.
func (r *Repository) Get(ctx context.Context, scope, id uuid.UUID) (*File, error) {
	if scope == uuid.Nil || id == uuid.Nil {
		return nil, fmt.Errorf("vault document %s: %w", id, shared.ErrNotFound)
	}
	where, args := query.New().Require("d.id", id).Require("d.scope_id", scope).Where()
	rows, err := r.store.Select(ctx, "SELECT "+fileColumns+" FROM vault_documents d "+where+" LIMIT 1", args...)
	if err != nil {
		return nil, fmt.Errorf("get vault document: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("vault document %s: %w", id, shared.ErrNotFound)
	}
	files, err := r.withTags(ctx, rows)
	if err != nil {
		return nil, err
	}
	return &files[0], nil
}

// List returns one cursor page of scoped files.
func (r *Repository) List(ctx context.Context, scope uuid.UUID, f ListFilter) ([]File, query.Cursor, error) {
	b := query.New().
		Require("d.scope_id", scope).
		Eq("d.processing_status", string(f.Status)).
		Search(fileSearch, f.Search).
		InSelect("d.id", "vault_document_tags", "document_id", "name", query.Values(NormalizeTags(f.Tags)))
	where, args := b.Where()
	cursor := query.DecodeCursor(f.Cursor, f.Limit)
	limit, pageArgs := cursor.Clause(b.Next())
	sql := "SELECT " + fileColumns + " FROM vault_documents d " + where + " " + fileSort.Resolve(f.Sort, f.Dir).Clause() + " " + limit
	rows, err := r.store.Select(ctx, sql, append(args, pageArgs...)...)
	if err != nil {
		return nil, cursor, fmt.Errorf("list vault documents: %w", err)
	}
	files, err := r.withTags(ctx, rows)
	if err != nil {
		return nil, cursor, err
	}
	return files, cursor, nil
}

func (r *Repository) withTags(ctx context.Context, rows []db.Row) ([]File, error) {
	ids := make([]uuid.UUID, len(rows))
	for i, row := range rows {
		ids[i] = asUUID(row["id"])
	}
	groups, err := tagLoader.Load(ctx, r.store, ids)
	if err != nil {
		return nil, fmt.Errorf("load vault tags: %w", err)
	}
	files := make([]File, len(rows))
	for i, row := range rows {
		files[i] = scanFile(row)
		tags := groups.Get(files[i].ID)
		files[i].Tags = make([]string, len(tags))
		for j, t := range tags {
			files[i].Tags[j] = t.Name
		}
	}
	return files, nil
}

// ApplyClassification stores classifier output and replaces the tag set in one
// transaction.
func (r *Repository) ApplyClassification(ctx context.Context, id uuid.UUID, c Classification, fallbackTitle string) error {
	title := strings.TrimSpace(c.Title)
	if title == "" {
		title = fallbackTitle
	}
	return r.store.InTx(ctx, func(q db.Querier) error {
		n, err := q.Exec(ctx, `UPDATE vault_documents SET
			title = $1, summary = $2, language = $3, document_date = $4, processing_status = $5, updated_at = NOW()
			WHERE id = $6`,
			title, nullString(c.Summary), nullString(c.Language), dateArg(c.Date), string(StatusProcessed), id)
		if err != nil {
			return fmt.Errorf("store classification: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("vault document %s: %w", id, shared.ErrNotFound)
		}
		if _, err := q.Exec(ctx, `DELETE FROM vault_document_tags WHERE document_id = $1`, id); err != nil {
			return fmt.Errorf("clear vault tags: %w", err)
		}
		tags := NormalizeTags(c.Tags)
		if len(tags) == 0 {
			return nil
		}
		tuples := make([]string, len(tags))
		args := make([]any, 0, len(tags)*2)
		for i, t := range tags {
			tuples[i] = "($" + strconv.Itoa(2*i+1) + ", $" + strconv.Itoa(2*i+2) + ")"
			args = append(args, id, t)
		}
		if _, err := q.Exec(ctx, "INSERT INTO vault_document_tags (document_id, name) VALUES "+strings.Join(tuples, ", "), args...); err != nil {
			return fmt.Errorf("insert vault tags: %w", err)
		}
		return nil
	})
}

// SetStatus records the processing state of a file.
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, status ProcessingStatus) error {
	if _, err := r.store.Exec(ctx, `UPDATE vault_documents SET processing_status = $1, updated_at = NOW() WHERE id = $2`, string(status), id); err != nil {
		return fmt.Errorf("set vault status: %w", err)
	}
	return nil
}

// Delete removes a scoped file row and returns its storage path.
func (r *Repository) Delete(ctx context.Context, scope, id uuid.UUID) (string, error) {
	rows, err := r.store.Select(ctx, `DELETE FROM vault_documents WHERE id = $1 AND scope_id = $2 RETURNING storage_path`, id, scope)
	if err != nil {
		return "", fmt.Errorf("delete vault document: %w", err)
	}
	row, ok := db.First(rows)
	if !ok {
		return "", fmt.Errorf("vault document %s: %w", id, shared.ErrNotFound)
	}
	p, _ := row["storage_path"].(string)
	return p, nil
}

func scanFile(row db.Row) File {
	f := File{
		ID:               asUUID(row["id"]),
		ScopeID:          asUUID(row["scope_id"]),
		FileName:         str(row["file_name"]),
		StoragePath:      str(row["storage_path"]),
		MimeType:         str(row["mime_type"]),
		Title:            str(row["title"]),
		Summary:          optString(row["summary"]),
		Language:         optString(row["language"]),
		DocumentDate:     optTimestamp(row["document_date"]),
		ProcessingStatus: ProcessingStatus(str(row["processing_status"])),
		CreatedAt:        timestamp(row["created_at"]),
		UpdatedAt:        timestamp(row["updated_at"]),
	}
	switch n := row["size_bytes"].(type) {
	case int64:
		f.Size = n
	case int32:
		f.Size = int64(n)
	case int:
		f.Size = int64(n)
	}
	if id := asUUID(row["created_by"]); id != uuid.Nil {
		f.CreatedBy = &id
	}
	return f
}

func asUUID(v any) uuid.UUID {
	switch t := v.(type) {
	case uuid.UUID:
		return t
	case [16]byte:
		return uuid.UUID(t)
	case string:
		id, _ := uuid.Parse(t)
		return id
	}
	return uuid.Nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func optString(v any) *string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func timestamp(v any) string {
	t, ok := v.(time.Time)
	if !ok || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func optTimestamp(v any) *string {
	s := timestamp(v)
	if s == "" {
		return nil
	}
	return &s
}

func nullString(s string) any {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return s
}

func dateArg(s string) any {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return t
}
