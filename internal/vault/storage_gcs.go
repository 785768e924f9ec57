package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
)

// GCSStorage keeps files in a Google Cloud Storage bucket.
type GCSStorage struct {
	bkt *storage.BucketHandle
}

// NewGCSStorage wraps a bucket handle.
func NewGCSStorage(bkt *storage.BucketHandle) *GCSStorage {
	return &GCSStorage{bkt: bkt}
}

// Upload streams body into scope/uuid-name.
func (g *GCSStorage) Upload(ctx context.Context, scope string, body io.Reader, name, mimeType string) (StoredObject, error) {
	objectName := objectPath(scope, name)
	w := g.bkt.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = mimeType
	n, err := io.Copy(w, body)
	if err != nil {
		_ = w.Close()
		return StoredObject{}, fmt.Errorf("vault/gcs: write %s: %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return StoredObject{}, fmt.Errorf("vault/gcs: finalize %s: %w", objectName, err)
	}
	return StoredObject{Path: objectName, Size: n, MimeType: mimeType}, nil
}

// Open reads an object.
func (g *GCSStorage) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	r, err := g.bkt.Object(p).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("vault/gcs: open %s: %w", p, err)
	}
	return r, nil
}

// Delete removes an object. Already deleted objects are not an error.
func (g *GCSStorage) Delete(ctx context.Context, p string) error {
	if err := g.bkt.Object(p).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("vault/gcs: delete %s: %w", p, err)
	}
	return nil
}

// SignedURL issues a V4 GET URL valid for ttl.
func (g *GCSStorage) SignedURL(_ context.Context, p string, ttl time.Duration) (string, error) {
	u, err := g.bkt.SignedURL(p, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("vault/gcs: sign %s: %w", p, err)
	}
	return u, nil
}
