package vault

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrBadSignature is returned when a download token is forged or expired.
var ErrBadSignature = errors.New("vault: invalid or expired signature")

// LocalStorage keeps files on disk and signs download links with HMAC-SHA256.
type LocalStorage struct {
	root    string
	baseURL string
	key     []byte
	now     func() time.Time
}

// NewLocalStorage stores files under root. Signed URLs point at baseURL, which
// must route to VerifyAndOpen.
func NewLocalStorage(root, baseURL string, key []byte) (*LocalStorage, error) {
	if len(key) == 0 {
		return nil, errors.New("vault: signing key required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("vault: create storage dir: %w", err)
	}
	return &LocalStorage{root: root, baseURL: strings.TrimRight(baseURL, "/"), key: key, now: time.Now}, nil
}

// Upload writes body to scope/uuid-name.
func (s *LocalStorage) Upload(_ context.Context, scope string, body io.Reader, name, mimeType string) (StoredObject, error) {
	rel := objectPath(scope, name)
	full, err := s.resolve(rel)
	if err != nil {
		return StoredObject{}, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return StoredObject{}, fmt.Errorf("vault: create scope dir: %w", err)
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return StoredObject{}, fmt.Errorf("vault: create file: %w", err)
	}
	n, copyErr := io.Copy(f, body)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(full)
		return StoredObject{}, fmt.Errorf("vault: write file: %w", err)
	}
	return StoredObject{Path: rel, Size: n, MimeType: mimeType}, nil
}

// Open reads a stored file.
func (s *LocalStorage) Open(_ context.Context, p string) (io.ReadCloser, error) {
	full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	return os.Open(full)
}

// Delete removes a stored file. Missing files are not an error.
func (s *LocalStorage) Delete(_ context.Context, p string) error {
	full, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("vault: delete file: %w", err)
	}
	return nil
}

// SignedURL returns baseURL/path?expires=unix&sig=hex.
func (s *LocalStorage) SignedURL(_ context.Context, p string, ttl time.Duration) (string, error) {
	if _, err := s.resolve(p); err != nil {
		return "", err
	}
	expires := s.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", s.sign(p, expires))
	return s.baseURL + "/" + p + "?" + q.Encode(), nil
}

// VerifyAndOpen checks a download signature and opens the file.
func (s *LocalStorage) VerifyAndOpen(ctx context.Context, p, expires, sig string) (io.ReadCloser, error) {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil || s.now().Unix() > exp {
		return nil, ErrBadSignature
	}
	if !hmac.Equal([]byte(sig), []byte(s.sign(p, exp))) {
		return nil, ErrBadSignature
	}
	return s.Open(ctx, p)
}

func (s *LocalStorage) sign(p string, expires int64) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(p))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// resolve maps a relative object path into root, refusing traversal.
func (s *LocalStorage) resolve(p string) (string, error) {
	clean := path.Clean("/" + p)
	if clean == "/" || strings.Contains(p, "..") {
		return "", fmt.Errorf("vault: invalid path %q", p)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func objectPath(scope, name string) string {
	base := filepath.Base(name)
	base = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r < 0x20 {
			return '_'
		}
		return r
	}, base)
	if base == "" || base == "." || base == ".." {
		base = "file"
	}
	return scope + "/" + uuid.NewString() + "-" + base
}
