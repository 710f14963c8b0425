package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// LocalStore writes blobs to a single flat directory. Keys are the file
// names, shaped as {field}-{timestamp}{ext}.
type LocalStore struct {
	dir     string
	baseURL string
	now     func() time.Time
}

// NewLocalStore creates the directory if needed. baseURL, when non-empty,
// is the public path prefix reported by LocatorFor.
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("attachment directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create attachment directory: %w", err)
	}
	return &LocalStore{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}, nil
}

func (s *LocalStore) Store(ctx context.Context, upload Upload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := fmt.Sprintf("%s-%d%s", sanitizeField(upload.Field), s.now().UnixNano(), extensionFor(upload.Filename))
	dest := filepath.Join(s.dir, key)

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp attachment: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(upload.Data); err != nil {
		return "", fmt.Errorf("write attachment: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close attachment: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return "", fmt.Errorf("commit attachment: %w", err)
	}
	success = true
	return key, nil
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateLocalKey(key); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, key)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("delete attachment: %w", err)
	}
	return nil
}

func (s *LocalStore) LocatorFor(key string) (string, bool) {
	if s.baseURL == "" || validateLocalKey(key) != nil {
		return "", false
	}
	return s.baseURL + "/" + key, true
}

// validateLocalKey rejects anything that could escape the flat directory.
func validateLocalKey(key string) error {
	if key == "" {
		return errors.New("attachment key is empty")
	}
	if strings.ContainsAny(key, "/\\") || key != path.Clean(key) || strings.HasPrefix(key, ".") {
		return fmt.Errorf("attachment key %q is not managed by this store", key)
	}
	return nil
}

var _ Store = (*LocalStore)(nil)
