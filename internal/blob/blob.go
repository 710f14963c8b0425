// Package blob stores cover-image attachments behind a small capability
// interface with interchangeable local-disk and S3 backends.
package blob

import (
	"context"
	"path/filepath"
	"strings"
)

// Upload is a staged attachment handed to a Store.
type Upload struct {
	// Field is the form field the blob arrived under, e.g. "coverImage".
	Field string
	// Filename is the client-supplied name, used only for its extension.
	Filename string
	// ContentType is the declared MIME type.
	ContentType string
	// Data is the blob body.
	Data []byte
}

// Store persists attachment blobs under generated keys. Keys are opaque to
// callers; only the Store that produced a key may interpret it.
type Store interface {
	// Store persists the blob and returns its key.
	Store(ctx context.Context, upload Upload) (string, error)
	// Delete removes the blob. Deleting an absent key is not an error;
	// deleting a key the store does not manage is.
	Delete(ctx context.Context, key string) error
	// LocatorFor resolves a key to a displayable URL or path when the
	// backend supports it.
	LocatorFor(key string) (string, bool)
}

// extensionFor derives a safe filename extension from the upload, falling
// back to ".bin" when the client name carries none.
func extensionFor(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".bin":
		return ext
	case "":
		return ".bin"
	default:
		if len(ext) > 8 || strings.ContainsAny(ext, "/\\") {
			return ".bin"
		}
		return ext
	}
}

// sanitizeField restricts a form field name to a filesystem-safe token.
func sanitizeField(field string) string {
	field = strings.TrimSpace(field)
	if field == "" {
		return "attachment"
	}
	var builder strings.Builder
	for _, r := range field {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == '-' || r == '_':
			builder.WriteRune(r)
		}
	}
	if builder.Len() == 0 {
		return "attachment"
	}
	return builder.String()
}
