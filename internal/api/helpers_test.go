package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"bookshelf/internal/auth"
	"bookshelf/internal/blob"
	"bookshelf/internal/books"
	"bookshelf/internal/models"
	"bookshelf/internal/storage"
)

func newTestHandler(t *testing.T) (*Handler, *storage.Storage) {
	t.Helper()
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	blobs, err := blob.NewLocalStore(t.TempDir(), "/covers")
	if err != nil {
		t.Fatalf("new blob store: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := auth.NewSessionManager()
	svc := books.NewService(store, blobs, logger)

	handler := New(store, sessions, svc, blobs, logger)
	handler.AllowSelfSignup = true
	return handler, store
}

func createTestUser(t *testing.T, h *Handler, store *storage.Storage, name string, roles ...string) (models.User, string) {
	t.Helper()
	if len(roles) == 0 {
		roles = []string{"user"}
	}
	user, err := store.CreateUser(storage.CreateUserParams{
		DisplayName: name,
		Email:       name + "@example.com",
		Password:    "hunter2hunter2",
		Roles:       roles,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, err := h.Sessions.Create(user.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return user, token
}

func doJSON(t *testing.T, h http.HandlerFunc, method, path, token string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	h(resp, req)
	return resp
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode response %q: %v", resp.Body.String(), err)
	}
}

func errorMessage(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var payload map[string]string
	decodeBody(t, resp, &payload)
	return payload["error"]
}

type multipartField struct {
	name     string
	value    string
	filename string
	data     []byte
}

func newMultipartRequest(t *testing.T, method, path, token string, fields []multipartField) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, field := range fields {
		if field.filename != "" {
			part, err := writer.CreateFormFile(field.name, field.filename)
			if err != nil {
				t.Fatalf("create form file: %v", err)
			}
			if _, err := part.Write(field.data); err != nil {
				t.Fatalf("write form file: %v", err)
			}
			continue
		}
		if err := writer.WriteField(field.name, field.value); err != nil {
			t.Fatalf("write form field: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

// pngBytes is a minimal payload the content sniffer accepts as image/png.
var pngBytes = []byte("\x89PNG\r\n\x1a\n0000000000")
