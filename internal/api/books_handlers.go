package api

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"bookshelf/internal/blob"
	"bookshelf/internal/books"
)

const coverFieldName = "coverImage"

// BooksCollection serves GET (list visible records) and POST (create) on
// /api/books.
func (h *Handler) BooksCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listBooks(w, r)
	case http.MethodPost:
		h.createBook(w, r)
	default:
		w.Header().Set("Allow", strings.Join([]string{http.MethodGet, http.MethodPost}, ", "))
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

// BookByID serves GET, PATCH/PUT, and DELETE on /api/books/{id}.
func (h *Handler) BookByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/books/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, errors.New("invalid book id"))
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.getBook(w, r, id)
	case http.MethodPatch, http.MethodPut:
		h.updateBook(w, r, id)
	case http.MethodDelete:
		h.deleteBook(w, r, id)
	default:
		w.Header().Set("Allow", strings.Join([]string{http.MethodGet, http.MethodPatch, http.MethodPut, http.MethodDelete}, ", "))
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) listBooks(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	records, err := h.Books.List(r.Context(), user)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	responses := make([]bookResponse, 0, len(records))
	for _, record := range records {
		responses = append(responses, h.newBookResponse(record))
	}
	writeJSON(w, http.StatusOK, responses)
}

func (h *Handler) getBook(w http.ResponseWriter, r *http.Request, id string) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	record, err := h.Books.Get(r.Context(), user, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.newBookResponse(record))
}

func (h *Handler) createBook(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	form, err := h.parseBookForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	input := books.CreateInput{Upload: form.upload}
	if form.title != nil {
		input.Title = *form.title
	}
	if form.author != nil {
		input.Author = *form.author
	}
	if form.year != nil {
		year, err := books.ParseYear(*form.year)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		input.Year = year
	}

	record, err := h.Books.Create(r.Context(), user, input)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.newBookResponse(record))
}

func (h *Handler) updateBook(w http.ResponseWriter, r *http.Request, id string) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	form, err := h.parseBookForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	input := books.UpdateInput{
		Title:           form.title,
		Author:          form.author,
		Upload:          form.upload,
		ClearAttachment: form.clearCover,
	}
	if form.year != nil {
		year, err := books.ParseYear(*form.year)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		if year == nil {
			writeError(w, http.StatusBadRequest, errors.New("year cannot be empty"))
			return
		}
		input.Year = year
	}

	record, err := h.Books.Update(r.Context(), user, id, input)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.newBookResponse(record))
}

func (h *Handler) deleteBook(w http.ResponseWriter, r *http.Request, id string) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	record, err := h.Books.Delete(r.Context(), user, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.newBookResponse(record))
}

// bookForm is the normalized request body shared by the JSON and multipart
// encodings. Nil pointers mean the field was absent; clearCover records the
// explicit empty-value sentinel for the cover field.
type bookForm struct {
	title      *string
	author     *string
	year       *string
	upload     *blob.Upload
	clearCover bool
}

func (h *Handler) parseBookForm(r *http.Request) (bookForm, error) {
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil && contentType != "" {
		return bookForm{}, fmt.Errorf("invalid content type: %w", err)
	}
	if mediaType == "multipart/form-data" {
		return h.parseMultipartBookForm(r)
	}
	return h.parseJSONBookForm(r)
}

type bookJSONRequest struct {
	Title          *string     `json:"title"`
	Author         *string     `json:"author"`
	Year           *jsonNumber `json:"year"`
	CoverImage     *string     `json:"coverImage"`
	CoverImageName string      `json:"coverImageName"`
}

type jsonNumber struct {
	raw string
}

func (n *jsonNumber) UnmarshalJSON(data []byte) error {
	n.raw = strings.Trim(string(data), `"`)
	if n.raw == "null" {
		n.raw = ""
	}
	return nil
}

func (h *Handler) parseJSONBookForm(r *http.Request) (bookForm, error) {
	var req bookJSONRequest
	if err := decodeJSON(r, &req); err != nil {
		return bookForm{}, err
	}
	form := bookForm{
		title:  req.Title,
		author: req.Author,
	}
	if req.Year != nil && req.Year.raw != "" {
		raw := req.Year.raw
		form.year = &raw
	}
	if req.CoverImage != nil {
		if *req.CoverImage == "" {
			form.clearCover = true
		} else {
			data, err := base64.StdEncoding.DecodeString(*req.CoverImage)
			if err != nil {
				return bookForm{}, errors.New("coverImage must be base64-encoded")
			}
			if int64(len(data)) > h.maxUploadBytes() {
				return bookForm{}, fmt.Errorf("coverImage exceeds the %d byte limit", h.maxUploadBytes())
			}
			filename := strings.TrimSpace(req.CoverImageName)
			if filename == "" {
				filename = "cover.bin"
			}
			form.upload = &blob.Upload{
				Field:    coverFieldName,
				Filename: filename,
				Data:     data,
			}
		}
	}
	return form, nil
}

func (h *Handler) parseMultipartBookForm(r *http.Request) (bookForm, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return bookForm{}, fmt.Errorf("invalid multipart body: %w", err)
	}

	var form bookForm
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return bookForm{}, fmt.Errorf("read multipart body: %w", err)
		}

		switch part.FormName() {
		case "title":
			value, err := readPartValue(part)
			if err != nil {
				return bookForm{}, err
			}
			form.title = &value
		case "author":
			value, err := readPartValue(part)
			if err != nil {
				return bookForm{}, err
			}
			form.author = &value
		case "year":
			value, err := readPartValue(part)
			if err != nil {
				return bookForm{}, err
			}
			form.year = &value
		case coverFieldName:
			if part.FileName() == "" {
				value, err := readPartValue(part)
				if err != nil {
					return bookForm{}, err
				}
				if strings.TrimSpace(value) != "" {
					return bookForm{}, errors.New("coverImage must be a file part or an empty value")
				}
				form.clearCover = true
				continue
			}
			data, err := io.ReadAll(io.LimitReader(part, h.maxUploadBytes()+1))
			part.Close()
			if err != nil {
				return bookForm{}, fmt.Errorf("read cover image: %w", err)
			}
			if int64(len(data)) > h.maxUploadBytes() {
				return bookForm{}, fmt.Errorf("coverImage exceeds the %d byte limit", h.maxUploadBytes())
			}
			form.upload = &blob.Upload{
				Field:       coverFieldName,
				Filename:    part.FileName(),
				ContentType: part.Header.Get("Content-Type"),
				Data:        data,
			}
		default:
			_, _ = io.Copy(io.Discard, part)
			part.Close()
		}
	}
	return form, nil
}

func readPartValue(part io.ReadCloser) (string, error) {
	defer part.Close()
	data, err := io.ReadAll(io.LimitReader(part, 4096))
	if err != nil {
		return "", fmt.Errorf("read form field: %w", err)
	}
	return string(data), nil
}
