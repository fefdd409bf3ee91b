// Package problem renders RFC 7807 problem+json bodies shared by every HTTP handler.
package problem

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
)

const (
	TypeValidation   = "https://palmyra.pro/problems/validation-error"
	TypeNotFound     = "https://palmyra.pro/problems/not-found"
	TypeConflict     = "https://palmyra.pro/problems/conflict"
	TypeUnprocessed  = "https://palmyra.pro/problems/unprocessable"
	TypeUnauthorized = "https://palmyra.pro/problems/unauthorized"
	TypeForbidden    = "https://palmyra.pro/problems/forbidden"
	TypeRateLimited  = "https://palmyra.pro/problems/rate-limited"
	TypeInternal     = "https://palmyra.pro/problems/internal-error"
)

// ContentType is the media type of problem responses.
const ContentType = "application/problem+json"

// Details is the problem document.
type Details struct {
	Type   *string              `json:"type,omitempty"`
	Title  string               `json:"title"`
	Status int                  `json:"status"`
	Detail *string              `json:"detail,omitempty"`
	Errors *map[string][]string `json:"errors,omitempty"`
}

// New builds a Details with the given type, status and detail message.
func New(typ string, status int, title, detail string) Details {
	d := Details{Type: &typ, Title: title, Status: status}
	if detail != "" {
		d.Detail = &detail
	}
	return d
}

// Write sends d with its status code.
func Write(w http.ResponseWriter, d Details) {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(d.Status)
	_ = json.NewEncoder(w).Encode(d)
}

// WriteJSON sends v as a JSON body.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrEmptyBody is returned by DecodeJSON for requests without a body.
var ErrEmptyBody = errors.New("request body is required")

// DecodeJSON reads a JSON request body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return ErrEmptyBody
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		return err
	}
	return nil
}

// Pagination reads page and pageSize query parameters with defaults and bounds.
func Pagination(r *http.Request, defaultSize, maxSize int) (page, pageSize int) {
	page, pageSize = 1, defaultSize
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("pageSize")); err == nil && v > 0 {
		pageSize = v
	}
	if pageSize > maxSize {
		pageSize = maxSize
	}
	return page, pageSize
}
