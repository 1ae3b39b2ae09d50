// Package request decodes API request bodies and query parameters into
// cerr errors the chi middleware can render.
package request

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/kazz187/agentdash/pkg/cerr"
)

const (
	maxBodyBytes = 1 << 20
	DefaultLimit = 50
	MaxLimit     = 500
)

// DecodeJSON reads a JSON body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return cerr.NewError(cerr.InvalidArgument, "request body is required", err)
		}
		return cerr.NewError(cerr.InvalidArgument, "malformed request body", err)
	}
	return nil
}

// Pagination parses limit and offset query parameters.
func Pagination(r *http.Request) (limit, offset int, err error) {
	limit, offset = DefaultLimit, 0
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return 0, 0, invalidQuery("limit", "must be a positive integer")
		}
		limit = min(limit, MaxLimit)
	}
	if v := q.Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, invalidQuery("offset", "must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

// Bool parses an optional boolean query parameter.
func Bool(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, invalidQuery(name, "must be a boolean")
	}
	return b, nil
}

func invalidQuery(field, msg string) error {
	return cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("invalid %s", field), nil).AddFieldViolation(field, msg)
}

// ListResponse is the envelope of list endpoints.
type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func NewListResponse[T any](items []T, total, limit, offset int) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Total: total, Limit: limit, Offset: offset}
}
