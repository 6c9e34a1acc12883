package models

import (
	"fmt"
	"io"
	"strconv"
)

// Record is a generic resource row. Every record handed back to callers has an "id".
type Record map[string]any

// ID returns the record identifier rendered as a string.
func (r Record) ID() (string, bool) {
	v, ok := r["id"]
	if !ok || v == nil {
		return "", false
	}
	return FormatID(v), true
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// FormatID renders ids held as numbers or strings.
func FormatID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case fmt.Stringer:
		return id.String()
	default:
		return fmt.Sprint(id)
	}
}

// File is an attachment value inside a Record. Its presence switches the
// request to multipart.
type File struct {
	Name        string
	ContentType string
	Content     io.Reader
}

// Pagination is 1-based.
type Pagination struct {
	Page    int
	PerPage int
}

// Sort orders a list by Field.
type Sort struct {
	Field string
	Order string
}

// ListParams drives GetList and GetManyReference.
type ListParams struct {
	Pagination Pagination
	Sort       Sort
	Filter     map[string]any
}

// ListResult is the normalized list envelope.
type ListResult struct {
	Data  []Record `json:"data"`
	Total int64    `json:"total"`
}

// UpdateParams carries the outgoing data and the record as last seen.
type UpdateParams struct {
	ID           string
	Data         Record
	PreviousData Record
}

// DeleteParams carries the record as last seen.
type DeleteParams struct {
	ID           string
	PreviousData Record
}
