// Package paging parses page/limit/sort query parameters and applies them
// to GORM queries.
package paging

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/d9705996/perseo/internal/apperr"
	"gorm.io/gorm"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Sortable maps an API attribute name to its column.
type Sortable map[string]string

// Params is a validated page request.
type Params struct {
	Page   int
	Limit  int
	Column string
	Desc   bool
}

// Default returns page 1 of DefaultLimit rows, newest first.
func Default() Params {
	return Params{Page: 1, Limit: DefaultLimit, Column: "created_at", Desc: true}
}

// Parse reads page, limit, sortBy and sortOrder from q. sortBy must be a key
// of allowed; createdAt is always allowed.
func Parse(q url.Values, allowed Sortable) (Params, error) {
	p := Default()
	var fields []apperr.FieldError

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			fields = append(fields, apperr.FieldError{Field: "page", Message: "must be a positive integer"})
		} else {
			p.Page = n
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		switch {
		case err != nil || n < 1:
			fields = append(fields, apperr.FieldError{Field: "limit", Message: "must be a positive integer"})
		case n > MaxLimit:
			p.Limit = MaxLimit
		default:
			p.Limit = n
		}
	}
	if v := q.Get("sortBy"); v != "" {
		col, ok := allowed[v]
		if !ok && v == "createdAt" {
			col, ok = "created_at", true
		}
		if !ok {
			fields = append(fields, apperr.FieldError{Field: "sortBy", Message: fmt.Sprintf("cannot sort by %q", v)})
		} else {
			p.Column = col
		}
	}
	switch q.Get("sortOrder") {
	case "", "desc":
	case "asc":
		p.Desc = false
	default:
		fields = append(fields, apperr.FieldError{Field: "sortOrder", Message: "must be asc or desc"})
	}

	if len(fields) > 0 {
		return Default(), apperr.Validation("invalid_query", "invalid pagination parameters", fields...)
	}
	return p, nil
}

// Offset is the number of rows skipped before the page.
func (p Params) Offset() int { return (p.Page - 1) * p.Limit }

// Order renders the ORDER BY clause. id breaks ties so pages are stable.
func (p Params) Order() string {
	dir := "ASC"
	if p.Desc {
		dir = "DESC"
	}
	return p.Column + " " + dir + ", id " + dir
}

// Scope applies ordering, limit and offset.
func (p Params) Scope(db *gorm.DB) *gorm.DB {
	return db.Order(p.Order()).Limit(p.Limit).Offset(p.Offset())
}

// Meta describes the page returned to the client.
type Meta struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

// NewMeta computes page metadata for total matching rows.
func NewMeta(p Params, total int64) Meta {
	pages := int((total + int64(p.Limit) - 1) / int64(p.Limit))
	return Meta{Page: p.Page, Limit: p.Limit, Total: total, TotalPages: pages}
}

// Find counts the rows matched by query and loads one page of them into dest.
func Find[T any](query *gorm.DB, p Params, dest *[]T) (Meta, error) {
	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return Meta{}, fmt.Errorf("count: %w", err)
	}
	if err := query.Session(&gorm.Session{}).Scopes(p.Scope).Find(dest).Error; err != nil {
		return Meta{}, fmt.Errorf("find: %w", err)
	}
	return NewMeta(p, total), nil
}
