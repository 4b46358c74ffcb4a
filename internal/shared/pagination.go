package shared

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
)

// MaxPerPage caps the page size a client may request.
const MaxPerPage = 100

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	if page <= 0 {
		page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// PageParams reads the page and per_page query parameters. Missing values
// are zero and get defaults from NewPagination.
func PageParams(r *http.Request) (page, perPage int, err error) {
	q := r.URL.Query()
	if page, err = positiveParam(q.Get("page"), "page"); err != nil {
		return 0, 0, err
	}
	if perPage, err = positiveParam(q.Get("per_page"), "per_page"); err != nil {
		return 0, 0, err
	}
	return page, perPage, nil
}

func positiveParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", ErrValidation, name)
	}
	return v, nil
}

// Bounds returns the half-open index range of the current page.
func (p Pagination) Bounds() (int, int) {
	lo := (p.Page - 1) * p.PerPage
	if lo > p.Total {
		lo = p.Total
	}
	hi := lo + p.PerPage
	if hi > p.Total {
		hi = p.Total
	}
	return lo, hi
}

// PageOf returns the slice of items on the page described by p.
func PageOf[T any](items []T, p Pagination) []T {
	lo, hi := p.Bounds()
	return items[lo:hi]
}
