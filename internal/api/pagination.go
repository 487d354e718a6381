package api

import (
	"net/http"
	"strconv"
)

// PageRequest is a parsed page/limit pair. An explicit offset query
// parameter overrides the one derived from page.
type PageRequest struct {
	Page   int
	Limit  int
	Offset int
}

// Page is a list response. Data is never null.
type Page[T any] struct {
	Data       []T      `json:"data"`
	Pagination PageMeta `json:"pagination"`
}

// PageMeta describes where a Page sits in the full result.
type PageMeta struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasMore    bool `json:"has_more"`
}

// ParsePageRequest reads page, limit and offset, clamping limit to
// [1, maxLimit].
func ParsePageRequest(r *http.Request, defaultLimit, maxLimit int) PageRequest {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	limit = min(limit, maxLimit)

	p := PageRequest{Page: page, Limit: limit, Offset: (page - 1) * limit}
	if off, err := strconv.Atoi(q.Get("offset")); err == nil && off >= 0 {
		p.Offset = off
		p.Page = off/limit + 1
	}
	return p
}

// NewPage wraps one slice of a result of total items.
func NewPage[T any](data []T, p PageRequest, total int) Page[T] {
	if data == nil {
		data = []T{}
	}
	pages := max((total+p.Limit-1)/p.Limit, 1)
	return Page[T]{
		Data: data,
		Pagination: PageMeta{
			Page:       p.Page,
			Limit:      p.Limit,
			Offset:     p.Offset,
			Total:      total,
			TotalPages: pages,
			HasMore:    p.Offset+len(data) < total,
		},
	}
}
