package web

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// Pagination describes the position of a limit/offset listing in its result set.
type Pagination struct {
	queryVals url.Values

	Limit    int `json:"limit"`
	Offset   int `json:"offset"`
	Total    int `json:"total"`
	Next     int `json:"-"` // -1 means no next page
	Previous int `json:"-"` // -1 means no previous page
}

// ErrInvalidLimit reports a limit below one.
var ErrInvalidLimit error = errors.New("limit cannot be below 1")

// ErrInvalidOffset reports an offset outside the result set.
type ErrInvalidOffset struct {
	Offset int
	Total  int
}

func (e ErrInvalidOffset) Error() string {
	return fmt.Sprintf("invalid offset: %d (total records: %d)", e.Offset, e.Total)
}

// NewPagination calculates the next and previous offsets for a listing of total
// records shown limit at a time from offset. The query values are kept for building
// the next and previous urls. An offset of zero is always valid, even for an empty
// result set.
func NewPagination(limit, offset, total int, query url.Values) (*Pagination, error) {

	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	if offset < 0 || (offset > 0 && offset >= total) {
		return nil, ErrInvalidOffset{Offset: offset, Total: total}
	}

	pg := &Pagination{
		queryVals: query,
		Limit:     limit,
		Offset:    offset,
		Total:     total,
		Next:      -1,
		Previous:  -1,
	}
	if offset > 0 {
		pg.Previous = max(offset-limit, 0)
	}
	if offset+limit < total {
		pg.Next = offset + limit
	}
	return pg, nil
}

// buildURL generates a URL query string for a specific offset.
func (p *Pagination) buildURL(offset int) string {
	newQuery := make(url.Values, len(p.queryVals))
	for k, v := range p.queryVals {
		newQuery[k] = v
	}
	newQuery.Set("limit", strconv.Itoa(p.Limit))
	newQuery.Set("offset", strconv.Itoa(offset))
	return "?" + newQuery.Encode()
}

// NextURL returns the query for the next page, or "" on the last page.
func (p *Pagination) NextURL() string {
	if p.Next < 0 {
		return ""
	}
	return p.buildURL(p.Next)
}

// PreviousURL returns the query for the previous page, or "" on the first page.
func (p *Pagination) PreviousURL() string {
	if p.Previous < 0 {
		return ""
	}
	return p.buildURL(p.Previous)
}
