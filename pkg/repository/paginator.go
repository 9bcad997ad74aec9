package repository

import (
	"net/url"
	"strconv"
)

const defaultPerPage = 15

// Paginator is one page of a query's results plus page metadata
type Paginator struct {
	Items       *Collection
	CurrentPage int
	PerPage     int
	Total       int64
	TotalPages  int

	baseURL string
}

// NewPaginator wraps a page of items. page and perPage below 1 fall back to
// 1 and 15.
func NewPaginator(items *Collection, total int64, page, perPage int, baseURL string) *Paginator {
	page, perPage = normalizePage(page, perPage)
	if items == nil {
		items = NewCollection()
	}
	pages := 0
	if total > 0 {
		pages = int((total + int64(perPage) - 1) / int64(perPage))
	}
	return &Paginator{
		Items:       items,
		CurrentPage: page,
		PerPage:     perPage,
		Total:       total,
		TotalPages:  pages,
		baseURL:     baseURL,
	}
}

func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	return page, perPage
}

// HasMorePages reports whether a page follows the current one
func (p *Paginator) HasMorePages() bool {
	return p.CurrentPage < p.TotalPages
}

// FirstPageURL links page 1
func (p *Paginator) FirstPageURL() string {
	return p.pageURL(1)
}

// LastPageURL links the last page (page 1 when there are no results)
func (p *Paginator) LastPageURL() string {
	return p.pageURL(max(p.TotalPages, 1))
}

// PrevPageURL links the previous page, nil on the first page
func (p *Paginator) PrevPageURL() *string {
	if p.CurrentPage <= 1 {
		return nil
	}
	u := p.pageURL(p.CurrentPage - 1)
	return &u
}

// NextPageURL links the next page, nil on the last page
func (p *Paginator) NextPageURL() *string {
	if !p.HasMorePages() {
		return nil
	}
	u := p.pageURL(p.CurrentPage + 1)
	return &u
}

// pageURL sets the page parameter on the base URL, keeping its other parameters
func (p *Paginator) pageURL(page int) string {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return p.baseURL
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}
