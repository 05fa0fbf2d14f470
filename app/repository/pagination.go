package repository

import "strconv"

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Page is a 1-based page request.
type Page struct {
	Number  int `json:"page"`
	PerPage int `json:"per_page"`
}

// NewPage parses raw query values, clamping to sane bounds.
func NewPage(rawPage, rawPerPage string) Page {
	p := Page{Number: 1, PerPage: DefaultPerPage}
	if n, err := strconv.Atoi(rawPage); err == nil && n > 0 {
		p.Number = n
	}
	if n, err := strconv.Atoi(rawPerPage); err == nil && n > 0 {
		p.PerPage = n
	}
	return p.normalize()
}

func (p Page) normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.PerPage < 1 {
		p.PerPage = DefaultPerPage
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	return p
}

func (p Page) Offset() int {
	p = p.normalize()
	return (p.Number - 1) * p.PerPage
}

func (p Page) Limit() int {
	return p.normalize().PerPage
}

// TotalPages returns the page count for total items, at least 1.
func (p Page) TotalPages(total int64) int {
	per := int64(p.Limit())
	pages := int((total + per - 1) / per)
	if pages < 1 {
		return 1
	}
	return pages
}
