package models

import "time"

// Pagination holds pagination parameters.
type Pagination struct {
	Page     int
	PageSize int
}

// DefaultPagination returns default pagination settings.
func DefaultPagination() Pagination {
	return Pagination{
		Page:     1,
		PageSize: 15,
	}
}

// Offset calculates the SQL offset for the current page.
func (p Pagination) Offset() int {
	if p.Page < 1 {
		p.Page = 1
	}
	return (p.Page - 1) * p.Limit()
}

// Limit returns the page size as limit.
func (p Pagination) Limit() int {
	if p.PageSize < 1 {
		return 15
	}
	if p.PageSize > 100 {
		return 100
	}
	return p.PageSize
}

// CurrentPage returns the 1-based page number.
func (p Pagination) CurrentPage() int {
	if p.Page < 1 {
		return 1
	}
	return p.Page
}

// TotalPages calculates the total number of pages.
func (p Pagination) TotalPages(total int) int {
	size := p.Limit()
	pages := total / size
	if total%size > 0 {
		pages++
	}
	if pages < 1 {
		return 1
	}
	return pages
}

// DateRange bounds a query on a date column. Either end may be nil.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

// Complete reports whether both ends of the range are set.
func (d DateRange) Complete() bool {
	return d.From != nil && d.To != nil
}
