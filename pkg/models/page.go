package models

// PageInfo carries what a caller needs to render page navigation.
type PageInfo struct {
	TotalCount int `json:"total_count"`
	PageNumber int `json:"page_number"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
}

// NewPageInfo computes TotalPages as ceil(total / size). size must be positive.
func NewPageInfo(total, pageNumber, pageSize int) PageInfo {
	info := PageInfo{
		TotalCount: total,
		PageNumber: pageNumber,
		PageSize:   pageSize,
	}
	if pageSize > 0 {
		info.TotalPages = total / pageSize
		if total%pageSize != 0 {
			info.TotalPages++
		}
	}
	return info
}

// InRange reports whether PageNumber addresses an existing page.
func (p PageInfo) InRange() bool {
	return p.PageNumber >= 1 && p.PageNumber <= p.TotalPages
}

// HasPrevious reports whether a link to an earlier page makes sense.
func (p PageInfo) HasPrevious() bool {
	return p.PageNumber > 1 && p.TotalPages > 0
}

// HasNext reports whether a later page exists.
func (p PageInfo) HasNext() bool {
	return p.PageNumber < p.TotalPages
}

// Previous returns the previous page number, clamped to the valid range.
func (p PageInfo) Previous() int {
	if p.PageNumber > p.TotalPages {
		return p.TotalPages
	}
	if p.PageNumber <= 1 {
		return 1
	}
	return p.PageNumber - 1
}

// Next returns the next page number, clamped to the valid range.
func (p PageInfo) Next() int {
	if p.PageNumber < 1 {
		return 1
	}
	if p.PageNumber >= p.TotalPages {
		return p.TotalPages
	}
	return p.PageNumber + 1
}

// Pages lists every valid page number.
func (p PageInfo) Pages() []int {
	pages := make([]int, p.TotalPages)
	for i := range pages {
		pages[i] = i + 1
	}
	return pages
}

// Page is one slice of a record set together with its navigation info.
type Page struct {
	Records []Record `json:"records"`
	Info    PageInfo `json:"page_info"`
}

// PageRequest is the paging input accepted from callers. A nil Page means the
// first page; an explicit page number is used as given, so zero or a negative
// number addresses no page.
type PageRequest struct {
	Page     *int `schema:"page"`
	PageSize int  `schema:"page_size"`
}

// NewPageRequest returns a request for an explicit page number.
func NewPageRequest(page, size int) PageRequest {
	return PageRequest{Page: &page, PageSize: size}
}

// Number returns the requested page number, 1 when none was given.
func (r PageRequest) Number() int {
	if r.Page == nil {
		return 1
	}
	return *r.Page
}
