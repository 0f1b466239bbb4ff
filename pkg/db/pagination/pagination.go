package pagination

const (
	DefaultPageSize = 20
	MaxPageSize     = 250
)

type Pagination struct {
	Page     int `form:"page,default=1"`
	PageSize int `form:"page_size,default=20"`
}

type PageInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasMore  bool `json:"has_more"`
}

// Normalize clamps page and size into the supported range.
func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

func (p Pagination) Limit() int {
	return p.Normalize().PageSize
}

func (p Pagination) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.PageSize
}

// Trim drops the look-ahead row fetched with Limit()+1 and reports whether more pages exist.
func Trim[T any](items []T, p Pagination) ([]T, PageInfo) {
	n := p.Normalize()
	info := PageInfo{Page: n.Page, PageSize: n.PageSize}
	if len(items) > n.PageSize {
		info.HasMore = true
		items = items[:n.PageSize]
	}
	return items, info
}
