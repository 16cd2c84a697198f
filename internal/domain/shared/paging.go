package shared

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Filter pages a listing. OrderBy is checked against a per-table whitelist
// by the store; OrderDir is "asc" or "desc".
type Filter struct {
	Page     int
	PageSize int
	OrderBy  string
	OrderDir string
}

// Normalize returns f with page 1, the default size and newest-first
// ordering filled in, and the size capped at MaxPageSize.
func (f Filter) Normalize() Filter {
	f.Page = max(f.Page, 1)
	switch {
	case f.PageSize <= 0:
		f.PageSize = DefaultPageSize
	case f.PageSize > MaxPageSize:
		f.PageSize = MaxPageSize
	}
	if f.OrderBy == "" {
		f.OrderBy = "created_at"
	}
	if f.OrderDir != "asc" {
		f.OrderDir = "desc"
	}
	return f
}

// Offset is the number of rows before the current page
func (f Filter) Offset() int {
	return (f.Page - 1) * f.PageSize
}
