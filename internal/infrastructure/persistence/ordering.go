package persistence

import "strings"

// sortColumns whitelists the columns a page may be ordered by
type sortColumns map[string]struct{}

var (
	ledgerEntrySort = newSortColumns("id", "created_at", "updated_at", "entry_date", "amount", "type", "currency")
	documentSort    = newSortColumns("id", "created_at", "updated_at", "status", "mime_type")
)

func newSortColumns(cols ...string) sortColumns {
	s := make(sortColumns, len(cols))
	for _, c := range cols {
		s[c] = struct{}{}
	}
	return s
}

// clause builds the ORDER BY for a page. Unknown columns fall back to
// created_at and anything but asc sorts descending. id breaks ties so
// offsets stay stable between pages.
func (s sortColumns) clause(orderBy, orderDir string) string {
	col := strings.TrimSpace(orderBy)
	if _, ok := s[col]; !ok {
		col = "created_at"
	}
	dir := "DESC"
	if strings.EqualFold(strings.TrimSpace(orderDir), "asc") {
		dir = "ASC"
	}
	if col == "id" {
		return "id " + dir
	}
	return col + " " + dir + ", id " + dir
}
