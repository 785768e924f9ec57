package query

import (
	"math"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize applies when the caller does not ask for a size.
	DefaultPageSize = 20
	// MaxPageSize bounds every page.
	MaxPageSize = 100
)

// Page is offset pagination with a clamped number and size.
type Page struct {
	Number int
	Size   int
}

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPage clamps number to >= 1 and size to [1, MaxPageSize].
func NewPage(number, size int) Page {
	if number < 1 {
		number = 1
	}
	return Page{Number: number, Size: clampSize(size)}
}

// ParsePage reads raw request values. A missing size means DefaultPageSize;
// fractional values are floored; anything unparsable falls back to the defaults.
func ParsePage(number, size string) Page {
	n := 1
	if v, ok := parseFloor(number); ok {
		n = v
	}
	s := DefaultPageSize
	if v, ok := parseFloor(size); ok {
		s = v
	}
	return NewPage(n, s)
}

// Offset is (Number-1)*Size.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// Clause renders LIMIT/OFFSET using placeholders starting at next.
func (p Page) Clause(next int) (string, []any) {
	return "LIMIT $" + strconv.Itoa(next) + " OFFSET $" + strconv.Itoa(next+1), []any{p.Size, p.Offset()}
}

// Meta computes listing metadata for total matching rows.
func (p Page) Meta(total int) Pagination {
	pages := 0
	if total > 0 {
		pages = int(math.Ceil(float64(total) / float64(p.Size)))
	}
	return Pagination{Page: p.Number, PageSize: p.Size, Total: total, TotalPages: pages}
}

func clampSize(size int) int {
	if size < 1 {
		return 1
	}
	if size > MaxPageSize {
		return MaxPageSize
	}
	return size
}

func parseFloor(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	f = math.Floor(f)
	switch {
	case f > math.MaxInt32:
		return math.MaxInt32, true
	case f < math.MinInt32:
		return math.MinInt32, true
	}
	return int(f), true
}
