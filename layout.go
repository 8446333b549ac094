package rasterpager

import (
	"math"
	"sort"
)

// A PageLayout holds the split of a raster's rows into pages of roughly
// similar byte sizes. Pages are the unit of I/O of the page cache: a page is
// always fetched and evicted as a whole.
//
// The usual workflow is to create a PageLayout matching the raster's row count
// and row size, the target size of a page, and the alignment imposed by the
// source (e.g. the rows per strip of a TIFF file).
type PageLayout struct {
	targetPageBytes int
	rowAlignment    int
	minRowsPerPage  int
	rows, rowBytes  int
	pages           []Page
}

// A Page is a run of RowCount rows starting at active row StartRow.
type Page struct {
	StartRow, RowCount int
}

func (p Page) StopRow() int {
	return p.StartRow + p.RowCount - 1
}

type LayoutOption func(l *PageLayout) error

// TargetPageBytes sets the approximate size of a page. Pages hold at least
// one row whatever the row size.
func TargetPageBytes(n int) LayoutOption {
	return func(l *PageLayout) error {
		if n <= 0 {
			return ErrInvalidOption{"target page size must be >=1"}
		}
		l.targetPageBytes = n
		return nil
	}
}

func (l PageLayout) TargetPageBytes() int {
	return l.targetPageBytes
}

// RowAlignment forces the page height to be a multiple of the given value,
// except for the last page. This avoids decoding the same source strip or
// tile for two different pages.
func RowAlignment(rows int) LayoutOption {
	return func(l *PageLayout) error {
		if rows <= 0 {
			return ErrInvalidOption{"row alignment must be >=1"}
		}
		l.rowAlignment = rows
		return nil
	}
}

func (l PageLayout) RowAlignment() int {
	return l.rowAlignment
}

// MinRowsPerPage sets the minimal page height. A trailing page shorter than
// this is merged into the previous one.
func MinRowsPerPage(rows int) LayoutOption {
	return func(l *PageLayout) error {
		if rows <= 0 {
			return ErrInvalidOption{"minimal rows per page must be >=1"}
		}
		l.minRowsPerPage = rows
		return nil
	}
}

func (l PageLayout) MinRowsPerPage() int {
	return l.minRowsPerPage
}

// NewPageLayout creates a layout for rows rows of rowBytes bytes each.
// Default options are:
//   - 4 MiB pages
//   - no alignment
//   - at least one row per page
func NewPageLayout(rows, rowBytes int, options ...LayoutOption) (PageLayout, error) {
	l := PageLayout{
		rows:            rows,
		rowBytes:        rowBytes,
		targetPageBytes: 4 << 20,
		rowAlignment:    1,
		minRowsPerPage:  1,
	}
	for _, o := range options {
		if err := o(&l); err != nil {
			return l, err
		}
	}
	if rows <= 0 || rowBytes <= 0 {
		return l, ErrInvalidOption{"cannot page 0-sized raster"}
	}
	l.pages = l.paging()
	return l, nil
}

func (l PageLayout) Size() (rows, rowBytes int) {
	return l.rows, l.rowBytes
}

func (l PageLayout) Pages() []Page {
	return l.pages
}

func (l PageLayout) paging() []Page {
	pageHeight := l.targetPageBytes / l.rowBytes
	if pageHeight < l.minRowsPerPage {
		pageHeight = l.minRowsPerPage
	}
	if pageHeight < 1 {
		pageHeight = 1
	}
	if pageHeight%l.rowAlignment != 0 {
		pageHeight = (pageHeight/l.rowAlignment + 1) * l.rowAlignment
	}
	numPages := int(math.Ceil(float64(l.rows) / float64(pageHeight)))

	pages := make([]Page, 0, numPages)
	row := 0
	for p := 0; p < numPages; p++ {
		thisHeight := pageHeight
		if row+pageHeight > l.rows {
			thisHeight = l.rows - row
		}
		if p > 0 && thisHeight < l.minRowsPerPage {
			pages[len(pages)-1].RowCount += thisHeight
		} else {
			pages = append(pages, Page{StartRow: row, RowCount: thisHeight})
		}
		row += pageHeight
	}
	return pages
}

// PageFor returns the page holding row, and its index.
func (l PageLayout) PageFor(row int) (Page, int) {
	i := sort.Search(len(l.pages), func(i int) bool {
		return l.pages[i].StopRow() >= row
	})
	if i == len(l.pages) || row < 0 {
		return Page{}, -1
	}
	return l.pages[i], i
}

// span returns the smallest run of consecutive pages covering rows
// [row, row+count).
func (l PageLayout) span(row, count int) (Page, bool) {
	first, fi := l.PageFor(row)
	if fi < 0 {
		return Page{}, false
	}
	last := row + count - 1
	if last >= l.rows {
		last = l.rows - 1
	}
	end, ei := l.PageFor(last)
	if ei < 0 {
		return Page{}, false
	}
	return Page{StartRow: first.StartRow, RowCount: end.StopRow() - first.StartRow + 1}, true
}
