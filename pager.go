package rasterpager

import (
	"context"
	"fmt"
)

// A PageRequest asks a pager for the data of a run of rows, every column of
// the element, and either all of its bands or a single one. The descriptors
// carry the on-disk numbers the pager translates into file reads.
type PageRequest struct {
	Rows    Dimensions
	Columns Dimensions
	Bands   Dimensions
	// AllBands is false when a single band is requested
	AllBands   bool
	Interleave InterleaveFormat
	Encoding   EncodingType
}

// Size is the byte size of the unit answering the request.
func (r *PageRequest) Size() int {
	return len(r.Rows) * len(r.Columns) * len(r.Bands) * BytesInEncoding(r.Encoding)
}

// A CacheUnit is the self-describing answer of a pager: little endian data
// laid out in Interleave for RowCount rows starting at StartRow. Band is unset
// when the unit holds all bands.
type CacheUnit struct {
	Data       []byte
	StartRow   DimensionDescriptor
	RowCount   int
	Band       DimensionDescriptor
	Interleave InterleaveFormat
}

// Pager is the extension point through which a data source supplies pages.
// Implementations must be safe for concurrent use.
type Pager interface {
	FetchUnit(ctx context.Context, req *PageRequest) (*CacheUnit, error)
}

// WritablePager is implemented by pagers backing writable rasters.
type WritablePager interface {
	Pager
	// WriteUnit stores the content of a unit previously obtained for req
	WriteUnit(ctx context.Context, req *PageRequest, unit *CacheUnit) error
}

// PagerFunc adapts a function to the Pager interface.
type PagerFunc func(ctx context.Context, req *PageRequest) (*CacheUnit, error)

func (f PagerFunc) FetchUnit(ctx context.Context, req *PageRequest) (*CacheUnit, error) {
	return f(ctx, req)
}

// newUnit allocates an empty unit for req.
func newUnit(req *PageRequest) (*CacheUnit, error) {
	data, err := allocate(int64(req.Size()))
	if err != nil {
		return nil, err
	}
	u := &CacheUnit{
		Data:       data,
		StartRow:   req.Rows[0],
		RowCount:   len(req.Rows),
		Interleave: req.Interleave,
	}
	if !req.AllBands {
		u.Band = req.Bands[0]
	}
	return u, nil
}

// allocate returns a zeroed buffer, turning an impossible allocation into
// ErrAllocation instead of a panic.
func allocate(n int64) (buf []byte, err error) {
	if n < 0 || int64(int(n)) != n {
		return nil, fmt.Errorf("%w: %d bytes", ErrAllocation, n)
	}
	defer func() {
		if r := recover(); r != nil {
			buf, err = nil, fmt.Errorf("%w: %d bytes: %v", ErrAllocation, n, r)
		}
	}()
	return make([]byte, int(n)), nil
}

// layout addresses elements inside a buffer holding rowCount rows starting at
// active row startRow, columns columns and bandCount bands starting at active
// band firstBand.
type layout struct {
	startRow, rowCount   int
	columns              int
	firstBand, bandCount int
	interleave           InterleaveFormat
	bpe                  int
}

// offset of the element at active row, column index and active band.
func (l layout) offset(row, col, band int) int {
	r := row - l.startRow
	b := band - l.firstBand
	switch l.interleave {
	case BIP:
		return ((r*l.columns+col)*l.bandCount + b) * l.bpe
	case BIL:
		return ((r*l.bandCount+b)*l.columns + col) * l.bpe
	default:
		return ((b*l.rowCount+r)*l.columns + col) * l.bpe
	}
}

func (l layout) size() int {
	return l.rowCount * l.columns * l.bandCount * l.bpe
}

func (l layout) holds(row, band int) bool {
	return row >= l.startRow && row < l.startRow+l.rowCount &&
		band >= l.firstBand && band < l.firstBand+l.bandCount
}

// columnStride is the distance in bytes between two horizontally adjacent
// elements of one band.
func (l layout) columnStride() int {
	if l.interleave == BIP {
		return l.bandCount * l.bpe
	}
	return l.bpe
}

// rowStride is the distance in bytes between two vertically adjacent elements
// of one band.
func (l layout) rowStride() int {
	switch l.interleave {
	case BIP, BIL:
		return l.columns * l.bandCount * l.bpe
	}
	return l.columns * l.bpe
}

// bandStride is the distance in bytes between two bands of one pixel.
func (l layout) bandStride() int {
	switch l.interleave {
	case BIP:
		return l.bpe
	case BIL:
		return l.columns * l.bpe
	}
	return l.rowCount * l.columns * l.bpe
}

// copyRegion copies rows [startRow,startRow+rows) and bands
// [firstBand,firstBand+bands) of every column between two layouts.
func copyRegion(dst []byte, dl layout, src []byte, sl layout, startRow, rows, firstBand, bands int) {
	bpe := dl.bpe
	if dl.interleave == sl.interleave && dl.columns == sl.columns {
		switch dl.interleave {
		case BSQ:
			n := dl.columns * bpe
			for b := firstBand; b < firstBand+bands; b++ {
				for r := startRow; r < startRow+rows; r++ {
					copy(dst[dl.offset(r, 0, b):dl.offset(r, 0, b)+n], src[sl.offset(r, 0, b):])
				}
			}
			return
		case BIL:
			n := dl.columns * bpe
			for r := startRow; r < startRow+rows; r++ {
				for b := firstBand; b < firstBand+bands; b++ {
					copy(dst[dl.offset(r, 0, b):dl.offset(r, 0, b)+n], src[sl.offset(r, 0, b):])
				}
			}
			return
		case BIP:
			if dl.bandCount == bands && sl.bandCount == bands {
				n := dl.columns * bands * bpe
				for r := startRow; r < startRow+rows; r++ {
					copy(dst[dl.offset(r, 0, firstBand):dl.offset(r, 0, firstBand)+n], src[sl.offset(r, 0, firstBand):])
				}
				return
			}
		}
	}
	for r := startRow; r < startRow+rows; r++ {
		for b := firstBand; b < firstBand+bands; b++ {
			for c := 0; c < dl.columns; c++ {
				do := dl.offset(r, c, b)
				so := sl.offset(r, c, b)
				copy(dst[do:do+bpe], src[so:so+bpe])
			}
		}
	}
}

// requestLayout is the layout of the unit answering req.
func requestLayout(req *PageRequest) layout {
	first := 0
	if n, ok := req.Bands[0].ActiveNumber(); ok {
		first = int(n)
	}
	start := 0
	if n, ok := req.Rows[0].ActiveNumber(); ok {
		start = int(n)
	}
	return layout{
		startRow:   start,
		rowCount:   len(req.Rows),
		columns:    len(req.Columns),
		firstBand:  first,
		bandCount:  len(req.Bands),
		interleave: req.Interleave,
		bpe:        BytesInEncoding(req.Encoding),
	}
}

// memoryPager serves interleave conversions of a resident raster.
type memoryPager struct {
	block []byte
	l     layout
}

func newMemoryPager(d *RasterDescriptor, block []byte) *memoryPager {
	return &memoryPager{
		block: block,
		l: layout{
			rowCount:   len(d.Rows),
			columns:    len(d.Columns),
			bandCount:  len(d.Bands),
			interleave: d.Interleave,
			bpe:        d.BytesPerElement(),
		},
	}
}

func (mp *memoryPager) FetchUnit(ctx context.Context, req *PageRequest) (*CacheUnit, error) {
	unit, err := newUnit(req)
	if err != nil {
		return nil, err
	}
	rl := requestLayout(req)
	copyRegion(unit.Data, rl, mp.block, mp.l, rl.startRow, rl.rowCount, rl.firstBand, rl.bandCount)
	return unit, nil
}

func (mp *memoryPager) WriteUnit(ctx context.Context, req *PageRequest, unit *CacheUnit) error {
	rl := requestLayout(req)
	copyRegion(mp.block, mp.l, unit.Data, rl, rl.startRow, rl.rowCount, rl.firstBand, rl.bandCount)
	return nil
}
