package rasterpager

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"go.uber.org/zap"
)

type accessorState int

const (
	stateFresh accessorState = iota
	statePositioned
	stateExhausted
	stateInvalid
)

// A DataAccessor is a cursor over the window of an element described by a
// DataRequest. Callers check IsValid before every dereference: an accessor
// turns invalid when advanced past its window, when its request was
// rejected, or when a page could not be fetched. Err reports why.
//
// Release must be called once the accessor is no longer needed; it returns
// the page the accessor references to the cache. A DataAccessor is not safe
// for concurrent use.
type DataAccessor struct {
	el  *Element
	ctx context.Context
	req DataRequest

	rowStart, rowStop   int
	colStart, colStop   int
	bandStart, bandStop int
	singleBand          bool

	row, col, band int

	view   []byte
	vl     layout
	direct bool
	page   *cachedPage

	state    accessorState
	err      error
	released bool
}

func invalidAccessor(err error) *DataAccessor {
	return &DataAccessor{state: stateInvalid, err: err, released: true}
}

func newAccessor(ctx context.Context, el *Element, req DataRequest) *DataAccessor {
	d := el.desc
	a := &DataAccessor{el: el, ctx: ctx, req: req}
	a.rowStart, a.rowStop = activeOf(req.StartRow), activeOf(req.StopRow)
	a.colStart, a.colStop = activeOf(req.StartColumn), activeOf(req.StopColumn)
	a.bandStart, a.bandStop = activeOf(req.StartBand), activeOf(req.StopBand)
	a.singleBand = req.ConcurrentBands == 1 && len(d.Bands) > 1
	a.row, a.col, a.band = a.rowStart, a.colStart, a.bandStart
	if el.block != nil && req.Interleave == d.Interleave {
		a.direct = true
		a.view = el.block
		a.vl = layout{
			rowCount:   len(d.Rows),
			columns:    len(d.Columns),
			bandCount:  len(d.Bands),
			interleave: d.Interleave,
			bpe:        d.BytesPerElement(),
		}
	}
	runtime.SetFinalizer(a, func(a *DataAccessor) {
		if !a.released {
			a.el.logger.Warn("data accessor garbage collected without release",
				zap.String("element", a.el.desc.Name))
			a.Release()
		}
	})
	a.state = stateFresh
	if a.bind() {
		a.state = statePositioned
	}
	return a
}

func activeOf(d DimensionDescriptor) int {
	n, _ := d.ActiveNumber()
	return int(n)
}

// bind makes the current row and band addressable, fetching a new page when
// the current view does not hold them.
func (a *DataAccessor) bind() bool {
	if a.direct {
		return true
	}
	last := a.row + a.req.ConcurrentRows - 1
	if last > a.rowStop {
		last = a.rowStop
	}
	if a.page != nil && a.vl.holds(a.row, a.band) && a.vl.holds(last, a.band) {
		if a.singleBand || (a.vl.holds(a.row, a.bandStart) && a.vl.holds(a.row, a.bandStop)) {
			return true
		}
	}
	a.unbind()
	span, ok := a.el.pages.span(a.row, last-a.row+1)
	if !ok {
		a.fail(fmt.Errorf("%w: row %d outside of page layout", ErrInvalidRequest, a.row))
		return false
	}
	key := pageKey{startRow: span.StartRow, rowCount: span.RowCount, band: allBands, interleave: a.req.Interleave}
	if a.singleBand {
		key.band = a.band
	}
	p, err := a.el.cache.acquire(a.ctx, key, a.req.Writable)
	if err != nil {
		a.fail(err)
		return false
	}
	a.page = p
	a.view = p.data
	a.vl = a.el.keyLayout(key)
	return true
}

func (a *DataAccessor) unbind() {
	if a.page == nil {
		return
	}
	a.el.cache.release(a.page)
	a.page = nil
	a.view = nil
}

func (a *DataAccessor) fail(err error) {
	a.unbind()
	a.state = stateInvalid
	a.err = err
	a.el.logger.Debug("data accessor invalidated", zap.String("element", a.el.desc.Name), zap.Error(err))
}

func (a *DataAccessor) exhaust() {
	if a.state != stateInvalid {
		a.state = stateExhausted
	}
}

// IsValid reports whether the cursor points at addressable data.
func (a *DataAccessor) IsValid() bool {
	return a.state == statePositioned
}

// Err returns the reason an accessor became invalid, or nil when it is valid
// or merely exhausted.
func (a *DataAccessor) Err() error {
	return a.err
}

// Row returns the data starting at the first requested column of the current
// row and band. ConcurrentRows rows are addressable from it, RowStride bytes
// apart.
func (a *DataAccessor) Row() []byte {
	if !a.IsValid() {
		return nil
	}
	return a.view[a.vl.offset(a.row, a.colStart, a.band):]
}

// Column returns the data starting at the current column of the current row
// and band, or nil once the cursor moved past the last requested column.
func (a *DataAccessor) Column() []byte {
	if !a.IsValid() || a.col > a.colStop {
		return nil
	}
	return a.view[a.vl.offset(a.row, a.col, a.band):]
}

// Pixel returns the element of the given active band at the current row and
// column, or nil when that band is not addressable.
func (a *DataAccessor) Pixel(band int) []byte {
	if !a.IsValid() || a.col > a.colStop || !a.vl.holds(a.row, band) ||
		band < a.bandStart || band > a.bandStop {
		return nil
	}
	o := a.vl.offset(a.row, a.col, band)
	return a.view[o : o+a.vl.bpe]
}

// Value decodes Pixel(band). It returns NaN when the pixel is not
// addressable.
func (a *DataAccessor) Value(band int) float64 {
	p := a.Pixel(band)
	if p == nil {
		return math.NaN()
	}
	return a.el.desc.Encoding.Value(p)
}

// SetValue encodes v into Pixel(band).
func (a *DataAccessor) SetValue(band int, v float64) error {
	if !a.req.Writable {
		return ErrReadOnly
	}
	p := a.Pixel(band)
	if p == nil {
		return fmt.Errorf("%w: pixel of band %d not addressable", ErrInvalidRequest, band)
	}
	a.el.desc.Encoding.PutValue(p, v)
	return nil
}

// NextRow moves to the first requested column of the next row.
func (a *DataAccessor) NextRow() {
	a.NextRowN(1, true)
}

// NextRowN moves count rows down. With resetColumn the cursor goes back to the
// first requested column, otherwise it stays on the current one.
func (a *DataAccessor) NextRowN(count int, resetColumn bool) {
	if !a.IsValid() {
		return
	}
	a.row += count
	if resetColumn {
		a.col = a.colStart
	}
	if a.row < a.rowStart || a.row > a.rowStop {
		a.unbind()
		a.exhaust()
		return
	}
	a.bind()
}

// NextColumn moves one column right. Moving past the last requested column
// does not invalidate the accessor; Column and Pixel return nil until the
// next row.
func (a *DataAccessor) NextColumn() {
	a.NextColumnN(1)
}

func (a *DataAccessor) NextColumnN(count int) {
	if !a.IsValid() {
		return
	}
	a.col += count
}

// NextBand moves to the next requested band. An exhausted accessor restarts
// at the first requested row and column of that band.
func (a *DataAccessor) NextBand() {
	if a.state == stateInvalid || a.released {
		return
	}
	if a.state == stateExhausted {
		a.row, a.col = a.rowStart, a.colStart
	}
	a.ToBand(a.band + 1)
}

// ToBand moves to the given active band, keeping the row and column.
func (a *DataAccessor) ToBand(band int) {
	if a.state == stateInvalid || a.released {
		return
	}
	if band < a.bandStart || band > a.bandStop || a.row < a.rowStart || a.row > a.rowStop {
		a.band = band
		a.unbind()
		a.exhaust()
		return
	}
	a.band = band
	if a.bind() {
		a.state = statePositioned
	}
}

// ToPixel moves to the given active row and column. A position outside of
// the requested window exhausts the accessor.
func (a *DataAccessor) ToPixel(row, col int) {
	if a.state == stateInvalid || a.released {
		return
	}
	if row < a.rowStart || row > a.rowStop || col < a.colStart || col > a.colStop {
		a.unbind()
		a.exhaust()
		return
	}
	a.row, a.col = row, col
	if a.bind() {
		a.state = statePositioned
	}
}

// CurrentRow returns the descriptor of the current row, or an invalid one
// when the accessor is not positioned.
func (a *DataAccessor) CurrentRow() DimensionDescriptor {
	if !a.IsValid() {
		return DimensionDescriptor{}
	}
	return a.el.desc.Rows[a.row]
}

func (a *DataAccessor) CurrentColumn() DimensionDescriptor {
	if !a.IsValid() || a.col > a.colStop {
		return DimensionDescriptor{}
	}
	return a.el.desc.Columns[a.col]
}

func (a *DataAccessor) CurrentBand() DimensionDescriptor {
	if !a.IsValid() {
		return DimensionDescriptor{}
	}
	return a.el.desc.Bands[a.band]
}

// RowStride is the byte distance between two rows of one band in Row.
func (a *DataAccessor) RowStride() int {
	return a.vl.rowStride()
}

// ColumnStride is the byte distance between two columns of one band in Row.
func (a *DataAccessor) ColumnStride() int {
	return a.vl.columnStride()
}

// BandStride is the byte distance between two bands of one pixel, when the
// accessor addresses all bands.
func (a *DataAccessor) BandStride() int {
	return a.vl.bandStride()
}

// Release returns the accessor's page to the cache. It is safe to call more
// than once.
func (a *DataAccessor) Release() {
	if a.released {
		return
	}
	a.released = true
	runtime.SetFinalizer(a, nil)
	a.unbind()
	if a.state != stateInvalid {
		a.state = stateExhausted
	}
	if a.req.Writable {
		a.el.writerReleased(a.direct)
	}
	a.el.accessorClosed()
}
