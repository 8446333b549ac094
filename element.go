package rasterpager

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/tbonfort/gobs"
	"go.uber.org/zap"
)

// An Element is a raster whose data is either resident in memory or paged on
// demand from a Pager through a per-element cache.
type Element struct {
	id      uuid.UUID
	desc    *RasterDescriptor
	block   []byte
	pager   Pager
	pages   PageLayout
	cache   *PageCache
	logger  *zap.Logger
	workers int
	scratch string

	mu          sync.Mutex
	outstanding int
	closed      bool
}

func (e *Element) ID() uuid.UUID {
	return e.id
}

// Descriptor returns a copy of the element's descriptor.
func (e *Element) Descriptor() *RasterDescriptor {
	return e.desc.Clone()
}

func (e *Element) Classification() Classification {
	return e.desc.Classification
}

// Writable reports whether writable accessors can be obtained.
func (e *Element) Writable() bool {
	if e.block != nil {
		return true
	}
	_, ok := e.pager.(WritablePager)
	return ok && e.desc.ProcessingLocation == OnDisk
}

// PageLayout returns the split of the element's rows into cache pages.
func (e *Element) PageLayout() PageLayout {
	return e.pages
}

func (e *Element) CacheStats() CacheStats {
	return e.cache.Stats()
}

// GetDataAccessor returns an accessor over the window described by req, or
// over the whole raster when req is nil. Bad requests give an invalid
// accessor whose Err wraps ErrInvalidRequest or ErrReadOnly.
func (e *Element) GetDataAccessor(req *DataRequest) *DataAccessor {
	return e.GetDataAccessorContext(context.Background(), req)
}

// GetDataAccessorContext is GetDataAccessor with a context applied to every
// page fetch the accessor triggers.
func (e *Element) GetDataAccessorContext(ctx context.Context, req *DataRequest) *DataAccessor {
	r := DataRequest{}
	if req != nil {
		r = *req
	}
	r = r.Polish(e.desc)
	if err := r.Validate(e.desc); err != nil {
		return invalidAccessor(err)
	}
	if r.Writable && !e.Writable() {
		return invalidAccessor(fmt.Errorf("element %s: %w", e.desc.Name, ErrReadOnly))
	}
	if err := e.accessorOpened(); err != nil {
		return invalidAccessor(err)
	}
	return newAccessor(ctx, e, r)
}

func (e *Element) accessorOpened() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("element %s: %w", e.desc.Name, ErrClosed)
	}
	e.outstanding++
	return nil
}

func (e *Element) accessorClosed() {
	e.mu.Lock()
	e.outstanding--
	e.mu.Unlock()
}

// writerReleased propagates the changes of a released writable accessor
// between the resident block and the converted pages of the cache.
func (e *Element) writerReleased(direct bool) {
	if e.block == nil {
		return
	}
	if direct {
		e.cache.invalidate()
		return
	}
	if err := e.cache.Flush(context.Background()); err != nil {
		e.logger.Error("flush converted pages", zap.Error(err))
	}
}

func (e *Element) pageRequest(key pageKey) *PageRequest {
	d := e.desc
	req := &PageRequest{
		Rows:       d.Rows[key.startRow : key.startRow+key.rowCount],
		Columns:    d.Columns,
		Bands:      d.Bands,
		AllBands:   true,
		Interleave: key.interleave,
		Encoding:   d.Encoding,
	}
	if key.band != allBands {
		req.Bands = d.Bands[key.band : key.band+1]
		req.AllBands = false
	}
	return req
}

func (e *Element) keyLayout(key pageKey) layout {
	l := layout{
		startRow:   key.startRow,
		rowCount:   key.rowCount,
		columns:    len(e.desc.Columns),
		firstBand:  0,
		bandCount:  len(e.desc.Bands),
		interleave: key.interleave,
		bpe:        e.desc.BytesPerElement(),
	}
	if key.band != allBands {
		l.firstBand, l.bandCount = key.band, 1
	}
	return l
}

func checkUnit(req *PageRequest, unit *CacheUnit) error {
	if unit == nil {
		return fmt.Errorf("pager returned no unit")
	}
	if len(unit.Data) != req.Size() {
		return fmt.Errorf("pager returned %d bytes instead of %d", len(unit.Data), req.Size())
	}
	if unit.RowCount != len(req.Rows) || unit.Interleave != req.Interleave {
		return fmt.Errorf("pager returned %d rows in %v instead of %d in %v",
			unit.RowCount, unit.Interleave, len(req.Rows), req.Interleave)
	}
	return nil
}

func (e *Element) fetchPage(ctx context.Context, key pageKey) ([]byte, error) {
	req := e.pageRequest(key)
	unit, err := e.pager.FetchUnit(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := checkUnit(req, unit); err != nil {
		return nil, err
	}
	return unit.Data, nil
}

func (e *Element) writePage(ctx context.Context, key pageKey, data []byte) error {
	wp, ok := e.pager.(WritablePager)
	if !ok {
		return ErrReadOnly
	}
	req := e.pageRequest(key)
	unit := &CacheUnit{
		Data:       data,
		StartRow:   req.Rows[0],
		RowCount:   len(req.Rows),
		Interleave: req.Interleave,
	}
	if !req.AllBands {
		unit.Band = req.Bands[0]
	}
	return wp.WriteUnit(ctx, req, unit)
}

// Prefetch loads the pages holding active rows [startRow,stopRow] into the
// cache, fetching up to the configured number of pages concurrently. Pages
// are laid out as for a request in the element's own interleave.
func (e *Element) Prefetch(ctx context.Context, startRow, stopRow int) error {
	if e.block != nil {
		return nil
	}
	if startRow < 0 || stopRow >= len(e.desc.Rows) || startRow > stopRow {
		return fmt.Errorf("%w: prefetch rows [%d,%d]", ErrInvalidRequest, startRow, stopRow)
	}
	bands := []int{allBands}
	if e.desc.Interleave == BSQ && len(e.desc.Bands) > 1 {
		bands = bands[:0]
		for b := range e.desc.Bands {
			bands = append(bands, b)
		}
	}
	pool := gobs.NewPool(e.workers)
	batch := pool.Batch()
	for _, pg := range e.pages.Pages() {
		if pg.StopRow() < startRow || pg.StartRow > stopRow {
			continue
		}
		for _, b := range bands {
			key := pageKey{startRow: pg.StartRow, rowCount: pg.RowCount, band: b, interleave: e.desc.Interleave}
			batch.Submit(func() error {
				p, err := e.cache.acquire(ctx, key, false)
				if err != nil {
					return err
				}
				e.cache.release(p)
				return nil
			})
		}
	}
	if err := batch.Wait(); err != nil {
		return fmt.Errorf("prefetch %s: %w", e.desc.Name, err)
	}
	return nil
}

// Flush writes the modified pages back to the pager.
func (e *Element) Flush(ctx context.Context) error {
	return e.cache.Flush(ctx)
}

// Close flushes the element, releases its cache and pager, and removes its
// scratch file. It fails with ErrAccessorsOutstanding while accessors have
// not been released.
func (e *Element) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	if e.outstanding > 0 {
		return fmt.Errorf("element %s: %d %w", e.desc.Name, e.outstanding, ErrAccessorsOutstanding)
	}
	var ret error
	if e.scratch == "" {
		if err := e.cache.Flush(context.Background()); err != nil {
			ret = fmt.Errorf("flush %s: %w", e.desc.Name, err)
		}
	}
	e.cache.purge()
	if c, ok := e.pager.(io.Closer); ok {
		if err := c.Close(); err != nil && ret == nil {
			ret = err
		}
	}
	if e.scratch != "" {
		if err := os.Remove(e.scratch); err != nil && ret == nil {
			ret = err
		}
	}
	e.block = nil
	e.closed = true
	return ret
}
