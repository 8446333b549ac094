// Package gdalpager pages rasters from any dataset GDAL can open.
package gdalpager

import (
	"context"
	"fmt"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/rasterpager"
)

// Pager serves pages by reading windows of a GDAL dataset. Reads are
// serialized as GDAL datasets are not safe for concurrent use.
type Pager struct {
	mu     sync.Mutex
	ds     *godal.Dataset
	enc    rasterpager.EncodingType
	blockH int
	ownsDS bool
}

func encoding(dt godal.DataType) (rasterpager.EncodingType, error) {
	switch dt {
	case godal.Byte:
		return rasterpager.Int1UByte, nil
	case godal.UInt16:
		return rasterpager.Int2UBytes, nil
	case godal.Int16:
		return rasterpager.Int2SBytes, nil
	case godal.UInt32:
		return rasterpager.Int4UBytes, nil
	case godal.Int32:
		return rasterpager.Int4SBytes, nil
	case godal.Float32:
		return rasterpager.Flt4Bytes, nil
	case godal.Float64:
		return rasterpager.Flt8Bytes, nil
	}
	return rasterpager.EncodingUnknown, fmt.Errorf("%w: gdal data type %v", rasterpager.ErrUnsupported, dt)
}

// New wraps an open dataset. The dataset stays owned by the caller.
func New(ds *godal.Dataset) (*Pager, *rasterpager.RasterDescriptor, error) {
	st := ds.Structure()
	enc, err := encoding(st.DataType)
	if err != nil {
		return nil, nil, err
	}
	if st.SizeX <= 0 || st.SizeY <= 0 || st.NBands <= 0 {
		return nil, nil, fmt.Errorf("%w: empty %dx%dx%d dataset", rasterpager.ErrUnsupported, st.SizeX, st.SizeY, st.NBands)
	}
	desc := rasterpager.GenerateRasterDataDescriptor("", nil, st.SizeY, st.SizeX, st.NBands,
		rasterpager.BIP, enc, rasterpager.OnDiskReadOnly)
	rasterpager.GenerateAndSetFileDescriptor(desc, "", rasterpager.LittleEndian)
	if nd, ok := ds.Bands()[0].NoData(); ok {
		desc.BadValues = []int{int(nd)}
	}
	return &Pager{ds: ds, enc: enc, blockH: st.BlockSizeY}, desc, nil
}

// Open opens name with GDAL. The returned pager closes the dataset.
func Open(name string, opts ...godal.OpenOption) (*Pager, *rasterpager.RasterDescriptor, error) {
	ds, err := godal.Open(name, append([]godal.OpenOption{godal.RasterOnly()}, opts...)...)
	if err != nil {
		return nil, nil, fmt.Errorf("godal.open %s: %w", name, err)
	}
	p, desc, err := New(ds)
	if err != nil {
		ds.Close()
		return nil, nil, err
	}
	p.ownsDS = true
	desc.FileDescriptor.Filename = name
	return p, desc, nil
}

// Import opens name and creates a read-only element paging it through e.
func Import(e *rasterpager.Engine, name string, parent *rasterpager.Element, opts ...godal.OpenOption) (*rasterpager.Element, error) {
	p, desc, err := Open(name, opts...)
	if err != nil {
		return nil, err
	}
	desc.Name = name
	if parent != nil {
		desc.Classification = parent.Classification().Clone()
	}
	el, err := e.NewElement(desc, p)
	if err != nil {
		p.Close()
		return nil, err
	}
	return el, nil
}

// RowAlignment is the block height of the dataset.
func (p *Pager) RowAlignment() int {
	if p.blockH <= 0 {
		return 1
	}
	return p.blockH
}

func (p *Pager) Close() error {
	if !p.ownsDS {
		return nil
	}
	return p.ds.Close()
}

func onDisk(dims rasterpager.Dimensions) ([]int, error) {
	ret := make([]int, len(dims))
	for i, d := range dims {
		n, ok := d.OnDiskNumber()
		if !ok {
			return nil, fmt.Errorf("%w: entry %d has no on-disk number", rasterpager.ErrInvalidRequest, i)
		}
		ret[i] = int(n)
	}
	if len(ret) == 0 {
		return nil, fmt.Errorf("%w: empty selection", rasterpager.ErrInvalidRequest)
	}
	return ret, nil
}

// readWindow reads a window of one band as float64 values.
func (p *Pager) readWindow(band godal.Band, x, y, w, h int) ([]float64, error) {
	ret := make([]float64, w*h)
	var err error
	switch p.enc {
	case rasterpager.Int1UByte:
		buf := make([]byte, w*h)
		if err = band.Read(x, y, buf, w, h); err == nil {
			for i, v := range buf {
				ret[i] = float64(v)
			}
		}
	case rasterpager.Int2UBytes:
		buf := make([]uint16, w*h)
		if err = band.Read(x, y, buf, w, h); err == nil {
			for i, v := range buf {
				ret[i] = float64(v)
			}
		}
	case rasterpager.Int2SBytes:
		buf := make([]int16, w*h)
		if err = band.Read(x, y, buf, w, h); err == nil {
			for i, v := range buf {
				ret[i] = float64(v)
			}
		}
	case rasterpager.Int4UBytes:
		buf := make([]uint32, w*h)
		if err = band.Read(x, y, buf, w, h); err == nil {
			for i, v := range buf {
				ret[i] = float64(v)
			}
		}
	case rasterpager.Int4SBytes:
		buf := make([]int32, w*h)
		if err = band.Read(x, y, buf, w, h); err == nil {
			for i, v := range buf {
				ret[i] = float64(v)
			}
		}
	case rasterpager.Flt4Bytes:
		buf := make([]float32, w*h)
		if err = band.Read(x, y, buf, w, h); err == nil {
			for i, v := range buf {
				ret[i] = float64(v)
			}
		}
	default:
		err = band.Read(x, y, ret, w, h)
	}
	return ret, err
}

func (p *Pager) FetchUnit(ctx context.Context, req *rasterpager.PageRequest) (*rasterpager.CacheUnit, error) {
	if req.Encoding != p.enc {
		return nil, fmt.Errorf("%w: %v request on %v dataset", rasterpager.ErrUnsupported, req.Encoding, p.enc)
	}
	rows, err := onDisk(req.Rows)
	if err != nil {
		return nil, err
	}
	cols, err := onDisk(req.Columns)
	if err != nil {
		return nil, err
	}
	bands, err := onDisk(req.Bands)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bpe := rasterpager.BytesInEncoding(p.enc)
	unit := &rasterpager.CacheUnit{
		Data:       make([]byte, req.Size()),
		StartRow:   req.Rows[0],
		RowCount:   len(rows),
		Interleave: req.Interleave,
	}
	if !req.AllBands {
		unit.Band = req.Bands[0]
	}
	x0, y0 := cols[0], rows[0]
	w, h := cols[len(cols)-1]-x0+1, rows[len(rows)-1]-y0+1

	p.mu.Lock()
	defer p.mu.Unlock()
	dsBands := p.ds.Bands()
	for k, b := range bands {
		if b >= len(dsBands) {
			return nil, fmt.Errorf("%w: band %d not in dataset", rasterpager.ErrInvalidRequest, b)
		}
		win, err := p.readWindow(dsBands[b], x0, y0, w, h)
		if err != nil {
			return nil, fmt.Errorf("read band %d window %d,%d+%dx%d: %w", b, x0, y0, w, h, err)
		}
		for i, r := range rows {
			for j, c := range cols {
				off := elementOffset(req.Interleave, i, j, k, len(rows), len(cols), len(bands)) * bpe
				p.enc.PutValue(unit.Data[off:off+bpe], win[(r-y0)*w+c-x0])
			}
		}
	}
	return unit, nil
}

func elementOffset(interleave rasterpager.InterleaveFormat, row, col, band, rows, cols, bands int) int {
	switch interleave {
	case rasterpager.BIP:
		return (row*cols+col)*bands + band
	case rasterpager.BIL:
		return (row*bands+band)*cols + col
	}
	return (band*rows+row)*cols + col
}
