package rasterpager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// RawPager pages generic binary rasters laid out as described by a
// RasterFileDescriptor: a header, BSQ, BIL or BIP data with optional bytes
// before and after every line and band, and a trailer. BSQ data sets may be
// split in one file per band.
type RawPager struct {
	fd       *RasterFileDescriptor
	files    []*os.File
	writable bool
	bpe      int64
	swap     bool
}

// NewRawPager opens the file(s) of desc.FileDescriptor, for reading and
// writing when writable is set.
func NewRawPager(desc *RasterDescriptor, writable bool) (*RawPager, error) {
	fd := desc.FileDescriptor
	if fd == nil {
		return nil, fmt.Errorf("%w: %s has no file descriptor", ErrUnsupported, desc.Name)
	}
	if fd.Encoding != desc.Encoding {
		return nil, fmt.Errorf("%w: file encoding %v differs from %v", ErrUnsupported, fd.Encoding, desc.Encoding)
	}
	bpe := BytesInEncoding(fd.Encoding)
	if bpe == 0 || (fd.BitsPerElement != 0 && fd.BitsPerElement != 8*bpe) {
		return nil, fmt.Errorf("%w: %d bits per %v element", ErrUnsupported, fd.BitsPerElement, fd.Encoding)
	}
	switch fd.Interleave {
	case BSQ, BIL, BIP:
	default:
		return nil, fmt.Errorf("%w: interleave %v", ErrUnsupported, fd.Interleave)
	}
	names := fd.BandFiles
	if len(names) == 0 {
		names = []string{fd.Filename}
	} else if fd.Interleave != BSQ || len(names) != len(fd.Bands) {
		return nil, fmt.Errorf("%w: %d band files for %d %v bands", ErrUnsupported, len(names), len(fd.Bands), fd.Interleave)
	}
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	p := &RawPager{
		fd:       fd.Clone(),
		writable: writable,
		bpe:      int64(bpe),
		swap:     fd.Endian != LittleEndian,
	}
	for _, name := range names {
		f, err := os.OpenFile(name, flag, 0)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		p.files = append(p.files, f)
	}
	return p, nil
}

func (p *RawPager) Close() error {
	var ret error
	for _, f := range p.files {
		if err := f.Close(); err != nil && ret == nil {
			ret = err
		}
	}
	p.files = nil
	return ret
}

func (p *RawPager) lineBytes() int64 {
	cols, bands := int64(len(p.fd.Columns)), int64(len(p.fd.Bands))
	switch p.fd.Interleave {
	case BSQ:
		return p.fd.PrelineBytes + cols*p.bpe + p.fd.PostlineBytes
	default:
		return p.fd.PrelineBytes + cols*bands*p.bpe + p.fd.PostlineBytes
	}
}

// locate returns the file and byte offset of the element at the given
// on-disk row, column and band.
func (p *RawPager) locate(row, col, band int64) (*os.File, int64) {
	fd := p.fd
	cols := int64(len(fd.Columns))
	line := p.lineBytes()
	switch fd.Interleave {
	case BSQ:
		perBand := fd.PrebandBytes + int64(len(fd.Rows))*line + fd.PostbandBytes
		if len(p.files) > 1 {
			return p.files[band], fd.HeaderBytes + fd.PrebandBytes + row*line + fd.PrelineBytes + col*p.bpe
		}
		return p.files[0], fd.HeaderBytes + band*perBand + fd.PrebandBytes + row*line + fd.PrelineBytes + col*p.bpe
	case BIL:
		return p.files[0], fd.HeaderBytes + row*line + fd.PrelineBytes + (band*cols+col)*p.bpe
	default:
		return p.files[0], fd.HeaderBytes + row*line + fd.PrelineBytes + (col*int64(len(fd.Bands))+band)*p.bpe
	}
}

func onDiskNumbers(dims Dimensions, axis string) ([]int64, error) {
	ret := make([]int64, len(dims))
	for i, d := range dims {
		n, ok := d.OnDiskNumber()
		if !ok {
			return nil, fmt.Errorf("%w: %s %d has no on-disk number", ErrInvalidRequest, axis, i)
		}
		ret[i] = int64(n)
	}
	return ret, nil
}

// rawRun is the on-disk span of the requested columns of one row, for one
// band (BSQ, BIL) or all of them (BIP).
type rawRun struct {
	rows, cols, bands []int64
	first             int64
	span              int64
	stride            int64
}

func (p *RawPager) plan(req *PageRequest) (*rawRun, error) {
	var r rawRun
	var err error
	if r.rows, err = onDiskNumbers(req.Rows, "row"); err != nil {
		return nil, err
	}
	if r.cols, err = onDiskNumbers(req.Columns, "column"); err != nil {
		return nil, err
	}
	if r.bands, err = onDiskNumbers(req.Bands, "band"); err != nil {
		return nil, err
	}
	if len(r.rows) == 0 || len(r.cols) == 0 || len(r.bands) == 0 {
		return nil, fmt.Errorf("%w: empty page request", ErrInvalidRequest)
	}
	for _, b := range r.bands {
		if b >= int64(len(p.fd.Bands)) {
			return nil, fmt.Errorf("%w: band %d not in file", ErrInvalidRequest, b)
		}
	}
	r.first = r.cols[0]
	r.stride = p.bpe
	if p.fd.Interleave == BIP {
		r.stride = int64(len(p.fd.Bands)) * p.bpe
	}
	r.span = (r.cols[len(r.cols)-1] - r.first + 1) * r.stride
	return &r, nil
}

// lines calls fn for every on-disk line read or written for the request,
// with the index of the requested row and band (-1 for BIP lines holding
// all bands).
func (p *RawPager) lines(ctx context.Context, r *rawRun, fn func(i, k int, f *os.File, off int64) error) error {
	for i, row := range r.rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.fd.Interleave == BIP {
			f, off := p.locate(row, r.first, 0)
			if err := fn(i, -1, f, off); err != nil {
				return err
			}
			continue
		}
		for k, band := range r.bands {
			f, off := p.locate(row, r.first, band)
			if err := fn(i, k, f, off); err != nil {
				return err
			}
		}
	}
	return nil
}

func readFull(f *os.File, buf []byte, off int64) error {
	n, err := f.ReadAt(buf, off)
	if err != nil && !(errors.Is(err, io.EOF) && n == len(buf)) {
		return fmt.Errorf("read %d bytes at %d of %s: %w", len(buf), off, f.Name(), err)
	}
	return nil
}

func (p *RawPager) FetchUnit(ctx context.Context, req *PageRequest) (*CacheUnit, error) {
	r, err := p.plan(req)
	if err != nil {
		return nil, err
	}
	unit, err := newUnit(req)
	if err != nil {
		return nil, err
	}
	rl := requestLayout(req)
	bpe := int(p.bpe)
	buf := make([]byte, r.span)
	err = p.lines(ctx, r, func(i, k int, f *os.File, off int64) error {
		if err := readFull(f, buf, off); err != nil {
			return err
		}
		if p.swap {
			swapBytes(buf, req.Encoding.componentSize())
		}
		for j, c := range r.cols {
			src := (c - r.first) * r.stride
			if k >= 0 {
				do := rl.offset(rl.startRow+i, j, rl.firstBand+k)
				copy(unit.Data[do:do+bpe], buf[src:])
				continue
			}
			for kk, b := range r.bands {
				do := rl.offset(rl.startRow+i, j, rl.firstBand+kk)
				so := src + b*p.bpe
				copy(unit.Data[do:do+bpe], buf[so:])
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return unit, nil
}

// WriteUnit stores unit back into the file. Lines are read, patched and
// rewritten, so that skipped columns and unrequested bands keep their
// content.
func (p *RawPager) WriteUnit(ctx context.Context, req *PageRequest, unit *CacheUnit) error {
	if !p.writable {
		return ErrReadOnly
	}
	r, err := p.plan(req)
	if err != nil {
		return err
	}
	if len(unit.Data) != req.Size() {
		return fmt.Errorf("%w: unit of %d bytes for a %d bytes request", ErrInvalidRequest, len(unit.Data), req.Size())
	}
	rl := requestLayout(req)
	bpe := int(p.bpe)
	buf := make([]byte, r.span)
	dense := r.span == int64(len(r.cols))*r.stride && (p.fd.Interleave != BIP || len(r.bands) == len(p.fd.Bands))
	return p.lines(ctx, r, func(i, k int, f *os.File, off int64) error {
		if !dense {
			if err := readFull(f, buf, off); err != nil {
				return err
			}
			if p.swap {
				swapBytes(buf, req.Encoding.componentSize())
			}
		}
		for j, c := range r.cols {
			dst := (c - r.first) * r.stride
			if k >= 0 {
				so := rl.offset(rl.startRow+i, j, rl.firstBand+k)
				copy(buf[dst:dst+p.bpe], unit.Data[so:so+bpe])
				continue
			}
			for kk, b := range r.bands {
				so := rl.offset(rl.startRow+i, j, rl.firstBand+kk)
				do := dst + b*p.bpe
				copy(buf[do:do+p.bpe], unit.Data[so:so+bpe])
			}
		}
		if p.swap {
			swapBytes(buf, req.Encoding.componentSize())
		}
		if _, err := f.WriteAt(buf, off); err != nil {
			return fmt.Errorf("write %d bytes at %d of %s: %w", len(buf), off, f.Name(), err)
		}
		return nil
	})
}
