package rasterpager

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/klauspost/compress/zlib"
)

type exportOptions struct {
	stripBytes   int
	deflate      bool
	level        int
	forceBigTIFF bool
}

type ExportOption func(o *exportOptions) error

// ExportDeflate compresses the strips with the given zlib level.
func ExportDeflate(level int) ExportOption {
	return func(o *exportOptions) error {
		if level < zlib.HuffmanOnly || level > zlib.BestCompression {
			return ErrInvalidOption{"invalid deflate level"}
		}
		o.deflate, o.level = true, level
		return nil
	}
}

// StripBytes sets the approximate uncompressed size of a strip.
func StripBytes(n int) ExportOption {
	return func(o *exportOptions) error {
		if n <= 0 {
			return ErrInvalidOption{"strip size must be >=1"}
		}
		o.stripBytes = n
		return nil
	}
}

// ForceBigTIFF writes a BigTIFF whatever the output size.
func ForceBigTIFF() ExportOption {
	return func(o *exportOptions) error {
		o.forceBigTIFF = true
		return nil
	}
}

func tiffSampleFormat(e EncodingType) (bits, format uint16, err error) {
	bits = uint16(8 * BytesInEncoding(e))
	switch e {
	case Int1UByte, Int2UBytes, Int4UBytes:
		format = sampleFormatUInt
	case Int1SByte, Int2SBytes, Int4SBytes:
		format = sampleFormatInt
	case Flt4Bytes, Flt8Bytes:
		format = sampleFormatIEEEFP
	case Int4SComplex:
		format = sampleFormatComplexInt
	case Flt8Complex:
		format = sampleFormatComplexIEEEFP
	default:
		return 0, 0, fmt.Errorf("%w: encoding %v", ErrUnsupported, e)
	}
	return bits, format, nil
}

type exporter struct {
	el       *Element
	fd       *RasterFileDescriptor
	a        *DataAccessor
	planar   bool
	bpe      int
	rowBytes int
	rows     []int
	cols     []int
	bands    []int
}

func activeNumbers(dims Dimensions, count int, axis string) ([]int, error) {
	ret := make([]int, len(dims))
	for i, d := range dims {
		n, ok := d.ActiveNumber()
		if !ok || int(n) >= count {
			return nil, fmt.Errorf("%w: exported %s %d is not loaded", ErrInvalidRequest, axis, i)
		}
		ret[i] = int(n)
	}
	if len(ret) == 0 {
		return nil, fmt.Errorf("%w: no %s to export", ErrInvalidRequest, axis)
	}
	return ret, nil
}

// strip renders the rows of pg for one band plane, or for all bands when
// the output is chunky.
func (x *exporter) strip(plane int, pg Page) ([]byte, error) {
	buf := make([]byte, pg.RowCount*x.rowBytes)
	bands := x.bands
	if x.planar {
		bands = x.bands[plane : plane+1]
		x.a.ToBand(bands[0])
	}
	o := 0
	for _, row := range x.rows[pg.StartRow : pg.StartRow+pg.RowCount] {
		for _, col := range x.cols {
			x.a.ToPixel(row, col)
			for _, b := range bands {
				px := x.a.Pixel(b)
				if px == nil {
					if err := x.a.Err(); err != nil {
						return nil, err
					}
					return nil, fmt.Errorf("pixel %d,%d of band %d not readable", row, col, b)
				}
				o += copy(buf[o:], px)
			}
		}
	}
	return buf, nil
}

// ExportTIFF writes the part of el selected by fd, as produced by
// GenerateFileDescriptorForExport, as a little endian stripped TIFF. BSQ
// descriptors give a planar file, BIP and BIL a chunky one. A BigTIFF is
// written when the output could exceed 4 GiB. Deflate compressed strips are
// held in memory until the whole raster has been compressed.
func ExportTIFF(ctx context.Context, w io.Writer, el *Element, fd *RasterFileDescriptor, opts ...ExportOption) error {
	o := exportOptions{stripBytes: 256 << 10, level: zlib.DefaultCompression}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return err
		}
	}
	d := el.desc
	bits, format, err := tiffSampleFormat(d.Encoding)
	if err != nil {
		return err
	}
	x := &exporter{el: el, fd: fd, bpe: d.BytesPerElement()}
	if x.rows, err = activeNumbers(fd.Rows, len(d.Rows), "row"); err != nil {
		return err
	}
	if x.cols, err = activeNumbers(fd.Columns, len(d.Columns), "column"); err != nil {
		return err
	}
	if x.bands, err = activeNumbers(fd.Bands, len(d.Bands), "band"); err != nil {
		return err
	}
	x.planar = fd.Interleave == BSQ && len(x.bands) > 1
	planes := 1
	req := &DataRequest{Interleave: BIP}
	if x.planar {
		planes = len(x.bands)
		x.rowBytes = len(x.cols) * x.bpe
		req.Interleave, req.ConcurrentBands = BSQ, 1
	} else {
		x.rowBytes = len(x.cols) * len(x.bands) * x.bpe
		req.ConcurrentBands = len(d.Bands)
	}
	strips, err := NewPageLayout(len(x.rows), x.rowBytes, TargetPageBytes(o.stripBytes))
	if err != nil {
		return err
	}
	x.a = el.GetDataAccessorContext(ctx, req)
	defer x.a.Release()
	if !x.a.IsValid() {
		return fmt.Errorf("export %s: %w", d.Name, x.a.Err())
	}

	pages := strips.Pages()
	counts := make([]uint64, 0, len(pages)*planes)
	var compressed [][]byte
	for p := 0; p < planes; p++ {
		for _, pg := range pages {
			if !o.deflate {
				counts = append(counts, uint64(pg.RowCount*x.rowBytes))
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			raw, err := x.strip(p, pg)
			if err != nil {
				return fmt.Errorf("export %s: %w", d.Name, err)
			}
			var buf bytes.Buffer
			zw, err := zlib.NewWriterLevel(&buf, o.level)
			if err != nil {
				return err
			}
			if _, err := zw.Write(raw); err != nil {
				return err
			}
			if err := zw.Close(); err != nil {
				return err
			}
			compressed = append(compressed, buf.Bytes())
			counts = append(counts, uint64(buf.Len()))
		}
	}
	var total uint64
	for _, c := range counts {
		total += c
	}
	tw := &tiffWriter{enc: binary.LittleEndian, bigtiff: o.forceBigTIFF || total > math.MaxUint32-(64<<20)}

	samples := len(x.bands)
	bps := make([]uint16, samples)
	sf := make([]uint16, samples)
	for i := range bps {
		bps[i], sf[i] = bits, format
	}
	compression := uint16(compressionNone)
	if o.deflate {
		compression = compressionDeflate
	}
	planarConfig := uint16(planarContig)
	if x.planar {
		planarConfig = planarSeparate
	}
	offsets := make([]uint64, len(counts))
	fields := func() []tiffField {
		f := []tiffField{
			{256, uint32(len(x.cols))},
			{257, uint32(len(x.rows))},
			{258, bps},
			{259, compression},
			{262, uint16(1)},
			{273, offsets},
			{277, uint16(samples)},
			{278, uint32(pages[0].RowCount)},
			{279, counts},
			{284, planarConfig},
		}
		if samples > 1 {
			f = append(f, tiffField{338, make([]uint16, samples-1)})
		}
		f = append(f, tiffField{339, sf})
		if len(fd.GCPs) > 0 {
			tp := make([]float64, 0, 6*len(fd.GCPs))
			for _, g := range fd.GCPs {
				tp = append(tp, g.Column, g.Row, 0, g.Longitude, g.Latitude, 0)
			}
			f = append(f, tiffField{33922, tp})
		}
		if len(d.BadValues) > 0 {
			f = append(f, tiffField{42113, strconv.Itoa(d.BadValues[0])})
		}
		return f
	}

	// offsets do not change the IFD size, so a first rendering gives the
	// position of the strip data
	var ifd bytes.Buffer
	if err := tw.writeIFD(&ifd, fields(), tw.headerSize()); err != nil {
		return err
	}
	next := tw.headerSize() + uint64(ifd.Len())
	for i, c := range counts {
		offsets[i] = next
		next += c
	}
	ifd.Reset()
	if err := tw.writeIFD(&ifd, fields(), tw.headerSize()); err != nil {
		return err
	}
	if err := tw.writeHeader(w); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(ifd.Bytes()); err != nil {
		return fmt.Errorf("write ifd: %w", err)
	}
	if o.deflate {
		for _, c := range compressed {
			if _, err := w.Write(c); err != nil {
				return fmt.Errorf("write strip: %w", err)
			}
		}
		return nil
	}
	for p := 0; p < planes; p++ {
		for _, pg := range pages {
			if err := ctx.Err(); err != nil {
				return err
			}
			raw, err := x.strip(p, pg)
			if err != nil {
				return fmt.Errorf("export %s: %w", d.Name, err)
			}
			if _, err := w.Write(raw); err != nil {
				return fmt.Errorf("write strip: %w", err)
			}
		}
	}
	return nil
}
