package rasterpager

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	"github.com/klauspost/compress/zlib"
	"golang.org/x/image/tiff/lzw"
)

const (
	compressionNone     = 1
	compressionLZW      = 5
	compressionDeflate  = 8
	compressionPackBits = 32773
	compressionAdobe    = 32946

	predictorNone       = 1
	predictorHorizontal = 2

	planarContig   = 1
	planarSeparate = 2

	sampleFormatUInt          = 1
	sampleFormatInt           = 2
	sampleFormatIEEEFP        = 3
	sampleFormatComplexInt    = 5
	sampleFormatComplexIEEEFP = 6
)

type tiffImage struct {
	ImageWidth          uint64    `tiff:"field,tag=256"`
	ImageLength         uint64    `tiff:"field,tag=257"`
	BitsPerSample       []uint16  `tiff:"field,tag=258"`
	Compression         uint16    `tiff:"field,tag=259"`
	DocumentName        string    `tiff:"field,tag=269"`
	StripOffsets        []uint64  `tiff:"field,tag=273"`
	SamplesPerPixel     uint16    `tiff:"field,tag=277"`
	RowsPerStrip        uint64    `tiff:"field,tag=278"`
	StripByteCounts     []uint64  `tiff:"field,tag=279"`
	PlanarConfiguration uint16    `tiff:"field,tag=284"`
	Predictor           uint16    `tiff:"field,tag=317"`
	TileWidth           uint64    `tiff:"field,tag=322"`
	TileLength          uint64    `tiff:"field,tag=323"`
	TileOffsets         []uint64  `tiff:"field,tag=324"`
	TileByteCounts      []uint64  `tiff:"field,tag=325"`
	SampleFormat        []uint16  `tiff:"field,tag=339"`
	ModelPixelScaleTag  []float64 `tiff:"field,tag=33550"`
	ModelTiePointTag    []float64 `tiff:"field,tag=33922"`
	NoData              string    `tiff:"field,tag=42113"`
}

func (img *tiffImage) encoding() (EncodingType, error) {
	if len(img.BitsPerSample) == 0 {
		return EncodingUnknown, fmt.Errorf("%w: missing bits per sample", ErrUnsupported)
	}
	for _, b := range img.BitsPerSample[1:] {
		if b != img.BitsPerSample[0] {
			return EncodingUnknown, fmt.Errorf("%w: mixed bits per sample", ErrUnsupported)
		}
	}
	format := uint16(sampleFormatUInt)
	if len(img.SampleFormat) > 0 {
		format = img.SampleFormat[0]
	}
	switch [2]int{int(img.BitsPerSample[0]), int(format)} {
	case [2]int{8, sampleFormatUInt}:
		return Int1UByte, nil
	case [2]int{8, sampleFormatInt}:
		return Int1SByte, nil
	case [2]int{16, sampleFormatUInt}:
		return Int2UBytes, nil
	case [2]int{16, sampleFormatInt}:
		return Int2SBytes, nil
	case [2]int{32, sampleFormatUInt}:
		return Int4UBytes, nil
	case [2]int{32, sampleFormatInt}:
		return Int4SBytes, nil
	case [2]int{32, sampleFormatIEEEFP}:
		return Flt4Bytes, nil
	case [2]int{64, sampleFormatIEEEFP}:
		return Flt8Bytes, nil
	case [2]int{32, sampleFormatComplexInt}:
		return Int4SComplex, nil
	case [2]int{64, sampleFormatComplexIEEEFP}:
		return Flt8Complex, nil
	}
	return EncodingUnknown, fmt.Errorf("%w: %d bit samples of format %d", ErrUnsupported, img.BitsPerSample[0], format)
}

// TIFFPager pages the first image of a stripped or tiled TIFF or BigTIFF
// file. Strips are handled as tiles spanning the image width.
type TIFFPager struct {
	r          io.ReaderAt
	endian     Endian
	enc        EncodingType
	bpe        int
	width      int
	height     int
	samples    int
	planar     bool
	chunkW     int
	chunkH     int
	across     int
	down       int
	offsets    []uint64
	counts     []uint64
	compressed uint16
	predictor  uint16
	// noData fills sparse chunks, little endian
	noData []byte
}

// OpenTIFF parses r and returns a pager for its first image along with a
// read-only descriptor of it.
func OpenTIFF(r tiff.ReadAtReadSeeker) (*TIFFPager, *RasterDescriptor, error) {
	tif, err := tiff.Parse(r, nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("parse tiff: %w", err)
	}
	ifds := tif.IFDs()
	if len(ifds) == 0 {
		return nil, nil, fmt.Errorf("tiff has no image")
	}
	img := &tiffImage{}
	if err := tiff.UnmarshalIFD(ifds[0], img); err != nil {
		return nil, nil, fmt.Errorf("unmarshal ifd: %w", err)
	}
	p := &TIFFPager{
		r:          r,
		width:      int(img.ImageWidth),
		height:     int(img.ImageLength),
		samples:    int(img.SamplesPerPixel),
		planar:     img.PlanarConfiguration == planarSeparate,
		compressed: img.Compression,
		predictor:  img.Predictor,
	}
	if tif.Order() == "MM" {
		p.endian = BigEndian
	}
	if p.samples == 0 {
		p.samples = 1
	}
	if p.width == 0 || p.height == 0 {
		return nil, nil, fmt.Errorf("%w: empty %dx%d image", ErrUnsupported, p.width, p.height)
	}
	if p.enc, err = img.encoding(); err != nil {
		return nil, nil, err
	}
	p.bpe = BytesInEncoding(p.enc)
	switch p.compressed {
	case 0:
		p.compressed = compressionNone
	case compressionNone, compressionLZW, compressionDeflate, compressionAdobe, compressionPackBits:
	default:
		return nil, nil, fmt.Errorf("%w: compression %d", ErrUnsupported, p.compressed)
	}
	switch p.predictor {
	case 0:
		p.predictor = predictorNone
	case predictorNone, predictorHorizontal:
	default:
		return nil, nil, fmt.Errorf("%w: predictor %d", ErrUnsupported, p.predictor)
	}
	if len(img.TileOffsets) > 0 {
		p.chunkW, p.chunkH = int(img.TileWidth), int(img.TileLength)
		p.offsets, p.counts = img.TileOffsets, img.TileByteCounts
	} else {
		p.chunkW, p.chunkH = p.width, int(img.RowsPerStrip)
		if p.chunkH == 0 || p.chunkH > p.height {
			p.chunkH = p.height
		}
		p.offsets, p.counts = img.StripOffsets, img.StripByteCounts
	}
	if p.chunkW <= 0 || p.chunkH <= 0 {
		return nil, nil, fmt.Errorf("%w: %dx%d chunks", ErrUnsupported, p.chunkW, p.chunkH)
	}
	p.across = (p.width + p.chunkW - 1) / p.chunkW
	p.down = (p.height + p.chunkH - 1) / p.chunkH
	planes := 1
	if p.planar {
		planes = p.samples
	}
	if n := p.across * p.down * planes; len(p.offsets) != n || len(p.counts) != n {
		return nil, nil, fmt.Errorf("%w: %d/%d chunk offsets/sizes for %d chunks", ErrUnsupported, len(p.offsets), len(p.counts), n)
	}

	interleave := BIP
	if p.planar {
		interleave = BSQ
	}
	desc := GenerateRasterDataDescriptor("", nil, p.height, p.width, p.samples, interleave, p.enc, OnDiskReadOnly)
	fd := GenerateAndSetFileDescriptor(desc, img.DocumentName, p.endian)
	if img.NoData != "" {
		if v, err := strconv.ParseFloat(strings.Trim(img.NoData, " \x00"), 64); err == nil {
			desc.BadValues = []int{int(v)}
			p.noData = make([]byte, p.bpe)
			p.enc.PutValue(p.noData, v)
		}
	}
	for i := 0; i+5 < len(img.ModelTiePointTag); i += 6 {
		tp := img.ModelTiePointTag[i : i+6]
		fd.GCPs = append(fd.GCPs, GCP{Column: tp[0], Row: tp[1], Longitude: tp[3], Latitude: tp[4]})
	}
	if len(img.ModelPixelScaleTag) > 0 {
		desc.Metadata.Set("GeoTIFF/ModelPixelScale", append([]float64(nil), img.ModelPixelScaleTag...))
	}
	return p, desc, nil
}

// RowAlignment is the height of the strips or tiles, so that pages never
// share a chunk.
func (p *TIFFPager) RowAlignment() int {
	return p.chunkH
}

func (p *TIFFPager) chunkIndex(cx, cy, plane int) int {
	return plane*p.across*p.down + cy*p.across + cx
}

// samplesPerChunkPixel is the number of samples stored per pixel of a chunk.
func (p *TIFFPager) samplesPerChunkPixel() int {
	if p.planar {
		return 1
	}
	return p.samples
}

// decode returns the uncompressed little endian content of a chunk.
func (p *TIFFPager) decode(idx int) ([]byte, error) {
	spc := p.samplesPerChunkPixel()
	size := p.chunkW * p.chunkH * spc * p.bpe
	if p.counts[idx] == 0 {
		// sparse chunk
		data := make([]byte, size)
		if p.noData != nil {
			for i := 0; i < size; i += len(p.noData) {
				copy(data[i:], p.noData)
			}
		}
		return data, nil
	}
	raw := make([]byte, p.counts[idx])
	if n, err := p.r.ReadAt(raw, int64(p.offsets[idx])); n != len(raw) {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read chunk %d: %w", idx, err)
	}
	var data []byte
	var err error
	switch p.compressed {
	case compressionNone:
		data = raw
	case compressionDeflate, compressionAdobe:
		var zr io.ReadCloser
		if zr, err = zlib.NewReader(bytes.NewReader(raw)); err == nil {
			data, err = io.ReadAll(zr)
			zr.Close()
		}
	case compressionLZW:
		lr := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		data, err = io.ReadAll(lr)
		lr.Close()
	case compressionPackBits:
		data, err = unpackBits(raw, size)
	}
	if err != nil {
		return nil, fmt.Errorf("decompress chunk %d: %w", idx, err)
	}
	if len(data) < size {
		// last strips may be cut at the image height
		data = append(data, make([]byte, size-len(data))...)
	}
	data = data[:size]
	if p.endian == BigEndian {
		swapBytes(data, p.enc.componentSize())
	}
	if p.predictor == predictorHorizontal {
		undoHorizontalPredictor(data, p.chunkW, spc, p.enc)
	}
	return data, nil
}

// undoHorizontalPredictor integrates the per-sample differences of every
// row of a little endian chunk.
func undoHorizontalPredictor(data []byte, width, spc int, enc EncodingType) {
	size := enc.componentSize()
	comps := BytesInEncoding(enc) / size
	stride := spc * comps
	rowLen := width * stride
	for row := 0; (row+1)*rowLen*size <= len(data); row++ {
		base := row * rowLen
		for i := stride; i < rowLen; i++ {
			cur, prev := (base+i)*size, (base+i-stride)*size
			switch size {
			case 1:
				data[cur] += data[prev]
			case 2:
				le.PutUint16(data[cur:], le.Uint16(data[cur:])+le.Uint16(data[prev:]))
			case 4:
				le.PutUint32(data[cur:], le.Uint32(data[cur:])+le.Uint32(data[prev:]))
			case 8:
				le.PutUint64(data[cur:], le.Uint64(data[cur:])+le.Uint64(data[prev:]))
			}
		}
	}
}

// unpackBits decodes PackBits run-length encoded data.
func unpackBits(src []byte, size int) ([]byte, error) {
	dst := make([]byte, 0, size)
	for i := 0; i < len(src) && len(dst) < size; {
		n := int(int8(src[i]))
		i++
		switch {
		case n >= 0:
			if i+n+1 > len(src) {
				return nil, fmt.Errorf("packbits literal run overflows input")
			}
			dst = append(dst, src[i:i+n+1]...)
			i += n + 1
		case n != -128:
			if i >= len(src) {
				return nil, fmt.Errorf("packbits repeat run overflows input")
			}
			for j := 0; j < 1-n; j++ {
				dst = append(dst, src[i])
			}
			i++
		}
	}
	return dst, nil
}

func (p *TIFFPager) FetchUnit(ctx context.Context, req *PageRequest) (*CacheUnit, error) {
	if req.Encoding != p.enc {
		return nil, fmt.Errorf("%w: %v request on %v tiff", ErrUnsupported, req.Encoding, p.enc)
	}
	rows, err := onDiskNumbers(req.Rows, "row")
	if err != nil {
		return nil, err
	}
	cols, err := onDiskNumbers(req.Columns, "column")
	if err != nil {
		return nil, err
	}
	bands, err := onDiskNumbers(req.Bands, "band")
	if err != nil {
		return nil, err
	}
	unit, err := newUnit(req)
	if err != nil {
		return nil, err
	}
	rl := requestLayout(req)
	spc := p.samplesPerChunkPixel()
	chunks := map[int][]byte{}
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if row >= int64(p.height) {
			return nil, fmt.Errorf("%w: row %d outside of tiff", ErrInvalidRequest, row)
		}
		cy, ry := int(row)/p.chunkH, int(row)%p.chunkH
		for k, band := range bands {
			plane, sample := 0, int(band)
			if p.planar {
				plane, sample = int(band), 0
			}
			for j, col := range cols {
				cx, rx := int(col)/p.chunkW, int(col)%p.chunkW
				idx := p.chunkIndex(cx, cy, plane)
				chunk, ok := chunks[idx]
				if !ok {
					if chunk, err = p.decode(idx); err != nil {
						return nil, err
					}
					chunks[idx] = chunk
				}
				so := ((ry*p.chunkW+rx)*spc + sample) * p.bpe
				do := rl.offset(rl.startRow+i, j, rl.firstBand+k)
				copy(unit.Data[do:do+p.bpe], chunk[so:so+p.bpe])
			}
		}
		// strips and tiles of finished chunk rows are not needed anymore
		if i+1 < len(rows) && int(rows[i+1])/p.chunkH != cy {
			chunks = map[int][]byte{}
		}
	}
	return unit, nil
}
