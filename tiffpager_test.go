package rasterpager

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sparseTIFF encodes a 4x4 byte image of two deflated strips of two rows,
// the first one missing.
func sparseTIFF(t *testing.T, noData string) []byte {
	t.Helper()
	var strip bytes.Buffer
	zw := zlib.NewWriter(&strip)
	_, err := zw.Write([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	tw := &tiffWriter{enc: binary.LittleEndian}
	offsets := []uint64{0, 0}
	counts := []uint64{0, uint64(strip.Len())}
	fields := func() []tiffField {
		f := []tiffField{
			{256, uint32(4)},
			{257, uint32(4)},
			{258, []uint16{8}},
			{259, uint16(compressionDeflate)},
			{262, uint16(1)},
			{273, offsets},
			{277, uint16(1)},
			{278, uint32(2)},
			{279, counts},
			{284, uint16(planarContig)},
			{339, []uint16{sampleFormatUInt}},
		}
		if noData != "" {
			f = append(f, tiffField{42113, noData})
		}
		return f
	}
	var ifd bytes.Buffer
	require.NoError(t, tw.writeIFD(&ifd, fields(), tw.headerSize()))
	offsets[1] = tw.headerSize() + uint64(ifd.Len())
	ifd.Reset()
	require.NoError(t, tw.writeIFD(&ifd, fields(), tw.headerSize()))

	var buf bytes.Buffer
	require.NoError(t, tw.writeHeader(&buf))
	buf.Write(ifd.Bytes())
	buf.Write(strip.Bytes())
	return buf.Bytes()
}

func TestTIFFPagerSparseStrips(t *testing.T) {
	e := testEngine(t)
	testfunc := func(noData string, fill float64) {
		t.Helper()
		el, err := e.ImportTIFF("sparse", bytes.NewReader(sparseTIFF(t, noData)), nil)
		require.NoError(t, err)
		checkElement(t, el, func(row, col, band int) float64 {
			if row < 2 {
				return fill
			}
			return float64((row-2)*4 + col + 1)
		})
		require.NoError(t, el.Close())
	}
	testfunc("", 0)
	testfunc("255", 255)
}

func TestTIFFPagerTruncated(t *testing.T) {
	e := testEngine(t, func(cfg *Config) { cfg.PageBytes = 20 })
	src, err := e.CreateRasterElement("src", 10, 10, 1, Int1UByte, BSQ, true, nil)
	require.NoError(t, err)
	fillElement(t, src, rowValue)
	buf := bytes.Buffer{}
	fd := GenerateFileDescriptorForExport(src.Descriptor(), "out.tif", Subset{})
	require.NoError(t, ExportTIFF(context.Background(), &buf, src, fd, StripBytes(20)))
	require.NoError(t, src.Close())

	data := buf.Bytes()[:buf.Len()-5]
	el, err := e.ImportTIFF("truncated", bytes.NewReader(data), nil)
	require.NoError(t, err)
	d := el.Descriptor()

	a := el.GetDataAccessor(&DataRequest{StopRow: d.Rows[7]})
	for r := 0; a.IsValid(); r++ {
		assert.EqualValues(t, r, a.Value(0))
		a.NextRow()
	}
	assert.NoError(t, a.Err())
	a.Release()

	a = el.GetDataAccessor(&DataRequest{StartRow: d.Rows[8]})
	assert.False(t, a.IsValid())
	assert.ErrorIs(t, a.Err(), io.ErrUnexpectedEOF)
	a.Release()
	require.NoError(t, el.Close())
}
