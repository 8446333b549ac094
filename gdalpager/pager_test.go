package gdalpager

import (
	"testing"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/rasterpager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	godal.RegisterInternalDrivers()
}

func TestPager(t *testing.T) {
	ds, err := godal.Create(godal.Memory, "", 2, godal.UInt16, 5, 4)
	require.NoError(t, err)
	defer ds.Close()
	for b, band := range ds.Bands() {
		buf := make([]uint16, 20)
		for i := range buf {
			buf[i] = uint16(b*100 + i)
		}
		require.NoError(t, band.Write(0, 0, buf, 5, 4))
	}

	p, desc, err := New(ds)
	require.NoError(t, err)
	assert.Equal(t, rasterpager.Int2UBytes, desc.Encoding)
	assert.Equal(t, 4, desc.RowCount())
	assert.Equal(t, 5, desc.ColumnCount())
	assert.Equal(t, 2, desc.BandCount())

	cfg := rasterpager.DefaultConfig()
	cfg.ScratchDir = t.TempDir()
	cfg.PageBytes = 20
	e, err := cfg.NewEngine()
	require.NoError(t, err)
	el, err := e.NewElement(desc, p)
	require.NoError(t, err)

	for _, interleave := range []rasterpager.InterleaveFormat{rasterpager.BIP, rasterpager.BIL, rasterpager.BSQ} {
		a := el.GetDataAccessor(&rasterpager.DataRequest{Interleave: interleave, ConcurrentBands: 2})
		for r := 0; a.IsValid(); r++ {
			for c := 0; c < 5; c++ {
				assert.Equal(t, float64(r*5+c), a.Value(0), "%v %d,%d", interleave, r, c)
				assert.Equal(t, float64(100+r*5+c), a.Value(1), "%v %d,%d", interleave, r, c)
				a.NextColumn()
			}
			a.NextRow()
		}
		assert.NoError(t, a.Err())
		a.Release()
	}

	a := el.GetDataAccessor(&rasterpager.DataRequest{Writable: true})
	assert.ErrorIs(t, a.Err(), rasterpager.ErrReadOnly)
	a.Release()
	require.NoError(t, el.Close())
}

func TestUnsupported(t *testing.T) {
	ds, err := godal.Create(godal.Memory, "", 1, godal.CFloat32, 2, 2)
	require.NoError(t, err)
	defer ds.Close()
	_, _, err = New(ds)
	assert.ErrorIs(t, err, rasterpager.ErrUnsupported)

	_, _, err = Open("/does/not/exist.tif")
	assert.Error(t, err)
}
