package rasterpager

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine(t *testing.T, configure ...func(cfg *Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ScratchDir = t.TempDir()
	for _, c := range configure {
		c(&cfg)
	}
	e, err := cfg.NewEngine()
	require.NoError(t, err)
	return e
}

// fillElement writes value(row, col, band) into every pixel of el.
func fillElement(t *testing.T, el *Element, value func(row, col, band int) float64) {
	t.Helper()
	d := el.Descriptor()
	a := el.GetDataAccessor(&DataRequest{Writable: true, Interleave: BIP})
	defer a.Release()
	require.True(t, a.IsValid(), "%v", a.Err())
	for r := 0; a.IsValid(); r++ {
		for c := 0; c < d.ColumnCount(); c++ {
			for b := 0; b < d.BandCount(); b++ {
				require.NoError(t, a.SetValue(b, value(r, c, b)))
			}
			a.NextColumn()
		}
		a.NextRow()
	}
	require.NoError(t, a.Err())
}

// checkElement compares every pixel of el with value(row, col, band).
func checkElement(t *testing.T, el *Element, value func(row, col, band int) float64) {
	t.Helper()
	d := el.Descriptor()
	a := el.GetDataAccessor(&DataRequest{Interleave: BIP})
	defer a.Release()
	require.True(t, a.IsValid(), "%v", a.Err())
	rows := 0
	for r := 0; a.IsValid(); r++ {
		for c := 0; c < d.ColumnCount(); c++ {
			for b := 0; b < d.BandCount(); b++ {
				if !assert.Equal(t, value(r, c, b), a.Value(b), "pixel %d,%d band %d", r, c, b) {
					return
				}
			}
			a.NextColumn()
		}
		a.NextRow()
		rows++
	}
	assert.NoError(t, a.Err())
	assert.Equal(t, d.RowCount(), rows)
}

func TestCreateRasterElement(t *testing.T) {
	e := testEngine(t, func(cfg *Config) { cfg.MaxInMemoryBytes = 1000 })

	el, err := e.CreateRasterElement("small", 10, 10, 2, Int2SBytes, BIL, true, nil)
	require.NoError(t, err)
	d := el.Descriptor()
	assert.Equal(t, InMemory, d.ProcessingLocation)
	assert.True(t, d.Classification.Equal(MaximumClassification()))
	assert.True(t, el.Writable())
	assert.NotEqual(t, uuid.Nil, el.ID())

	_, err = e.CreateRasterElement("big", 101, 10, 1, Int1UByte, BSQ, true, nil)
	assert.ErrorIs(t, err, ErrAllocation)
	_, err = e.CreateRasterElement("empty", 0, 10, 1, Int1UByte, BSQ, true, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = e.CreateRasterElement("bad", 10, 10, 1, EncodingUnknown, BSQ, true, nil)
	assert.ErrorIs(t, err, ErrUnsupported)

	child, err := e.CreateRasterElement("child", 100, 10, 1, Int1UByte, BSQ, false, el)
	require.NoError(t, err)
	cd := child.Descriptor()
	assert.Equal(t, OnDisk, cd.ProcessingLocation)
	assert.True(t, cd.Classification.Equal(el.Classification()))
	require.NotNil(t, cd.FileDescriptor)
	st, err := os.Stat(cd.FileDescriptor.Filename)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, st.Size())
	assert.True(t, child.Writable())

	require.NoError(t, child.Close())
	_, err = os.Stat(cd.FileDescriptor.Filename)
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, el.Close())
	require.NoError(t, el.Close())
}

func TestElementClose(t *testing.T) {
	e := testEngine(t)
	el, err := e.CreateRasterElement("el", 10, 10, 1, Int1UByte, BSQ, true, nil)
	require.NoError(t, err)
	a := el.GetDataAccessor(nil)
	b := el.GetDataAccessor(nil)
	require.True(t, a.IsValid())
	assert.ErrorIs(t, el.Close(), ErrAccessorsOutstanding)
	a.Release()
	a.Release()
	assert.ErrorIs(t, el.Close(), ErrAccessorsOutstanding)
	b.Release()
	require.NoError(t, el.Close())

	c := el.GetDataAccessor(nil)
	assert.False(t, c.IsValid())
	assert.ErrorIs(t, c.Err(), ErrClosed)
	c.Release()
}

// countingPager serves an Int1UByte raster whose pixels hold their on-disk
// row number.
type countingPager struct {
	fetches int32
}

func (p *countingPager) FetchUnit(ctx context.Context, req *PageRequest) (*CacheUnit, error) {
	atomic.AddInt32(&p.fetches, 1)
	unit, err := newUnit(req)
	if err != nil {
		return nil, err
	}
	rl := requestLayout(req)
	for i, r := range req.Rows {
		n, _ := r.OnDiskNumber()
		for k := range req.Bands {
			for j := range req.Columns {
				unit.Data[rl.offset(rl.startRow+i, j, rl.firstBand+k)] = byte(n)
			}
		}
	}
	return unit, nil
}

func readOnlyDescriptor(name string, rows, cols, bands int, interleave InterleaveFormat) *RasterDescriptor {
	d := GenerateRasterDataDescriptor(name, nil, rows, cols, bands, interleave, Int1UByte, OnDiskReadOnly)
	GenerateAndSetFileDescriptor(d, "", LittleEndian)
	return d
}

func TestNewElement(t *testing.T) {
	e := testEngine(t, func(cfg *Config) { cfg.PageBytes = 100 })
	p := &countingPager{}
	el, err := e.NewElement(readOnlyDescriptor("ro", 100, 10, 1, BSQ), p)
	require.NoError(t, err)
	assert.False(t, el.Writable())
	assert.Len(t, el.PageLayout().Pages(), 10)

	a := el.GetDataAccessor(&DataRequest{Writable: true})
	assert.False(t, a.IsValid())
	assert.ErrorIs(t, a.Err(), ErrReadOnly)
	a.Release()

	_, err = e.NewElement(GenerateRasterDataDescriptor("rw", nil, 10, 10, 1, BSQ, Int1UByte, OnDisk), p)
	assert.ErrorIs(t, err, ErrUnsupported)

	// in-memory elements are loaded once
	mem := readOnlyDescriptor("mem", 20, 5, 2, BIP)
	mem.ProcessingLocation = InMemory
	p = &countingPager{}
	el, err = e.NewElement(mem, p)
	require.NoError(t, err)
	assert.True(t, el.Writable())
	checkElement(t, el, func(row, col, band int) float64 { return float64(row) })
	assert.EqualValues(t, 1, atomic.LoadInt32(&p.fetches))
	require.NoError(t, el.Close())
}

func TestPrefetch(t *testing.T) {
	e := testEngine(t, func(cfg *Config) { cfg.PageBytes = 60 })
	p := &countingPager{}
	el, err := e.NewElement(readOnlyDescriptor("ro", 100, 10, 3, BSQ), p)
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, el.Prefetch(ctx, 10, 100), ErrInvalidRequest)
	require.NoError(t, el.Prefetch(ctx, 0, 99))
	// 50 pages of 2 rows, fetched band by band
	assert.EqualValues(t, 150, atomic.LoadInt32(&p.fetches))
	assert.Equal(t, 150, el.CacheStats().Pages)

	a := el.GetDataAccessor(&DataRequest{StartBand: el.desc.Bands[1], StopBand: el.desc.Bands[1]})
	for row := 0; a.IsValid(); row++ {
		assert.Equal(t, float64(row), a.Value(1))
		a.NextRow()
	}
	a.Release()
	assert.EqualValues(t, 150, atomic.LoadInt32(&p.fetches))
	require.NoError(t, el.Close())
}

func TestFailingPager(t *testing.T) {
	e := testEngine(t, func(cfg *Config) { cfg.PageBytes = 10 })
	boom := errors.New("boom")
	fail := PagerFunc(func(ctx context.Context, req *PageRequest) (*CacheUnit, error) {
		if n, _ := req.Rows[len(req.Rows)-1].OnDiskNumber(); n >= 5 {
			return nil, boom
		}
		return newUnit(req)
	})
	el, err := e.NewElement(readOnlyDescriptor("failing", 10, 10, 1, BSQ), fail)
	require.NoError(t, err)

	a := el.GetDataAccessor(nil)
	rows := 0
	for a.IsValid() {
		rows++
		a.NextRow()
	}
	assert.Equal(t, 5, rows)
	assert.ErrorIs(t, a.Err(), boom)
	a.NextRow()
	assert.False(t, a.IsValid())
	a.Release()

	short := PagerFunc(func(ctx context.Context, req *PageRequest) (*CacheUnit, error) {
		return &CacheUnit{Data: make([]byte, 3), RowCount: len(req.Rows), Interleave: req.Interleave}, nil
	})
	el, err = e.NewElement(readOnlyDescriptor("short", 10, 10, 1, BSQ), short)
	require.NoError(t, err)
	a = el.GetDataAccessor(nil)
	assert.False(t, a.IsValid())
	assert.Error(t, a.Err())
	a.Release()
	require.NoError(t, el.Close())

	mem := readOnlyDescriptor("mem", 10, 10, 1, BSQ)
	mem.ProcessingLocation = InMemory
	_, err = e.NewElement(mem, fail)
	assert.ErrorIs(t, err, boom)
}
