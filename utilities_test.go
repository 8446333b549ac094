package rasterpager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func onDisk(numbers ...uint32) Dimensions {
	ret := make(Dimensions, len(numbers))
	for i, n := range numbers {
		ret[i] = DimensionDescriptor{}.WithOnDiskNumber(n)
	}
	return ret
}

func TestGenerateDimensionVector(t *testing.T) {
	v := GenerateDimensionVector(50, true, true, true)
	require.Len(t, v, 50)
	for i, d := range v {
		o, ok1 := d.OriginalNumber()
		a, ok2 := d.ActiveNumber()
		k, ok3 := d.OnDiskNumber()
		assert.True(t, ok1 && ok2 && ok3)
		assert.EqualValues(t, i, o)
		assert.EqualValues(t, i, a)
		assert.EqualValues(t, i, k)
	}

	v = GenerateDimensionVector(3, true, false, false)
	_, ok := v[1].ActiveNumber()
	assert.False(t, ok)
	assert.False(t, v[1].IsValid())
	assert.Empty(t, GenerateDimensionVector(0, true, true, true))
	assert.Empty(t, GenerateDimensionVector(-2, true, true, true))
}

func TestDimensionLookups(t *testing.T) {
	v := SubsetDimensionVector(GenerateDimensionVector(10, true, true, true),
		DimensionDescriptor{}, DimensionDescriptor{}, 2)
	v = renumberActive(v)
	require.Len(t, v, 4)

	n, ok := v.OriginalToActive(6)
	assert.True(t, ok)
	assert.EqualValues(t, 2, n)
	n, ok = v.ActiveToOriginal(3)
	assert.True(t, ok)
	assert.EqualValues(t, 9, n)
	n, ok = v.ActiveToOnDisk(1)
	assert.True(t, ok)
	assert.EqualValues(t, 3, n)
	_, ok = v.OriginalToActive(5)
	assert.False(t, ok)
	assert.Equal(t, []uint32{0, 3, 6, 9}, v.OriginalNumbers())

	assert.True(t, v[1].Equal(DimensionDescriptor{}.WithOriginalNumber(3)))
	assert.False(t, v[1].Equal(v[2]))
}

func TestDetermineSkipFactor(t *testing.T) {
	testfunc := func(dims Dimensions, expected uint32, expectedOK bool) {
		t.Helper()
		skip, ok := DetermineSkipFactor(dims)
		assert.Equal(t, expectedOK, ok)
		assert.Equal(t, expected, skip)
	}
	testfunc(onDisk(0, 2, 4, 6), 1, true)
	testfunc(onDisk(0, 1, 3, 7), 0, false)
	testfunc(onDisk(3, 4, 5), 0, true)
	testfunc(onDisk(5, 9, 13), 3, true)
	testfunc(onDisk(7), 0, true)
	testfunc(onDisk(4, 2), 0, false)
	testfunc(Dimensions{}, 0, false)
	testfunc(GenerateDimensionVector(3, true, true, false), 0, false)

	d := &RasterDescriptor{Name: "chip", Rows: onDisk(1, 3, 5), Columns: onDisk(0, 1, 2)}
	rs, cs, err := SkipFactors(d)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rs)
	assert.EqualValues(t, 0, cs)
	d.Columns = onDisk(0, 1, 4)
	_, _, err = SkipFactors(d)
	assert.ErrorIs(t, err, ErrSkipFactor)
}

func TestSubsetDimensionVector(t *testing.T) {
	v := GenerateDimensionVector(10, true, true, true)
	assert.Equal(t, Dimensions{v[2], v[3], v[4], v[5]}, SubsetDimensionVector(v, v[2], v[5], 0))
	assert.Equal(t, Dimensions{v[2], v[4]}, SubsetDimensionVector(v, v[2], v[5], 1))
	assert.Equal(t, v, SubsetDimensionVector(v, DimensionDescriptor{}, DimensionDescriptor{}, 0))
	assert.Equal(t, Dimensions{v[7], v[8], v[9]}, SubsetDimensionVector(v, v[7], DimensionDescriptor{}, 0))
	assert.Empty(t, SubsetDimensionVector(v, v[5], v[2], 0))
	assert.Empty(t, SubsetDimensionVector(Dimensions{}, v[0], v[1], 0))
}

type classified Classification

func (c classified) Classification() Classification {
	return Classification(c)
}

func TestGenerateRasterDataDescriptor(t *testing.T) {
	d := GenerateRasterDataDescriptor("data", nil, 20, 30, 3, BIP, Int2SBytes, InMemory)
	assert.True(t, d.Classification.Equal(MaximumClassification()))
	assert.Equal(t, 20, d.RowCount())
	assert.Equal(t, 30, d.ColumnCount())
	assert.Equal(t, 3, d.BandCount())
	assert.EqualValues(t, 20*30*3*2, d.DataSize())
	assert.Equal(t, 30*3*2, d.RowBytes())
	assert.NoError(t, d.Validate())

	parent := classified{Level: Confidential, Caveats: []string{"NOFORN"}}
	d = GenerateRasterDataDescriptor("child", parent, 2, 2, 1, BSQ, Int1UByte, InMemory)
	assert.True(t, d.Classification.Equal(Classification(parent)))
	d.Classification.Caveats[0] = "changed"
	assert.Equal(t, "NOFORN", parent.Caveats[0])
}

func TestDescriptorValidate(t *testing.T) {
	d := GenerateRasterDataDescriptor("data", nil, 4, 4, 2, BSQ, Flt4Bytes, OnDisk)
	GenerateAndSetFileDescriptor(d, "data.raw", BigEndian)
	require.NoError(t, d.Validate())

	bad := d.Clone()
	bad.Rows[1], bad.Rows[2] = bad.Rows[2], bad.Rows[1]
	assert.Error(t, bad.Validate())

	bad = d.Clone()
	bad.Columns = Dimensions{}
	assert.Error(t, bad.Validate())

	bad = d.Clone()
	bad.FileDescriptor.Bands = bad.FileDescriptor.Bands[:1]
	assert.Error(t, bad.Validate())

	bad = d.Clone()
	bad.Encoding = EncodingUnknown
	assert.Error(t, bad.Validate())
}

func TestChipDescriptor(t *testing.T) {
	d := GenerateRasterDataDescriptor("data", nil, 10, 8, 4, BIP, Int1UByte, InMemory)
	GenerateAndSetFileDescriptor(d, "data.raw", LittleEndian)
	d.Metadata.Set(BandNamesPath, []string{"r", "g", "b", "nir"})
	d.Metadata.Set("Special/Row Metadata/Times", []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})

	c := CreateChipDescriptor(d, "chip", Subset{
		StartRow: d.Rows[2], StopRow: d.Rows[8], RowSkip: 2,
		Bands: Dimensions{d.Bands[1], d.Bands[3]},
	})
	assert.Equal(t, "chip", c.Name)
	require.Len(t, c.Rows, 3)
	require.Len(t, c.Columns, 8)
	require.Len(t, c.Bands, 2)
	assert.NoError(t, c.Validate())
	o, _ := c.Rows[1].OriginalNumber()
	a, _ := c.Rows[1].ActiveNumber()
	k, _ := c.Rows[1].OnDiskNumber()
	assert.EqualValues(t, 5, o)
	assert.EqualValues(t, 1, a)
	assert.EqualValues(t, 5, k)
	names, _ := c.Metadata.Get(BandNamesPath)
	assert.Equal(t, []string{"g", "nir"}, names)
	times, _ := c.Metadata.Get("Special/Row Metadata/Times")
	assert.Equal(t, []float64{2, 5, 8}, times)

	// the source descriptor is untouched
	names, _ = d.Metadata.Get(BandNamesPath)
	assert.Len(t, names, 4)
	assert.Len(t, d.Rows, 10)
	assert.True(t, IsSubcube(c, d.FileDescriptor, true))
	assert.False(t, IsSubcube(d, d.FileDescriptor, true))
}

func TestGenerateFileDescriptorForExport(t *testing.T) {
	d := GenerateRasterDataDescriptor("data", nil, 10, 8, 3, BSQ, Int2UBytes, InMemory)
	fd := GenerateFileDescriptorForExport(d, "out.tif", Subset{
		StartColumn: d.Columns[4], ColumnSkip: 1,
		Bands: Dimensions{d.Bands[2]},
	})
	require.Len(t, fd.Rows, 10)
	require.Len(t, fd.Columns, 2)
	require.Len(t, fd.Bands, 1)
	a, _ := fd.Columns[1].ActiveNumber()
	k, _ := fd.Columns[1].OnDiskNumber()
	assert.EqualValues(t, 6, a)
	assert.EqualValues(t, 1, k)
	assert.EqualValues(t, 1, fd.ColumnSkipFactor)
	assert.Equal(t, 16, fd.BitsPerElement)
	assert.EqualValues(t, 10*2*1*2, CalculateFileSize(fd))
	assert.Nil(t, d.FileDescriptor)
}

func TestCalculateFileSize(t *testing.T) {
	d := GenerateRasterDataDescriptor("data", nil, 10, 20, 3, BSQ, Int2SBytes, OnDisk)
	fd := GenerateFileDescriptor(d, "data.raw", LittleEndian)
	fd.HeaderBytes = 100
	assert.EqualValues(t, 100+3*10*20*2, CalculateFileSize(fd))

	fd.PrelineBytes, fd.PostbandBytes = 4, 8
	assert.EqualValues(t, 100+3*(10*(4+20*2)+8), CalculateFileSize(fd))

	fd.BandFiles = []string{"a", "b", "c"}
	assert.EqualValues(t, 100+10*(4+20*2)+8, CalculateFileSize(fd))

	fd.Interleave = BIL
	fd.BandFiles = nil
	assert.EqualValues(t, 100+10*(4+20*3*2), CalculateFileSize(fd))

	fd.Bands = nil
	assert.EqualValues(t, -1, CalculateFileSize(fd))
	assert.EqualValues(t, -1, CalculateFileSize(nil))
}
