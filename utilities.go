package rasterpager

import "fmt"

// GenerateDimensionVector returns count descriptors numbered 0..count-1 in
// the requested numbering spaces.
func GenerateDimensionVector(count int, setOriginal, setActive, setOnDisk bool) Dimensions {
	if count <= 0 {
		return Dimensions{}
	}
	dims := make(Dimensions, count)
	for i := range dims {
		d := DimensionDescriptor{}
		if setOriginal {
			d = d.WithOriginalNumber(uint32(i))
		}
		if setActive {
			d = d.WithActiveNumber(uint32(i))
		}
		if setOnDisk {
			d = d.WithOnDiskNumber(uint32(i))
		}
		dims[i] = d
	}
	return dims
}

// DetermineSkipFactor finds the uniform stride of the on-disk numbers of
// values, i.e. k such that consecutive on-disk numbers differ by k+1. It
// fails when the vector is empty, when an on-disk number is missing, or when
// the spacing is not uniform.
func DetermineSkipFactor(values Dimensions) (uint32, bool) {
	if len(values) == 0 {
		return 0, false
	}
	prev, ok := values[0].OnDiskNumber()
	if !ok {
		return 0, false
	}
	if len(values) == 1 {
		return 0, true
	}
	var step uint32
	for i, v := range values[1:] {
		n, ok := v.OnDiskNumber()
		if !ok || n <= prev {
			return 0, false
		}
		if i == 0 {
			step = n - prev
		} else if n-prev != step {
			return 0, false
		}
		prev = n
	}
	return step - 1, true
}

// SkipFactors returns the row and column skip factors of d's on-disk
// numbering, failing with ErrSkipFactor when either is not uniform.
func SkipFactors(d *RasterDescriptor) (rows, columns uint32, err error) {
	rows, ok := DetermineSkipFactor(d.Rows)
	if !ok {
		return 0, 0, fmt.Errorf("rows of %s: %w", d.Name, ErrSkipFactor)
	}
	columns, ok = DetermineSkipFactor(d.Columns)
	if !ok {
		return 0, 0, fmt.Errorf("columns of %s: %w", d.Name, ErrSkipFactor)
	}
	return rows, columns, nil
}

// SubsetDimensionVector keeps the entries of original whose original number
// lies in [start, stop], taking every (skipFactor+1)th one. A start or stop
// without an original number stands for the first or last entry.
func SubsetDimensionVector(original Dimensions, start, stop DimensionDescriptor, skipFactor uint32) Dimensions {
	if len(original) == 0 {
		return Dimensions{}
	}
	first, last := original[0], original[len(original)-1]
	if _, ok := start.OriginalNumber(); ok {
		first = start
	}
	if _, ok := stop.OriginalNumber(); ok {
		last = stop
	}
	lo, _ := first.OriginalNumber()
	hi, _ := last.OriginalNumber()

	ret := Dimensions{}
	skip := uint32(0)
	for _, d := range original {
		n, ok := d.OriginalNumber()
		if !ok || n < lo || n > hi {
			continue
		}
		if skip == 0 {
			ret = append(ret, d)
			skip = skipFactor
		} else {
			skip--
		}
	}
	return ret
}

// GenerateRasterDataDescriptor builds a descriptor whose three axes are
// numbered 0..n-1 in every space. The classification is copied from parent,
// or set to the maximum level when there is none.
func GenerateRasterDataDescriptor(name string, parent Classified, rows, columns, bands int,
	interleave InterleaveFormat, encoding EncodingType, location ProcessingLocation) *RasterDescriptor {
	d := &RasterDescriptor{
		Name:               name,
		Rows:               GenerateDimensionVector(rows, true, true, true),
		Columns:            GenerateDimensionVector(columns, true, true, true),
		Bands:              GenerateDimensionVector(bands, true, true, true),
		Encoding:           encoding,
		Interleave:         interleave,
		ProcessingLocation: location,
		Metadata:           Metadata{},
		Units:              Units{ScaleFactor: 1},
	}
	if parent != nil {
		d.Classification = parent.Classification().Clone()
	} else {
		d.Classification = MaximumClassification()
	}
	return d
}

// GenerateFileDescriptor describes a file holding exactly the rows, columns
// and bands of d, with on-disk numbers 0..n-1 and d's encoding and
// interleave.
func GenerateFileDescriptor(d *RasterDescriptor, filename string, endian Endian) *RasterFileDescriptor {
	return &RasterFileDescriptor{
		Filename:       filename,
		Endian:         endian,
		Rows:           onDiskVector(d.Rows),
		Columns:        onDiskVector(d.Columns),
		Bands:          onDiskVector(d.Bands),
		Encoding:       d.Encoding,
		Interleave:     d.Interleave,
		BitsPerElement: 8 * BytesInEncoding(d.Encoding),
		Units:          d.Units,
	}
}

// GenerateAndSetFileDescriptor attaches a generated file descriptor to d and
// sets the on-disk numbers of d's vectors to match it.
func GenerateAndSetFileDescriptor(d *RasterDescriptor, filename string, endian Endian) *RasterFileDescriptor {
	fd := GenerateFileDescriptor(d, filename, endian)
	d.Rows = renumberOnDisk(d.Rows)
	d.Columns = renumberOnDisk(d.Columns)
	d.Bands = renumberOnDisk(d.Bands)
	d.FileDescriptor = fd
	return fd
}

// onDiskVector copies dims without active numbers and with on-disk numbers
// 0..n-1.
func onDiskVector(dims Dimensions) Dimensions {
	ret := make(Dimensions, len(dims))
	for i, d := range dims {
		ret[i] = d.WithoutActiveNumber().WithOnDiskNumber(uint32(i))
	}
	return ret
}

func renumberOnDisk(dims Dimensions) Dimensions {
	ret := make(Dimensions, len(dims))
	for i, d := range dims {
		ret[i] = d.WithOnDiskNumber(uint32(i))
	}
	return ret
}

func renumberActive(dims Dimensions) Dimensions {
	ret := make(Dimensions, len(dims))
	for i, d := range dims {
		ret[i] = d.WithActiveNumber(uint32(i))
	}
	return ret
}

// Subset selects a sub-volume of a raster. Unset start or stop descriptors
// mean the first or last entry of the axis; a nil Bands means all bands.
type Subset struct {
	StartRow, StopRow       DimensionDescriptor
	RowSkip                 uint32
	StartColumn, StopColumn DimensionDescriptor
	ColumnSkip              uint32
	Bands                   Dimensions
}

func (s Subset) apply(d *RasterDescriptor) (rows, cols, bands Dimensions) {
	rows = SubsetDimensionVector(d.Rows, s.StartRow, s.StopRow, s.RowSkip)
	cols = SubsetDimensionVector(d.Columns, s.StartColumn, s.StopColumn, s.ColumnSkip)
	if s.Bands == nil {
		bands = d.Bands.Clone()
	} else {
		bands = Dimensions{}
		for _, b := range s.Bands {
			n, ok := b.OriginalNumber()
			if !ok {
				continue
			}
			if bd := d.Bands.ByOriginal(n); bd != (DimensionDescriptor{}) {
				bands = append(bands, bd)
			}
		}
	}
	return rows, cols, bands
}

// GenerateFileDescriptorForExport describes the file an exporter writes for
// the given subset of d. The returned vectors keep the original and active
// numbers of the exported entries (the active numbers address d) and are
// renumbered 0..n-1 on disk. d is not modified.
func GenerateFileDescriptorForExport(d *RasterDescriptor, filename string, s Subset) *RasterFileDescriptor {
	rows, cols, bands := s.apply(d)
	fd := &RasterFileDescriptor{
		Filename:         filename,
		Endian:           LittleEndian,
		Rows:             renumberOnDisk(rows),
		Columns:          renumberOnDisk(cols),
		Bands:            renumberOnDisk(bands),
		Encoding:         d.Encoding,
		Interleave:       d.Interleave,
		BitsPerElement:   8 * BytesInEncoding(d.Encoding),
		RowSkipFactor:    s.RowSkip,
		ColumnSkipFactor: s.ColumnSkip,
		Units:            d.Units,
	}
	if d.FileDescriptor != nil {
		fd.GCPs = append([]GCP(nil), d.FileDescriptor.GCPs...)
	}
	return fd
}

// CreateChipDescriptor derives the descriptor of a chip of d: the selected
// entries keep their original and on-disk numbers, active numbers restart at
// 0 and the metadata vectors are chipped accordingly.
func CreateChipDescriptor(d *RasterDescriptor, name string, s Subset) *RasterDescriptor {
	rows, cols, bands := s.apply(d)
	c := d.Clone()
	c.Name = name
	c.Rows = renumberActive(rows)
	c.Columns = renumberActive(cols)
	c.Bands = renumberActive(bands)
	// on failure the cloned metadata is left unchipped
	ChipMetadata(c.Metadata, rows, cols, bands)
	return c
}

// CalculateFileSize is the expected byte size of the file described by fd,
// or -1 when fd is incomplete. Multi-file data sets report the size of one
// band file.
func CalculateFileSize(fd *RasterFileDescriptor) int64 {
	if fd == nil {
		return -1
	}
	bpe := int64(fd.BitsPerElement / 8)
	if bpe == 0 {
		bpe = int64(BytesInEncoding(fd.Encoding))
	}
	rows, cols, bands := int64(len(fd.Rows)), int64(len(fd.Columns)), int64(len(fd.Bands))
	if bpe == 0 || rows == 0 || cols == 0 || bands == 0 {
		return -1
	}
	size := fd.HeaderBytes + fd.TrailerBytes
	switch fd.Interleave {
	case BSQ:
		perBand := fd.PrebandBytes + rows*(fd.PrelineBytes+cols*bpe+fd.PostlineBytes) + fd.PostbandBytes
		if len(fd.BandFiles) > 0 {
			return size + perBand
		}
		size += bands * perBand
	case BIL, BIP:
		size += rows * (fd.PrelineBytes + cols*bands*bpe + fd.PostlineBytes)
	default:
		return -1
	}
	return size
}

// IsSubcube reports whether d only loads part of the file described by fd.
func IsSubcube(d *RasterDescriptor, fd *RasterFileDescriptor, checkBands bool) bool {
	if fd == nil {
		return false
	}
	if len(d.Rows) != len(fd.Rows) || len(d.Columns) != len(fd.Columns) {
		return true
	}
	return checkBands && len(d.Bands) != len(fd.Bands)
}
