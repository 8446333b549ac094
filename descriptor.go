package rasterpager

import (
	"fmt"
	"math"
)

// ClassificationLevel is the security marking of a data set.
type ClassificationLevel int

const (
	Unclassified ClassificationLevel = iota
	Restricted
	Confidential
	Secret
	TopSecret
)

func (l ClassificationLevel) String() string {
	switch l {
	case Unclassified:
		return "U"
	case Restricted:
		return "R"
	case Confidential:
		return "C"
	case Secret:
		return "S"
	case TopSecret:
		return "TS"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

type Classification struct {
	Level   ClassificationLevel
	Caveats []string
}

func (c Classification) Clone() Classification {
	if c.Caveats != nil {
		c.Caveats = append([]string(nil), c.Caveats...)
	}
	return c
}

func (c Classification) Equal(o Classification) bool {
	if c.Level != o.Level || len(c.Caveats) != len(o.Caveats) {
		return false
	}
	for i := range c.Caveats {
		if c.Caveats[i] != o.Caveats[i] {
			return false
		}
	}
	return true
}

// MaximumClassification is applied to data created without a parent to
// inherit from.
func MaximumClassification() Classification {
	return Classification{Level: TopSecret}
}

// Classified is anything a new raster can inherit its classification from.
type Classified interface {
	Classification() Classification
}

type Units struct {
	Name        string
	ScaleFactor float64
	RangeMin    float64
	RangeMax    float64
}

// GCP ties a pixel position to a geographic location.
type GCP struct {
	Column, Row float64
	Longitude   float64
	Latitude    float64
}

// RasterDescriptor is the full shape and type contract of a raster element.
// Row, column and band vectors are replaced wholesale, never edited in place
// once the element exists.
type RasterDescriptor struct {
	Name               string
	Rows               Dimensions
	Columns            Dimensions
	Bands              Dimensions
	Encoding           EncodingType
	Interleave         InterleaveFormat
	ProcessingLocation ProcessingLocation
	// BadValues are raw sentinels treated as no-data
	BadValues      []int
	Units          Units
	Metadata       Metadata
	Classification Classification
	FileDescriptor *RasterFileDescriptor
}

func (d *RasterDescriptor) RowCount() int    { return len(d.Rows) }
func (d *RasterDescriptor) ColumnCount() int { return len(d.Columns) }
func (d *RasterDescriptor) BandCount() int   { return len(d.Bands) }

func (d *RasterDescriptor) BytesPerElement() int {
	return BytesInEncoding(d.Encoding)
}

// DataSize is the logical size in bytes of the whole raster.
func (d *RasterDescriptor) DataSize() int64 {
	return int64(len(d.Rows)) * int64(len(d.Columns)) * int64(len(d.Bands)) * int64(d.BytesPerElement())
}

// RowBytes is the size of one row, all bands included.
func (d *RasterDescriptor) RowBytes() int {
	return len(d.Columns) * len(d.Bands) * d.BytesPerElement()
}

func (d *RasterDescriptor) IsBadValue(v float64) bool {
	for _, b := range d.BadValues {
		if float64(b) == v {
			return true
		}
	}
	return false
}

func (d *RasterDescriptor) Clone() *RasterDescriptor {
	c := *d
	c.Rows = d.Rows.Clone()
	c.Columns = d.Columns.Clone()
	c.Bands = d.Bands.Clone()
	if d.BadValues != nil {
		c.BadValues = append([]int(nil), d.BadValues...)
	}
	c.Metadata = d.Metadata.Clone()
	c.Classification = d.Classification.Clone()
	if d.FileDescriptor != nil {
		c.FileDescriptor = d.FileDescriptor.Clone()
	}
	return &c
}

// Validate checks the numbering invariants of the descriptor and, when
// present, its consistency with the file descriptor.
func (d *RasterDescriptor) Validate() error {
	if BytesInEncoding(d.Encoding) == 0 {
		return fmt.Errorf("invalid encoding %v", d.Encoding)
	}
	switch d.Interleave {
	case BSQ, BIP, BIL:
	default:
		return fmt.Errorf("invalid interleave %v", d.Interleave)
	}
	for _, ax := range []struct {
		name string
		dims Dimensions
	}{{"rows", d.Rows}, {"columns", d.Columns}, {"bands", d.Bands}} {
		if len(ax.dims) == 0 {
			return fmt.Errorf("no %s", ax.name)
		}
		if err := validateActive(ax.dims); err != nil {
			return fmt.Errorf("%s: %w", ax.name, err)
		}
		if err := validateIncreasing(ax.dims); err != nil {
			return fmt.Errorf("%s: %w", ax.name, err)
		}
	}
	if fd := d.FileDescriptor; fd != nil {
		for _, ax := range []struct {
			name       string
			dims, disk Dimensions
		}{{"rows", d.Rows, fd.Rows}, {"columns", d.Columns, fd.Columns}, {"bands", d.Bands, fd.Bands}} {
			for _, dd := range ax.dims {
				n, ok := dd.OnDiskNumber()
				if !ok {
					return fmt.Errorf("%s: missing on-disk number", ax.name)
				}
				if int(n) >= len(ax.disk) {
					return fmt.Errorf("%s: on-disk number %d beyond file extent %d", ax.name, n, len(ax.disk))
				}
			}
		}
	}
	return nil
}

func validateActive(dims Dimensions) error {
	for i, d := range dims {
		n, ok := d.ActiveNumber()
		if !ok || int(n) != i {
			return fmt.Errorf("active number at %d is not %d", i, i)
		}
	}
	return nil
}

func validateIncreasing(dims Dimensions) error {
	lastOrig, lastDisk := int64(-1), int64(-1)
	for i, d := range dims {
		if n, ok := d.OriginalNumber(); ok {
			if int64(n) <= lastOrig {
				return fmt.Errorf("original number at %d not increasing", i)
			}
			lastOrig = int64(n)
		}
		if n, ok := d.OnDiskNumber(); ok {
			if int64(n) <= lastDisk {
				return fmt.Errorf("on-disk number at %d not increasing", i)
			}
			lastDisk = int64(n)
		}
	}
	return nil
}

// RasterFileDescriptor describes the physical layout of a raster file.
type RasterFileDescriptor struct {
	Filename string
	// BandFiles holds one file per band for multi-file BSQ data sets
	BandFiles     []string
	Endian        Endian
	HeaderBytes   int64
	TrailerBytes  int64
	PrelineBytes  int64
	PostlineBytes int64
	PrebandBytes  int64
	PostbandBytes int64
	// Rows, Columns and Bands describe everything stored in the file, by
	// on-disk number
	Rows             Dimensions
	Columns          Dimensions
	Bands            Dimensions
	Encoding         EncodingType
	Interleave       InterleaveFormat
	BitsPerElement   int
	RowSkipFactor    uint32
	ColumnSkipFactor uint32
	GCPs             []GCP
	Units            Units
}

func (fd *RasterFileDescriptor) Clone() *RasterFileDescriptor {
	c := *fd
	c.BandFiles = append([]string(nil), fd.BandFiles...)
	c.Rows = fd.Rows.Clone()
	c.Columns = fd.Columns.Clone()
	c.Bands = fd.Bands.Clone()
	c.GCPs = append([]GCP(nil), fd.GCPs...)
	return &c
}

// ScaledValue applies the unit scale factor, treating 0 as 1.
func (u Units) ScaledValue(v float64) float64 {
	if u.ScaleFactor == 0 || math.IsNaN(u.ScaleFactor) {
		return v
	}
	return v * u.ScaleFactor
}
