package rasterpager

// A DimensionDescriptor identifies one row, column or band of a raster across
// three numbering spaces:
//
//   - the original number is the position in the full, unchipped sensor data
//   - the on-disk number is the position inside the physical file
//   - the active number is the position inside the loaded representation
//
// Any of the three may be unset. The zero value has none set and is used by
// requests and subsetting functions to mean "whole axis".
type DimensionDescriptor struct {
	original, onDisk, active          uint32
	hasOriginal, hasOnDisk, hasActive bool
}

// IsValid reports whether the active number is set.
func (d DimensionDescriptor) IsValid() bool {
	return d.hasActive
}

func (d DimensionDescriptor) OriginalNumber() (uint32, bool) {
	return d.original, d.hasOriginal
}

func (d DimensionDescriptor) OnDiskNumber() (uint32, bool) {
	return d.onDisk, d.hasOnDisk
}

func (d DimensionDescriptor) ActiveNumber() (uint32, bool) {
	return d.active, d.hasActive
}

func (d DimensionDescriptor) WithOriginalNumber(n uint32) DimensionDescriptor {
	d.original, d.hasOriginal = n, true
	return d
}

func (d DimensionDescriptor) WithOnDiskNumber(n uint32) DimensionDescriptor {
	d.onDisk, d.hasOnDisk = n, true
	return d
}

func (d DimensionDescriptor) WithActiveNumber(n uint32) DimensionDescriptor {
	d.active, d.hasActive = n, true
	return d
}

// WithoutActiveNumber clears the active number, e.g. when building an on-disk
// vector for a file descriptor.
func (d DimensionDescriptor) WithoutActiveNumber() DimensionDescriptor {
	d.active, d.hasActive = 0, false
	return d
}

// Equal compares two descriptors by original number when both carry one, and
// by every numbering space otherwise.
func (d DimensionDescriptor) Equal(o DimensionDescriptor) bool {
	if d.hasOriginal && o.hasOriginal {
		return d.original == o.original
	}
	return d == o
}

// Dimensions is an ordered vector of descriptors along one axis.
type Dimensions []DimensionDescriptor

func (dims Dimensions) Clone() Dimensions {
	if dims == nil {
		return nil
	}
	ret := make(Dimensions, len(dims))
	copy(ret, dims)
	return ret
}

// ByOriginal returns the descriptor holding the given original number, or an
// unset descriptor.
func (dims Dimensions) ByOriginal(n uint32) DimensionDescriptor {
	for _, d := range dims {
		if d.hasOriginal && d.original == n {
			return d
		}
	}
	return DimensionDescriptor{}
}

func (dims Dimensions) ByOnDisk(n uint32) DimensionDescriptor {
	for _, d := range dims {
		if d.hasOnDisk && d.onDisk == n {
			return d
		}
	}
	return DimensionDescriptor{}
}

func (dims Dimensions) ByActive(n uint32) DimensionDescriptor {
	// active numbers are contiguous from 0 inside a descriptor's vectors
	if int(n) < len(dims) && dims[n].hasActive && dims[n].active == n {
		return dims[n]
	}
	for _, d := range dims {
		if d.hasActive && d.active == n {
			return d
		}
	}
	return DimensionDescriptor{}
}

func (dims Dimensions) OriginalToActive(n uint32) (uint32, bool) {
	return dims.ByOriginal(n).ActiveNumber()
}

func (dims Dimensions) OriginalToOnDisk(n uint32) (uint32, bool) {
	return dims.ByOriginal(n).OnDiskNumber()
}

func (dims Dimensions) ActiveToOriginal(n uint32) (uint32, bool) {
	return dims.ByActive(n).OriginalNumber()
}

func (dims Dimensions) ActiveToOnDisk(n uint32) (uint32, bool) {
	return dims.ByActive(n).OnDiskNumber()
}

func (dims Dimensions) OnDiskToActive(n uint32) (uint32, bool) {
	return dims.ByOnDisk(n).ActiveNumber()
}

func (dims Dimensions) OnDiskToOriginal(n uint32) (uint32, bool) {
	return dims.ByOnDisk(n).OriginalNumber()
}

// OriginalNumbers lists the original numbers of the vector, skipping entries
// that have none.
func (dims Dimensions) OriginalNumbers() []uint32 {
	ret := make([]uint32, 0, len(dims))
	for _, d := range dims {
		if d.hasOriginal {
			ret = append(ret, d.original)
		}
	}
	return ret
}

// indexOfOriginal returns the position of the entry holding original number n.
func (dims Dimensions) indexOfOriginal(n uint32) int {
	for i, d := range dims {
		if d.hasOriginal && d.original == n {
			return i
		}
	}
	return -1
}

// activeRange returns the first and last active numbers of the vector.
func (dims Dimensions) activeRange() (first, last uint32, ok bool) {
	if len(dims) == 0 || !dims[0].hasActive || !dims[len(dims)-1].hasActive {
		return 0, 0, false
	}
	return dims[0].active, dims[len(dims)-1].active, true
}
