package rasterpager

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/cmplx"
	"strings"
)

// EncodingType is the numeric type of a single raster element.
type EncodingType int

const (
	EncodingUnknown EncodingType = iota
	Int1SByte
	Int1UByte
	Int2SBytes
	Int2UBytes
	// Int4SComplex is a complex pair of signed 16 bit integers
	Int4SComplex
	Int4SBytes
	Int4UBytes
	Flt4Bytes
	// Flt8Complex is a complex pair of 32 bit floats
	Flt8Complex
	Flt8Bytes
)

var encodingNames = []string{
	"unknown",
	"int1sbyte",
	"int1ubyte",
	"int2sbytes",
	"int2ubytes",
	"int4scomplex",
	"int4sbytes",
	"int4ubytes",
	"flt4bytes",
	"flt8complex",
	"flt8bytes",
}

func (e EncodingType) String() string {
	if e < 0 || int(e) >= len(encodingNames) {
		return fmt.Sprintf("encoding(%d)", int(e))
	}
	return encodingNames[e]
}

// ParseEncoding parses a case insensitive encoding name as returned by String.
func ParseEncoding(s string) (EncodingType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range encodingNames[1:] {
		if n == s {
			return EncodingType(i + 1), nil
		}
	}
	return EncodingUnknown, fmt.Errorf("unknown encoding %q", s)
}

// BytesInEncoding returns the byte width of one element, complex types
// counting both components. Unknown encodings have a width of 0.
func BytesInEncoding(e EncodingType) int {
	switch e {
	case Int1SByte, Int1UByte:
		return 1
	case Int2SBytes, Int2UBytes:
		return 2
	case Int4SComplex, Int4SBytes, Int4UBytes, Flt4Bytes:
		return 4
	case Flt8Complex, Flt8Bytes:
		return 8
	}
	return 0
}

func (e EncodingType) IsComplex() bool {
	return e == Int4SComplex || e == Flt8Complex
}

// componentSize is the width of the unit that must be byte swapped.
func (e EncodingType) componentSize() int {
	if e.IsComplex() {
		return BytesInEncoding(e) / 2
	}
	return BytesInEncoding(e)
}

var le = binary.LittleEndian

// Value decodes the little endian element at the start of b. Complex
// elements are converted to their magnitude.
func (e EncodingType) Value(b []byte) float64 {
	switch e {
	case Int1SByte:
		return float64(int8(b[0]))
	case Int1UByte:
		return float64(b[0])
	case Int2SBytes:
		return float64(int16(le.Uint16(b)))
	case Int2UBytes:
		return float64(le.Uint16(b))
	case Int4SBytes:
		return float64(int32(le.Uint32(b)))
	case Int4UBytes:
		return float64(le.Uint32(b))
	case Flt4Bytes:
		return float64(math.Float32frombits(le.Uint32(b)))
	case Flt8Bytes:
		return math.Float64frombits(le.Uint64(b))
	case Int4SComplex, Flt8Complex:
		return cmplx.Abs(e.Complex(b))
	}
	return math.NaN()
}

// Complex decodes the element at the start of b as a complex number. Real
// encodings have a zero imaginary part.
func (e EncodingType) Complex(b []byte) complex128 {
	switch e {
	case Int4SComplex:
		return complex(float64(int16(le.Uint16(b))), float64(int16(le.Uint16(b[2:]))))
	case Flt8Complex:
		return complex(float64(math.Float32frombits(le.Uint32(b))),
			float64(math.Float32frombits(le.Uint32(b[4:]))))
	}
	return complex(e.Value(b), 0)
}

// PutValue encodes v little endian at the start of b. Integer encodings
// round to nearest and clamp to the type range; complex encodings receive v
// as their real part.
func (e EncodingType) PutValue(b []byte, v float64) {
	switch e {
	case Int1SByte:
		b[0] = byte(int8(clampRound(v, math.MinInt8, math.MaxInt8)))
	case Int1UByte:
		b[0] = byte(clampRound(v, 0, math.MaxUint8))
	case Int2SBytes:
		le.PutUint16(b, uint16(int16(clampRound(v, math.MinInt16, math.MaxInt16))))
	case Int2UBytes:
		le.PutUint16(b, uint16(clampRound(v, 0, math.MaxUint16)))
	case Int4SBytes:
		le.PutUint32(b, uint32(int32(clampRound(v, math.MinInt32, math.MaxInt32))))
	case Int4UBytes:
		le.PutUint32(b, uint32(clampRound(v, 0, math.MaxUint32)))
	case Flt4Bytes:
		le.PutUint32(b, math.Float32bits(float32(v)))
	case Flt8Bytes:
		le.PutUint64(b, math.Float64bits(v))
	case Int4SComplex, Flt8Complex:
		e.PutComplex(b, complex(v, 0))
	}
}

func (e EncodingType) PutComplex(b []byte, v complex128) {
	switch e {
	case Int4SComplex:
		le.PutUint16(b, uint16(int16(clampRound(real(v), math.MinInt16, math.MaxInt16))))
		le.PutUint16(b[2:], uint16(int16(clampRound(imag(v), math.MinInt16, math.MaxInt16))))
	case Flt8Complex:
		le.PutUint32(b, math.Float32bits(float32(real(v))))
		le.PutUint32(b[4:], math.Float32bits(float32(imag(v))))
	default:
		e.PutValue(b, real(v))
	}
}

func clampRound(v, min, max float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Round(v)
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// swapBytes reverses every size-byte unit of buf in place.
func swapBytes(buf []byte, size int) {
	if size <= 1 {
		return
	}
	for i := 0; i+size <= len(buf); i += size {
		u := buf[i : i+size]
		for l, r := 0, size-1; l < r; l, r = l+1, r-1 {
			u[l], u[r] = u[r], u[l]
		}
	}
}

// InterleaveFormat is the physical ordering of band, row and column data.
type InterleaveFormat int

const (
	InterleaveUnspecified InterleaveFormat = iota
	// BSQ is band sequential
	BSQ
	// BIP is band interleaved by pixel
	BIP
	// BIL is band interleaved by line
	BIL
)

func (i InterleaveFormat) String() string {
	switch i {
	case BSQ:
		return "bsq"
	case BIP:
		return "bip"
	case BIL:
		return "bil"
	}
	return "unspecified"
}

func ParseInterleave(s string) (InterleaveFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bsq":
		return BSQ, nil
	case "bip":
		return BIP, nil
	case "bil":
		return BIL, nil
	}
	return InterleaveUnspecified, fmt.Errorf("unknown interleave %q", s)
}

// ProcessingLocation tells whether a raster is fully resident or paged.
type ProcessingLocation int

const (
	InMemory ProcessingLocation = iota
	// OnDiskReadOnly rasters are paged from their source and cannot be written
	OnDiskReadOnly
	// OnDisk rasters are paged from a writable scratch file
	OnDisk
)

func (p ProcessingLocation) String() string {
	switch p {
	case InMemory:
		return "in-memory"
	case OnDiskReadOnly:
		return "on-disk-read-only"
	case OnDisk:
		return "on-disk"
	}
	return fmt.Sprintf("location(%d)", int(p))
}

// Endian is the byte order of a file.
type Endian int

const (
	LittleEndian Endian = iota
	BigEndian
)

func (e Endian) ByteOrder() binary.ByteOrder {
	if e == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}
