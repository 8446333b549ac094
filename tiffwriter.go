package rasterpager

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

const (
	tByte   = 1
	tAscii  = 2
	tShort  = 3
	tLong   = 4
	tDouble = 12
	tLong8  = 16
)

// tagData is the area following an IFD, receiving the values too large to
// fit in their entry.
type tagData struct {
	bytes.Buffer
	Offset uint64
}

func (t *tagData) NextOffset() uint64 {
	return t.Offset + uint64(t.Buffer.Len())
}

type tiffField struct {
	tag  uint16
	data interface{}
}

type tiffWriter struct {
	enc     binary.ByteOrder
	bigtiff bool
}

func (tw *tiffWriter) headerSize() uint64 {
	if tw.bigtiff {
		return 16
	}
	return 8
}

func (tw *tiffWriter) writeHeader(w io.Writer) error {
	if tw.bigtiff {
		buf := [16]byte{}
		if tw.enc == binary.LittleEndian {
			copy(buf[0:], []byte("II"))
		} else {
			copy(buf[0:], []byte("MM"))
		}
		tw.enc.PutUint16(buf[2:], 43)
		tw.enc.PutUint16(buf[4:], 8)
		tw.enc.PutUint16(buf[6:], 0)
		tw.enc.PutUint64(buf[8:], 16)
		_, err := w.Write(buf[:])
		return err
	}
	buf := [8]byte{}
	if tw.enc == binary.LittleEndian {
		copy(buf[0:], []byte("II"))
	} else {
		copy(buf[0:], []byte("MM"))
	}
	tw.enc.PutUint16(buf[2:], 42)
	tw.enc.PutUint32(buf[4:], 8)
	_, err := w.Write(buf[:])
	return err
}

// payload encodes the value of a field.
func (tw *tiffWriter) payload(data interface{}) (typ uint16, count uint64, buf []byte, err error) {
	switch d := data.(type) {
	case uint16:
		return tw.payload([]uint16{d})
	case uint32:
		return tw.payload([]uint32{d})
	case []byte:
		return tByte, uint64(len(d)), d, nil
	case string:
		return tAscii, uint64(len(d) + 1), append([]byte(d), 0), nil
	case []uint16:
		buf = make([]byte, 2*len(d))
		for i, v := range d {
			tw.enc.PutUint16(buf[2*i:], v)
		}
		return tShort, uint64(len(d)), buf, nil
	case []uint32:
		buf = make([]byte, 4*len(d))
		for i, v := range d {
			tw.enc.PutUint32(buf[4*i:], v)
		}
		return tLong, uint64(len(d)), buf, nil
	case []uint64:
		if !tw.bigtiff {
			d32 := make([]uint32, len(d))
			for i := range d {
				if d[i] > math.MaxUint32 {
					return 0, 0, nil, fmt.Errorf("value %d overflows classic tiff", d[i])
				}
				d32[i] = uint32(d[i])
			}
			return tw.payload(d32)
		}
		buf = make([]byte, 8*len(d))
		for i, v := range d {
			tw.enc.PutUint64(buf[8*i:], v)
		}
		return tLong8, uint64(len(d)), buf, nil
	case []float64:
		buf = make([]byte, 8*len(d))
		for i, v := range d {
			tw.enc.PutUint64(buf[8*i:], math.Float64bits(v))
		}
		return tDouble, uint64(len(d)), buf, nil
	}
	return 0, 0, nil, fmt.Errorf("bug: unsupported field type %T", data)
}

// writeField writes one IFD entry. Values larger than the entry are
// appended to overflow.
func (tw *tiffWriter) writeField(w io.Writer, tag uint16, data interface{}, overflow *tagData) error {
	typ, count, value, err := tw.payload(data)
	if err != nil {
		return fmt.Errorf("tag %d: %w", tag, err)
	}
	var buf []byte
	var inline []byte
	if tw.bigtiff {
		buf = make([]byte, 20)
		tw.enc.PutUint64(buf[4:12], count)
		inline = buf[12:]
	} else {
		buf = make([]byte, 12)
		tw.enc.PutUint32(buf[4:8], uint32(count))
		inline = buf[8:]
	}
	tw.enc.PutUint16(buf[0:2], tag)
	tw.enc.PutUint16(buf[2:4], typ)
	if len(value) <= len(inline) {
		copy(inline, value)
	} else {
		if tw.bigtiff {
			tw.enc.PutUint64(inline, overflow.NextOffset())
		} else {
			tw.enc.PutUint32(inline, uint32(overflow.NextOffset()))
		}
		overflow.Write(value)
		if overflow.Len()%2 == 1 {
			overflow.WriteByte(0)
		}
	}
	_, err = w.Write(buf)
	return err
}

// writeIFD writes a single IFD located at offset followed by its overflow
// area. fields must be sorted by tag.
func (tw *tiffWriter) writeIFD(w io.Writer, fields []tiffField, offset uint64) error {
	n := uint64(len(fields))
	overflow := &tagData{Offset: offset + 8 + 20*n + 8}
	if !tw.bigtiff {
		overflow.Offset = offset + 2 + 12*n + 4
	}
	var err error
	if tw.bigtiff {
		err = binary.Write(w, tw.enc, n)
	} else {
		err = binary.Write(w, tw.enc, uint16(n))
	}
	if err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, f := range fields {
		if err := tw.writeField(w, f.tag, f.data, overflow); err != nil {
			return err
		}
	}
	if tw.bigtiff {
		err = binary.Write(w, tw.enc, uint64(0))
	} else {
		err = binary.Write(w, tw.enc, uint32(0))
	}
	if err != nil {
		return fmt.Errorf("write next: %w", err)
	}
	if _, err = w.Write(overflow.Bytes()); err != nil {
		return fmt.Errorf("write parea: %w", err)
	}
	return nil
}
