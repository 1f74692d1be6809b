package core

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Records are encoded little-endian with natural alignment and an 8-byte pack,
// which is the layout the native runtime hands to callback handlers.

var errShortRecord = errors.New("record too short")

type layoutWriter struct {
	buf      []byte
	maxAlign int
}

func (w *layoutWriter) align(n int) {
	if n > w.maxAlign {
		w.maxAlign = n
	}
	for len(w.buf)%n != 0 {
		w.buf = append(w.buf, 0)
	}
}

func (w *layoutWriter) u8(v uint8) {
	w.align(1)
	w.buf = append(w.buf, v)
}

func (w *layoutWriter) boolean(v bool) {
	if v {
		w.u8(1)
		return
	}
	w.u8(0)
}

func (w *layoutWriter) u16(v uint16) {
	w.align(2)
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *layoutWriter) u32(v uint32) {
	w.align(4)
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *layoutWriter) i32(v int32) { w.u32(uint32(v)) }

func (w *layoutWriter) u64(v uint64) {
	w.align(8)
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// chars writes s as a NUL-padded fixed-size char array, truncating to size-1 bytes.
func (w *layoutWriter) chars(s string, size int) {
	w.align(1)
	field := make([]byte, size)
	copy(field[:size-1], s)
	w.buf = append(w.buf, field...)
}

func (w *layoutWriter) bytes() []byte {
	if len(w.buf) == 0 {
		// C++ gives an empty struct a size of one.
		return []byte{0}
	}
	if w.maxAlign > 0 {
		w.align(w.maxAlign)
	}
	return w.buf
}

type layoutReader struct {
	buf []byte
	off int
	err error
}

func (r *layoutReader) take(size, align int) []byte {
	if r.err != nil {
		return nil
	}
	for r.off%align != 0 {
		r.off++
	}
	if r.off+size > len(r.buf) {
		r.err = fmt.Errorf("need %d bytes at offset %d of %d: %w", size, r.off, len(r.buf), errShortRecord)
		return nil
	}
	b := r.buf[r.off : r.off+size]
	r.off += size
	return b
}

func (r *layoutReader) u8() uint8 {
	if b := r.take(1, 1); b != nil {
		return b[0]
	}
	return 0
}

func (r *layoutReader) boolean() bool { return r.u8() != 0 }

func (r *layoutReader) u16() uint16 {
	if b := r.take(2, 2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *layoutReader) u32() uint32 {
	if b := r.take(4, 4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *layoutReader) i32() int32 { return int32(r.u32()) }

func (r *layoutReader) u64() uint64 {
	if b := r.take(8, 8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (r *layoutReader) chars(size int) string {
	b := r.take(size, 1)
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
