// Package buf contains bounds-checked helpers for decoding little-endian
// firmware tables.
package buf

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShort is returned when a read runs past the end of the buffer.
var ErrShort = errors.New("buf: short buffer")

// Reader is a little-endian cursor over a byte slice. Reads never panic;
// a read past the end returns ErrShort and leaves the cursor in place.
type Reader struct {
	b   []byte
	off int
}

// NewReader returns a Reader positioned at the start of b.
func NewReader(b []byte) *Reader {
	return &Reader{b: b}
}

// Offset returns the cursor position.
func (r *Reader) Offset() int { return r.off }

// Len returns the number of unread bytes.
func (r *Reader) Len() int { return len(r.b) - r.off }

// Bytes returns the next n bytes and advances past them.
func (r *Reader) Bytes(n int) ([]byte, error) {
	s, ok := Slice(r.b, r.off, n)
	if !ok {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShort, n, r.off, r.Len())
	}
	r.off += n
	return s, nil
}

// U32 reads a little-endian uint32.
func (r *Reader) U32() (uint32, error) {
	s, err := r.Bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(s), nil
}

// U64 reads a little-endian uint64.
func (r *Reader) U64() (uint64, error) {
	s, err := r.Bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(s), nil
}

// PutU32 appends v to b in little-endian order.
func PutU32(b []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(b, v)
}

// PutU64 appends v to b in little-endian order.
func PutU64(b []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(b, v)
}
