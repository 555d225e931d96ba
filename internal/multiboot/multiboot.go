// Package multiboot decodes the memory map a Multiboot 1 loader passes in
// mmap_addr/mmap_length.
//
// Each record is
//
//	offset  size  field
//	0       4     size   bytes following this field (20 for a plain record)
//	4       8     base_addr
//	12      8     length
//	20      4     type
//
// and the next record starts size+4 bytes after the current one. All fields
// are little-endian.
package multiboot

import (
	"errors"
	"fmt"

	"github.com/mathias-mrsn/kfs-1/internal/buf"
	"github.com/mathias-mrsn/kfs-1/memory"
)

// RecordSize is the value of the size field for a record with no trailing
// vendor data.
const RecordSize = 20

var (
	// ErrTruncated is returned when the table ends inside a record.
	ErrTruncated = errors.New("multiboot: truncated memory map")

	// ErrBadRecord is returned for a record whose size field is too small to
	// hold the base, length and type fields.
	ErrBadRecord = errors.New("multiboot: malformed memory map record")
)

// Type tags used in the type field.
const (
	TypeAvailable       uint32 = 1
	TypeReserved        uint32 = 2
	TypeACPIReclaimable uint32 = 3
	TypeNVS             uint32 = 4
	TypeBadRAM          uint32 = 5
)

// RegionType maps a raw type tag to a memory.RegionType. Unknown tags are
// reserved, as the Multiboot specification requires.
func RegionType(tag uint32) memory.RegionType {
	switch tag {
	case TypeAvailable:
		return memory.RegionAvailable
	case TypeACPIReclaimable:
		return memory.RegionACPIReclaimable
	case TypeNVS:
		return memory.RegionNVS
	case TypeBadRAM:
		return memory.RegionBadRAM
	default:
		return memory.RegionReserved
	}
}

// Parse decodes a memory map table.
func Parse(table []byte) ([]memory.MemoryMapEntry, error) {
	r := buf.NewReader(table)
	var entries []memory.MemoryMapEntry

	for r.Len() > 0 {
		at := r.Offset()
		size, err := r.U32()
		if err != nil {
			return entries, fmt.Errorf("%w: record at offset %d", ErrTruncated, at)
		}
		if size < RecordSize {
			return entries, fmt.Errorf("%w: record at offset %d has size %d", ErrBadRecord, at, size)
		}
		body, err := r.Bytes(int(size))
		if err != nil {
			return entries, fmt.Errorf("%w: record at offset %d needs %d bytes", ErrTruncated, at, size)
		}

		fields := buf.NewReader(body)
		base, _ := fields.U64()
		length, _ := fields.U64()
		tag, _ := fields.U32()

		entries = append(entries, memory.MemoryMapEntry{
			Start:  memory.PhysAddr(base),
			Length: length,
			Type:   RegionType(tag),
		})
	}
	return entries, nil
}

// Encode produces a table Parse accepts, one plain record per entry.
func Encode(entries []memory.MemoryMapEntry) []byte {
	out := make([]byte, 0, len(entries)*(RecordSize+4))
	for _, e := range entries {
		out = buf.PutU32(out, RecordSize)
		out = buf.PutU64(out, uint64(e.Start))
		out = buf.PutU64(out, e.Length)
		out = buf.PutU32(out, uint32(e.Type))
	}
	return out
}
