package memory

import (
	"fmt"
	"math"
)

const (
	// PageSize is the allocation granularity in bytes.
	PageSize = 4096

	// PageShift is log2(PageSize).
	PageShift = 12

	// MaxOrder is the largest block order: PageSize << MaxOrder = 8 MiB.
	MaxOrder = 11

	// MaxBlockPages is the number of pages in a MaxOrder block.
	MaxBlockPages = 1 << MaxOrder
)

// Common sizes.
const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
)

// PhysAddr is a physical memory address.
type PhysAddr uint64

// AlignUp returns a rounded up to the next multiple of align.
// align must be a power of two. The result saturates instead of wrapping.
func (a PhysAddr) AlignUp(align uint64) PhysAddr {
	mask := align - 1
	if uint64(a) > math.MaxUint64-mask {
		return PhysAddr(math.MaxUint64 &^ mask)
	}
	return PhysAddr((uint64(a) + mask) &^ mask)
}

// AlignDown returns a rounded down to a multiple of align (a power of two).
func (a PhysAddr) AlignDown(align uint64) PhysAddr {
	return PhysAddr(uint64(a) &^ (align - 1))
}

// IsAligned reports whether a is a multiple of align (a power of two).
func (a PhysAddr) IsAligned(align uint64) bool {
	return uint64(a)&(align-1) == 0
}

// Add returns a+n, saturating at the top of the address space.
func (a PhysAddr) Add(n uint64) PhysAddr {
	if uint64(a) > math.MaxUint64-n {
		return PhysAddr(math.MaxUint64)
	}
	return a + PhysAddr(n)
}

// PageIndex returns the index of the page holding a, counted from base.
func (a PhysAddr) PageIndex(base PhysAddr) uint64 {
	return uint64(a-base) >> PageShift
}

func (a PhysAddr) String() string {
	return fmt.Sprintf("0x%08x", uint64(a))
}

// OrderToSize returns the size in bytes of a block of the given order.
func OrderToSize(order int) uint64 {
	return PageSize << uint(order)
}

// OrderPages returns the number of pages in a block of the given order.
func OrderPages(order int) uint64 {
	return 1 << uint(order)
}

// SizeToOrder returns the smallest order whose block covers size bytes,
// clamped to MaxOrder.
//
// Example:
//
//	SizeToOrder(1)      = 0
//	SizeToOrder(4096)   = 0
//	SizeToOrder(4097)   = 1
//	SizeToOrder(1 << 30) = MaxOrder
func SizeToOrder(size uint64) int {
	pages := size / PageSize
	if size%PageSize != 0 {
		pages++
	}
	order := 0
	for span := uint64(1); span < pages && order < MaxOrder; span <<= 1 {
		order++
	}
	return order
}

// PagesToOrder converts a page count to the smallest order that covers it.
// ok is false for a zero count or a count above MaxBlockPages.
func PagesToOrder(count uint64) (order int, ok bool) {
	if count == 0 || count > MaxBlockPages {
		return 0, false
	}
	for span := uint64(1); span < count; span <<= 1 {
		order++
	}
	return order, true
}
