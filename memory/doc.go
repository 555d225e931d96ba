// Package memory holds the vocabulary shared by the physical memory manager.
//
// # Overview
//
// Physical memory is handed out in pages of PageSize bytes. Larger requests
// are served in power-of-two blocks described by an order:
//
//	order 0  →    4 KiB (1 page)
//	order 1  →    8 KiB (2 pages)
//	...
//	order 11 →    8 MiB (2048 pages, MaxOrder)
//
// A block of order O always starts at an address aligned to its own size.
// That property lets an allocator find a block's buddy with a single XOR:
//
//	buddy := addr ^ PhysAddr(OrderToSize(order))
//
// # Memory Map
//
// The bootloader describes RAM with a list of MemoryMapEntry values. Only
// entries of type RegionAvailable are ever handed to an allocator; the other
// types (reserved, ACPI reclaimable, NVS, bad RAM) are kept for reporting.
//
// # Errors
//
// ErrNotInitialized, ErrInvalidSize and ErrOutOfMemory are the three
// allocation failures. They are returned, never raised as panics, so the
// caller decides whether exhaustion is fatal.
//
// # Related Packages
//
//   - github.com/mathias-mrsn/kfs-1/memory/bitmap: per-page allocation state
//   - github.com/mathias-mrsn/kfs-1/memory/buddy: the buddy allocator
//   - github.com/mathias-mrsn/kfs-1/memory/pmm: page-count API used by the kernel
package memory
