// Package buddy implements the binary buddy allocator that manages physical
// pages.
//
// # Overview
//
// The allocator covers one contiguous physical range. Free memory is kept in
// MaxOrder+1 free lists, one per block order, and a bitmap records the state
// of every page:
//
//	order:  0     1     2    ...   11
//	size:   4K    8K    16K  ...   8M
//	list:   [..]  [..]  [..] ...   [..]
//
// # Allocation
//
// Allocate(order) takes the head of the first non-empty list at or above
// order. A larger block is split: the upper half goes on the list one order
// below, repeatedly, until the block has the requested order.
//
//	Allocate(0) with only an order-2 block at 0x0:
//	  pop 0x0 (order 2)
//	  push 0x2000 (order 1)
//	  push 0x1000 (order 0)
//	  return 0x0
//
// # Freeing and Coalescing
//
// Blocks are aligned to their own size, so a block's buddy is found by
// flipping the size bit of its address:
//
//	buddy := addr ^ PhysAddr(PageSize << order)
//
// Free(addr, order) merges the block with its buddy while the buddy is on
// the same-order list, moving up one order each time. The merged block
// starts at the lower of the two addresses.
//
// Misaligned or out-of-range frees are logged and dropped. They never
// change allocator state.
//
// # Free Lists
//
// Lists are index-linked records in an arena owned by FreeListTable; the
// allocator never writes into the memory it manages. Each list has an
// address index so buddy lookup is O(1) instead of a list walk.
//
// # Thread Safety
//
// Allocator instances are not thread-safe. A caller that shares one must
// hold a single lock across each Allocate or Free, since the bitmap and the
// free lists are updated separately. The pmm package does this.
//
// # Related Packages
//
//   - github.com/mathias-mrsn/kfs-1/memory/bitmap: page state tracking
//   - github.com/mathias-mrsn/kfs-1/memory/pmm: page-count API over this allocator
package buddy
