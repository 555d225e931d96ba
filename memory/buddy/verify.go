package buddy

import (
	"errors"
	"fmt"

	"github.com/mathias-mrsn/kfs-1/memory"
)

// InvariantError describes one violated allocator invariant.
type InvariantError struct {
	Order int
	Addr  memory.PhysAddr
	Msg   string
}

func (e *InvariantError) Error() string {
	if e.Order < 0 {
		return "buddy: invariant violated: " + e.Msg
	}
	return fmt.Sprintf("buddy: invariant violated: order %d block %s: %s", e.Order, e.Addr, e.Msg)
}

// Verify walks every free list and the bitmap and reports each violated
// invariant:
//
//   - every listed block is aligned to its size and lies within bounds
//   - no page is covered by two listed blocks
//   - a page's bitmap bit is clear iff a listed block covers it
//   - the allocated counter matches the bitmap and allocated+free == total
//
// Verify is O(total pages). Allocate and Free never call it.
func (a *Allocator) Verify() error {
	var errs []error
	fail := func(order int, addr memory.PhysAddr, format string, args ...any) {
		errs = append(errs, &InvariantError{Order: order, Addr: addr, Msg: fmt.Sprintf(format, args...)})
	}

	covered := make([]bool, a.totalPages)
	var coveredPages uint64

	for order := 0; order <= memory.MaxOrder; order++ {
		blocks := a.lists.Blocks(order)
		if len(blocks) != a.lists.Len(order) || len(a.lists.byAddr[order]) != len(blocks) {
			fail(order, 0, "list holds %d blocks, count %d, index %d",
				len(blocks), a.lists.Len(order), len(a.lists.byAddr[order]))
		}
		for _, addr := range blocks {
			if !addr.IsAligned(memory.OrderToSize(order)) {
				fail(order, addr, "not aligned to %d bytes", memory.OrderToSize(order))
			}
			if !a.inBounds(addr, order) {
				fail(order, addr, "outside [%s, %s)", a.start, a.end)
				continue
			}
			first := a.pageIndex(addr)
			for idx := first; idx < first+memory.OrderPages(order); idx++ {
				if covered[idx] {
					fail(order, addr, "page %d already on a free list", idx)
					continue
				}
				covered[idx] = true
				coveredPages++
				if a.bitmap.IsAllocated(idx) {
					fail(order, addr, "page %d listed free but marked allocated", idx)
				}
			}
		}
	}

	for idx := uint64(0); idx < a.totalPages; idx++ {
		if !covered[idx] && !a.bitmap.IsAllocated(idx) {
			fail(-1, 0, "page %d marked free but on no free list", idx)
		}
	}

	if set := a.bitmap.CountSet(); set != a.bitmap.Allocated() {
		fail(-1, 0, "allocated counter %d, bitmap holds %d", a.bitmap.Allocated(), set)
	}
	if coveredPages != a.FreePages() {
		fail(-1, 0, "free lists cover %d pages, counter reports %d free", coveredPages, a.FreePages())
	}
	if a.AllocatedPages()+a.FreePages() != a.totalPages {
		fail(-1, 0, "allocated %d + free %d != total %d", a.AllocatedPages(), a.FreePages(), a.totalPages)
	}

	return errors.Join(errs...)
}
