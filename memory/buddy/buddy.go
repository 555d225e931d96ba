package buddy

import (
	"cmp"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/mathias-mrsn/kfs-1/memory"
	"github.com/mathias-mrsn/kfs-1/memory/bitmap"
)

// Allocator is a binary buddy allocator over the physical range
// [Start, End). It owns a FreeListTable and a page Bitmap.
//
// A block of order O is PageSize<<O bytes and is aligned to its own size.
// Allocate splits larger blocks on demand and Free merges a block with its
// buddy for as long as the buddy is free.
//
// Not thread-safe. The pmm package wraps it with a lock.
type Allocator struct {
	lists  *FreeListTable
	bitmap *bitmap.Bitmap

	start      memory.PhysAddr
	end        memory.PhysAddr
	totalPages uint64

	initialized atomic.Bool

	log   *slog.Logger
	stats Stats
}

// Stats counts allocator activity since construction.
type Stats struct {
	AllocCalls  int // Allocate calls that returned a block
	AllocFailed int // Allocate calls that returned an error
	FreeCalls   int // Free calls that released a block
	FreeDropped int // Free calls rejected as caller errors
	Splits      int // blocks split in half during Allocate
	Merges      int // buddy pairs merged during Free
	InitBlocks  int // blocks threaded onto the lists by Initialize
	InitSkipped int // available entries that held no whole page in bounds
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithLogger sets the logger used for dropped frees and debug tracing.
func WithLogger(l *slog.Logger) Option {
	return func(a *Allocator) {
		if l != nil {
			a.log = l
		}
	}
}

// New creates an allocator for [start, end) using storage as bitmap words.
// start is rounded up and end rounded down to PageSize. The range must hold
// at least one page and storage must hold bitmap.WordsFor(pages) words.
//
// Every page starts out allocated; call Initialize to release the
// available regions of a memory map.
func New(start, end memory.PhysAddr, storage []uint64, opts ...Option) (*Allocator, error) {
	start = start.AlignUp(memory.PageSize)
	end = end.AlignDown(memory.PageSize)
	if end <= start {
		return nil, fmt.Errorf("buddy: empty arena [%s, %s)", start, end)
	}
	total := uint64(end-start) / memory.PageSize

	bm, err := bitmap.New(storage, total)
	if err != nil {
		return nil, fmt.Errorf("buddy: %w", err)
	}
	bm.MarkAllAllocated()

	a := &Allocator{
		lists:      NewFreeListTable(),
		bitmap:     bm,
		start:      start,
		end:        end,
		totalPages: total,
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Initialize threads every available region of entries onto the free lists.
//
// Regions are clipped to the allocator bounds and trimmed to whole pages.
// Overlapping regions are merged first, so a page reported twice is freed
// once. Each region is then cut into the largest naturally aligned blocks
// that fit, and each block is freed through the same path as Free: it
// merges with a free buddy, so adjacent regions may end up sharing a block
// instead of staying separate list entries. Everything not covered by an
// available entry stays allocated.
//
// Only the first call has an effect.
func (a *Allocator) Initialize(entries []memory.MemoryMapEntry) {
	if a.initialized.Load() {
		return
	}

	a.lists.Reset()
	a.bitmap.MarkAllAllocated()

	for _, r := range a.availableRuns(entries) {
		for addr := r.start; addr+memory.PageSize <= r.end; {
			size := maxBlockSize(addr, r.end)
			a.freeBlock(addr, memory.SizeToOrder(size))
			a.stats.InitBlocks++
			addr += memory.PhysAddr(size)
		}
	}

	a.initialized.Store(true)
	a.log.Info("buddy allocator initialized",
		"start", a.start.String(),
		"end", a.end.String(),
		"pages", a.totalPages,
		"free", a.bitmap.Free())
}

// run is a page-aligned physical range [start, end).
type run struct {
	start, end memory.PhysAddr
}

// availableRuns returns the available entries as page-aligned runs inside
// the allocator bounds, sorted by start with overlaps merged. Adjacent runs
// are kept apart.
func (a *Allocator) availableRuns(entries []memory.MemoryMapEntry) []run {
	var runs []run
	for _, e := range entries {
		if !e.Available() {
			continue
		}
		start, end, ok := e.PageRange()
		if ok {
			start = max(start, a.start)
			end = min(end, a.end)
		}
		if !ok || start >= end {
			a.stats.InitSkipped++
			a.log.Debug("skipping region", "region", e.String())
			continue
		}
		runs = append(runs, run{start, end})
	}

	slices.SortFunc(runs, func(x, y run) int { return cmp.Compare(x.start, y.start) })

	merged := runs[:0]
	for _, r := range runs {
		if n := len(merged); n > 0 && r.start < merged[n-1].end {
			if r.end > merged[n-1].end {
				merged[n-1].end = r.end
			}
			a.log.Debug("merging overlapping region", "start", r.start.String(), "end", r.end.String())
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// maxBlockSize returns the largest block that starts at addr, is aligned to
// its own size and ends at or before end.
func maxBlockSize(addr, end memory.PhysAddr) uint64 {
	size := uint64(memory.PageSize)
	for order := 0; order < memory.MaxOrder; order++ {
		next := size << 1
		if !addr.IsAligned(next) || uint64(end-addr) < next {
			break
		}
		size = next
	}
	return size
}

// Allocate returns a block of 2^order pages, aligned to its size.
//
// The smallest non-empty list at or above order is used. A larger block is
// split in half repeatedly; each upper half goes back on the list one order
// down.
func (a *Allocator) Allocate(order int) (memory.PhysAddr, error) {
	if !a.initialized.Load() {
		a.stats.AllocFailed++
		return 0, memory.ErrNotInitialized
	}
	if order < 0 || order > memory.MaxOrder {
		a.stats.AllocFailed++
		return 0, memory.ErrInvalidSize
	}

	cur := order
	for cur <= memory.MaxOrder && a.lists.Empty(cur) {
		cur++
	}
	if cur > memory.MaxOrder {
		a.stats.AllocFailed++
		return 0, memory.ErrOutOfMemory
	}

	block, _ := a.lists.Pop(cur)
	for cur > order {
		cur--
		buddy := block + memory.PhysAddr(memory.OrderToSize(cur))
		a.pushFree(buddy, cur)
		a.stats.Splits++
		a.log.Debug("split", "block", block.String(), "buddy", buddy.String(), "order", cur)
	}

	a.bitmap.MarkRangeAllocated(a.pageIndex(block), memory.OrderPages(order))
	a.stats.AllocCalls++
	return block, nil
}

// Free returns a block previously obtained from Allocate with the same order.
//
// Requests that cannot be honoured safely are logged and dropped: an
// uninitialized allocator, an order above MaxOrder, an address not aligned
// to the block size, or a block outside the allocator bounds.
func (a *Allocator) Free(addr memory.PhysAddr, order int) {
	switch {
	case !a.initialized.Load():
		a.drop("allocator not initialized", addr, order)
		return
	case order < 0 || order > memory.MaxOrder:
		a.drop("invalid order", addr, order)
		return
	case !addr.IsAligned(memory.OrderToSize(order)):
		a.drop("misaligned address", addr, order)
		return
	case !a.inBounds(addr, order):
		a.drop("address out of bounds", addr, order)
		return
	}
	a.freeBlock(addr, order)
	a.stats.FreeCalls++
}

func (a *Allocator) drop(reason string, addr memory.PhysAddr, order int) {
	a.stats.FreeDropped++
	a.log.Warn("dropping free request", "reason", reason, "addr", addr.String(), "order", order)
}

// freeBlock merges addr with its buddy while the buddy is free, then puts
// the resulting block on its list.
func (a *Allocator) freeBlock(addr memory.PhysAddr, order int) {
	for order < memory.MaxOrder {
		buddy := addr ^ memory.PhysAddr(memory.OrderToSize(order))
		if !a.inBounds(buddy, order) || !a.lists.Remove(order, buddy) {
			break
		}
		a.stats.Merges++
		a.log.Debug("merge", "block", addr.String(), "buddy", buddy.String(), "order", order)
		addr = min(addr, buddy)
		order++
	}
	a.pushFree(addr, order)
}

// pushFree puts a block on its list and clears its pages in the bitmap. A
// block already on the list is left alone.
func (a *Allocator) pushFree(addr memory.PhysAddr, order int) {
	if !a.lists.Push(order, addr) {
		a.log.Warn("block already free", "addr", addr.String(), "order", order)
		return
	}
	a.bitmap.MarkRangeFree(a.pageIndex(addr), memory.OrderPages(order))
}

func (a *Allocator) inBounds(addr memory.PhysAddr, order int) bool {
	return addr >= a.start && addr < a.end && uint64(a.end-addr) >= memory.OrderToSize(order)
}

func (a *Allocator) pageIndex(addr memory.PhysAddr) uint64 {
	return addr.PageIndex(a.start)
}

// Initialized reports whether Initialize has completed.
func (a *Allocator) Initialized() bool { return a.initialized.Load() }

// Bounds returns the managed range [start, end).
func (a *Allocator) Bounds() (start, end memory.PhysAddr) { return a.start, a.end }

// TotalPages returns the number of pages in the managed range.
func (a *Allocator) TotalPages() uint64 { return a.totalPages }

// AllocatedPages returns the number of pages not on any free list.
func (a *Allocator) AllocatedPages() uint64 { return a.bitmap.Allocated() }

// FreePages returns the number of pages on the free lists.
func (a *Allocator) FreePages() uint64 { return a.totalPages - a.bitmap.Allocated() }

// FreeBlocks returns the free list of the given order, head first.
func (a *Allocator) FreeBlocks(order int) []memory.PhysAddr {
	if order < 0 || order > memory.MaxOrder {
		return nil
	}
	return a.lists.Blocks(order)
}

// Stats returns a copy of the activity counters.
func (a *Allocator) Stats() Stats { return a.stats }
