package pmm

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/mathias-mrsn/kfs-1/memory"
	"github.com/mathias-mrsn/kfs-1/memory/bitmap"
	"github.com/mathias-mrsn/kfs-1/memory/buddy"
)

// DefaultLowMemoryFloor is the lowest address handed out by default. The
// first MiB holds the BIOS data area, the VGA buffer and option ROMs.
const DefaultLowMemoryFloor memory.PhysAddr = 1 * memory.MiB

// DefaultMaxPhysAddr is the first address not managed by default: the top
// of the 32-bit physical address space without PAE.
const DefaultMaxPhysAddr memory.PhysAddr = 4 * memory.GiB

var (
	// ErrNoAvailableMemory is returned by Init when the memory map holds no
	// available region.
	ErrNoAvailableMemory = errors.New("pmm: no available memory region")

	// ErrArenaTooSmall is returned by Init when nothing usable remains once
	// the bitmap has been carved out of the largest region.
	ErrArenaTooSmall = errors.New("pmm: arena too small")
)

// PageAllocator is the capability handed to subsystems that need pages.
type PageAllocator interface {
	AllocatePages(count uint64) (memory.PhysAddr, error)
	FreePages(addr memory.PhysAddr, count uint64)
}

// Stats is a point-in-time view of page usage.
type Stats struct {
	Total     uint64
	Allocated uint64
	Free      uint64
}

// Allocator is the kernel's physical page allocator. It owns a buddy
// allocator and serializes every operation under one lock, so bitmap and
// free-list updates are never observed half done.
//
// The zero value is usable and uninitialized.
type Allocator struct {
	mu sync.Mutex

	buddy *buddy.Allocator
	carve [2]memory.PhysAddr

	floor    memory.PhysAddr
	floorSet bool
	limit    memory.PhysAddr
	storage  []uint64
	log      *slog.Logger
}

var _ PageAllocator = (*Allocator)(nil)

// Option configures an Allocator.
type Option func(*Allocator)

// WithLogger sets the logger shared with the underlying buddy allocator.
func WithLogger(l *slog.Logger) Option {
	return func(p *Allocator) { p.log = l }
}

// WithLowMemoryFloor sets the lowest address the allocator manages.
func WithLowMemoryFloor(floor memory.PhysAddr) Option {
	return func(p *Allocator) {
		p.floor = floor
		p.floorSet = true
	}
}

// WithMaxPhysAddr sets the first address the allocator will not manage.
// Available memory at or above it is ignored. Zero selects
// DefaultMaxPhysAddr.
func WithMaxPhysAddr(limit memory.PhysAddr) Option {
	return func(p *Allocator) { p.limit = limit }
}

// WithBitmapStorage supplies the bitmap words. Storage shorter than the
// managed range needs is ignored and fresh words are allocated instead.
func WithBitmapStorage(words []uint64) Option {
	return func(p *Allocator) { p.storage = words }
}

// New returns an uninitialized allocator.
func New(opts ...Option) *Allocator {
	p := &Allocator{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Allocator) logger() *slog.Logger {
	if p.log == nil {
		p.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return p.log
}

func (p *Allocator) lowFloor() memory.PhysAddr {
	if p.floorSet {
		return p.floor
	}
	return DefaultLowMemoryFloor
}

func (p *Allocator) maxPhysAddr() memory.PhysAddr {
	if p.limit != 0 {
		return p.limit
	}
	return DefaultMaxPhysAddr
}

// Init builds the allocator from a firmware memory map.
//
// The managed range starts at the lowest available address at or above the
// low-memory floor and ends with the largest available region. Bitmap
// storage is carved from the start of the largest region; those pages stay
// allocated for the life of the allocator. Available memory at or above the
// maximum physical address (see WithMaxPhysAddr) is ignored, which also
// bounds the size of the bitmap.
//
// Only the first successful call has an effect.
func (p *Allocator) Init(entries []memory.MemoryMapEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.buddy != nil {
		return nil
	}

	entries = clipAbove(entries, p.maxPhysAddr())
	idx, ok := memory.LargestAvailable(entries)
	if !ok {
		return ErrNoAvailableMemory
	}
	largest := entries[idx]

	start := lowestAvailable(entries)
	start = max(start, p.lowFloor()).AlignUp(memory.PageSize)
	end := largest.End().AlignDown(memory.PageSize)
	if end <= start {
		return fmt.Errorf("%w: largest region %s lies below %s", ErrArenaTooSmall, largest, start)
	}

	pages := uint64(end-start) / memory.PageSize
	words := bitmap.WordsFor(pages)
	carveStart := max(largest.Start.AlignUp(memory.PageSize), start)
	carveEnd := carveStart.Add(uint64(words) * 8).AlignUp(memory.PageSize)
	if carveEnd >= end {
		return fmt.Errorf("%w: bitmap for %d pages leaves nothing of %s", ErrArenaTooSmall, pages, largest)
	}

	storage := p.storage
	if len(storage) < words {
		storage = make([]uint64, words)
	}

	b, err := buddy.New(start, end, storage, buddy.WithLogger(p.logger()))
	if err != nil {
		return fmt.Errorf("pmm: %w", err)
	}
	b.Initialize(carveOut(entries, carveStart, carveEnd))

	p.buddy = b
	p.carve = [2]memory.PhysAddr{carveStart, carveEnd}
	p.logger().Info("physical memory manager ready",
		"start", start.String(),
		"end", end.String(),
		"bitmap", fmt.Sprintf("[%s, %s)", carveStart, carveEnd),
		"free_pages", b.FreePages())
	return nil
}

// clipAbove returns a copy of entries with available memory at or above
// limit removed. Entries of other types are kept as they are.
func clipAbove(entries []memory.MemoryMapEntry, limit memory.PhysAddr) []memory.MemoryMapEntry {
	out := make([]memory.MemoryMapEntry, 0, len(entries))
	for _, e := range entries {
		if !e.Available() {
			out = append(out, e)
			continue
		}
		if e.Start >= limit {
			continue
		}
		if e.End() > limit {
			e.Length = uint64(limit - e.Start)
		}
		out = append(out, e)
	}
	return out
}

// lowestAvailable returns the lowest start of any available entry.
func lowestAvailable(entries []memory.MemoryMapEntry) memory.PhysAddr {
	lowest := ^memory.PhysAddr(0)
	for _, e := range entries {
		if e.Available() && e.Length > 0 {
			lowest = min(lowest, e.Start)
		}
	}
	return lowest
}

// carveOut returns a copy of entries in which [start, end) is reserved. An
// available entry overlapping the range is split around it.
func carveOut(entries []memory.MemoryMapEntry, start, end memory.PhysAddr) []memory.MemoryMapEntry {
	out := make([]memory.MemoryMapEntry, 0, len(entries)+2)
	for _, e := range entries {
		if !e.Available() || e.End() <= start || e.Start >= end {
			out = append(out, e)
			continue
		}
		if e.Start < start {
			out = append(out, memory.MemoryMapEntry{Start: e.Start, Length: uint64(start - e.Start), Type: e.Type})
		}
		lo, hi := max(e.Start, start), min(e.End(), end)
		out = append(out, memory.MemoryMapEntry{Start: lo, Length: uint64(hi - lo), Type: memory.RegionReserved})
		if e.End() > end {
			out = append(out, memory.MemoryMapEntry{Start: end, Length: uint64(e.End() - end), Type: e.Type})
		}
	}
	return out
}

// AllocatePages returns count contiguous pages.
//
// count is rounded up to the next power of two. The caller receives the
// rounded amount and must pass the same count (or the rounded one) to
// FreePages; the granted size is not reported back.
//
// An uninitialized allocator returns memory.ErrNotInitialized before count
// is validated, so AllocatePages(0) on a fresh allocator reports
// ErrNotInitialized rather than memory.ErrInvalidSize.
func (p *Allocator) AllocatePages(count uint64) (memory.PhysAddr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.buddy == nil {
		return 0, memory.ErrNotInitialized
	}
	order, ok := memory.PagesToOrder(count)
	if !ok {
		return 0, fmt.Errorf("allocate %d pages: %w", count, memory.ErrInvalidSize)
	}
	addr, err := p.buddy.Allocate(order)
	if err != nil {
		return 0, fmt.Errorf("allocate %d pages: %w", count, err)
	}
	return addr, nil
}

// FreePages releases count pages at addr, obtained from AllocatePages.
// A zero count is ignored. Invalid requests are logged and dropped.
func (p *Allocator) FreePages(addr memory.PhysAddr, count uint64) {
	if count == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.buddy == nil {
		p.logger().Warn("dropping free request", "reason", "allocator not initialized", "addr", addr.String())
		return
	}
	order, ok := memory.PagesToOrder(count)
	if !ok {
		p.logger().Warn("dropping free request", "reason", "page count too large", "addr", addr.String(), "count", count)
		return
	}
	p.buddy.Free(addr, order)
}

// MemoryStats returns page usage, or false before Init.
func (p *Allocator) MemoryStats() (Stats, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.buddy == nil {
		return Stats{}, false
	}
	return Stats{
		Total:     p.buddy.TotalPages(),
		Allocated: p.buddy.AllocatedPages(),
		Free:      p.buddy.FreePages(),
	}, true
}

// Initialized reports whether Init has succeeded.
func (p *Allocator) Initialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buddy != nil
}

// Bounds returns the managed range. Both are zero before Init.
func (p *Allocator) Bounds() (start, end memory.PhysAddr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buddy == nil {
		return 0, 0
	}
	return p.buddy.Bounds()
}

// BitmapRange returns the pages reserved for the bitmap.
func (p *Allocator) BitmapRange() (start, end memory.PhysAddr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.carve[0], p.carve[1]
}

// FreeBlocks returns the free list of one order, head first.
func (p *Allocator) FreeBlocks(order int) []memory.PhysAddr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buddy == nil {
		return nil
	}
	return p.buddy.FreeBlocks(order)
}

// BuddyStats returns the activity counters of the underlying allocator.
func (p *Allocator) BuddyStats() buddy.Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buddy == nil {
		return buddy.Stats{}
	}
	return p.buddy.Stats()
}

// Verify checks every allocator invariant. See buddy.Allocator.Verify.
func (p *Allocator) Verify() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buddy == nil {
		return memory.ErrNotInitialized
	}
	return p.buddy.Verify()
}
