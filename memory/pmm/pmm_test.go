package pmm

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mathias-mrsn/kfs-1/memory"
)

func entry(start, end memory.PhysAddr, typ memory.RegionType) memory.MemoryMapEntry {
	return memory.MemoryMapEntry{Start: start, Length: uint64(end - start), Type: typ}
}

// pcMap looks like a small PC: conventional memory, the ISA hole, and 31 MiB
// of extended memory.
func pcMap() []memory.MemoryMapEntry {
	return []memory.MemoryMapEntry{
		entry(0x0, 0x9fc00, memory.RegionAvailable),
		entry(0x9fc00, 0xa0000, memory.RegionReserved),
		entry(0xf0000, 0x100000, memory.RegionReserved),
		entry(0x100000, 0x2000000, memory.RegionAvailable),
		entry(0xfffc0000, 0x100000000, memory.RegionReserved),
	}
}

func newReady(t *testing.T, entries []memory.MemoryMapEntry, opts ...Option) *Allocator {
	t.Helper()
	p := New(opts...)
	require.NoError(t, p.Init(entries))
	require.NoError(t, p.Verify())
	return p
}

func TestZeroValueIsUninitialized(t *testing.T) {
	var p Allocator

	_, err := p.AllocatePages(1)
	require.ErrorIs(t, err, memory.ErrNotInitialized)
	_, err = p.AllocatePages(0)
	require.ErrorIs(t, err, memory.ErrNotInitialized, "checked before the size")

	_, ok := p.MemoryStats()
	require.False(t, ok)
	require.False(t, p.Initialized())
	require.ErrorIs(t, p.Verify(), memory.ErrNotInitialized)

	// Dropped, not a panic.
	p.FreePages(0x100000, 1)

	require.NoError(t, p.Init(pcMap()))
	require.True(t, p.Initialized())
}

func TestInitBoundsAndCarve(t *testing.T) {
	p := newReady(t, pcMap())

	start, end := p.Bounds()
	require.Equal(t, memory.PhysAddr(0x100000), start, "low memory floor")
	require.Equal(t, memory.PhysAddr(0x2000000), end, "end of the largest region")

	// 7936 pages need 124 words, which fit in one page.
	cs, ce := p.BitmapRange()
	require.Equal(t, memory.PhysAddr(0x100000), cs)
	require.Equal(t, memory.PhysAddr(0x101000), ce)

	stats, ok := p.MemoryStats()
	require.True(t, ok)
	require.Equal(t, Stats{Total: 7936, Allocated: 1, Free: 7935}, stats)
}

func TestBitmapPagesAreNeverIssued(t *testing.T) {
	p := newReady(t, pcMap())
	cs, ce := p.BitmapRange()

	for {
		addr, err := p.AllocatePages(1)
		if err != nil {
			require.ErrorIs(t, err, memory.ErrOutOfMemory)
			break
		}
		require.False(t, addr >= cs && addr < ce, "bitmap page %s issued", addr)
	}

	stats, _ := p.MemoryStats()
	require.Zero(t, stats.Free)
	require.NoError(t, p.Verify())
}

func TestInitIsOnce(t *testing.T) {
	p := newReady(t, pcMap())
	before, _ := p.MemoryStats()

	other := []memory.MemoryMapEntry{entry(0x100000, 0x800000, memory.RegionAvailable)}
	require.NoError(t, p.Init(other))

	after, _ := p.MemoryStats()
	require.Equal(t, before, after)
	_, end := p.Bounds()
	require.Equal(t, memory.PhysAddr(0x2000000), end)
}

func TestInitErrors(t *testing.T) {
	tests := []struct {
		name    string
		entries []memory.MemoryMapEntry
		want    error
	}{
		{"empty map", nil, ErrNoAvailableMemory},
		{"only reserved", []memory.MemoryMapEntry{entry(0x100000, 0x200000, memory.RegionReserved)}, ErrNoAvailableMemory},
		{"below the floor", []memory.MemoryMapEntry{entry(0x0, 0x9f000, memory.RegionAvailable)}, ErrArenaTooSmall},
		{"bitmap takes everything", []memory.MemoryMapEntry{entry(0x100000, 0x101000, memory.RegionAvailable)}, ErrArenaTooSmall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New()
			err := p.Init(tt.entries)
			require.ErrorIs(t, err, tt.want)
			require.False(t, p.Initialized())
		})
	}
}

func TestInitRetriesAfterFailure(t *testing.T) {
	p := New()
	require.Error(t, p.Init(nil))
	require.NoError(t, p.Init(pcMap()))
	require.True(t, p.Initialized())
}

func TestLowMemoryFloorOption(t *testing.T) {
	entries := []memory.MemoryMapEntry{entry(0x0, 0x10000, memory.RegionAvailable)}
	p := newReady(t, entries, WithLowMemoryFloor(0))

	start, end := p.Bounds()
	require.Equal(t, memory.PhysAddr(0), start)
	require.Equal(t, memory.PhysAddr(0x10000), end)

	stats, _ := p.MemoryStats()
	require.Equal(t, Stats{Total: 16, Allocated: 1, Free: 15}, stats)
}

func TestInitIgnoresMemoryAboveMaxPhysAddr(t *testing.T) {
	huge := []memory.MemoryMapEntry{{Start: 0x100000, Length: 1 << 62, Type: memory.RegionAvailable}}
	p := newReady(t, huge)

	start, end := p.Bounds()
	require.Equal(t, memory.PhysAddr(0x100000), start)
	require.Equal(t, DefaultMaxPhysAddr, end)

	// 1048320 pages need 16380 words, 32 pages of bitmap.
	cs, ce := p.BitmapRange()
	require.Equal(t, memory.PhysAddr(0x100000), cs)
	require.Equal(t, memory.PhysAddr(0x120000), ce)
}

func TestInitOnlyAboveMaxPhysAddr(t *testing.T) {
	entries := []memory.MemoryMapEntry{
		entry(0x0, 0x100000, memory.RegionReserved),
		entry(0x100000000, 0x200000000, memory.RegionAvailable),
	}
	p := New()
	require.ErrorIs(t, p.Init(entries), ErrNoAvailableMemory)
	require.False(t, p.Initialized())
}

func TestMaxPhysAddrOption(t *testing.T) {
	p := newReady(t, pcMap(), WithMaxPhysAddr(0x800000))

	start, end := p.Bounds()
	require.Equal(t, memory.PhysAddr(0x100000), start)
	require.Equal(t, memory.PhysAddr(0x800000), end)

	stats, _ := p.MemoryStats()
	require.Equal(t, uint64(1792), stats.Total)
}

func TestClipAbove(t *testing.T) {
	entries := []memory.MemoryMapEntry{
		entry(0x0, 0x1000, memory.RegionAvailable),
		entry(0x1000, 0x3000, memory.RegionAvailable),
		entry(0x3000, 0x4000, memory.RegionAvailable),
		entry(0x3000, 0x5000, memory.RegionReserved),
	}
	require.Equal(t, []memory.MemoryMapEntry{
		entry(0x0, 0x1000, memory.RegionAvailable),
		entry(0x1000, 0x2000, memory.RegionAvailable),
		entry(0x3000, 0x5000, memory.RegionReserved),
	}, clipAbove(entries, 0x2000))
}

func TestBitmapStorageOption(t *testing.T) {
	words := make([]uint64, 256)
	words[0] = 0xdead
	p := newReady(t, pcMap(), WithBitmapStorage(words))

	// The allocator cleared and then used the supplied words.
	addr, err := p.AllocatePages(1)
	require.NoError(t, err)
	require.NotZero(t, addr)
	require.NotEqual(t, uint64(0xdead), words[0])
}

func TestAllocatePagesInvalidSize(t *testing.T) {
	p := newReady(t, pcMap())

	for _, count := range []uint64{0, memory.MaxBlockPages + 1} {
		_, err := p.AllocatePages(count)
		require.ErrorIs(t, err, memory.ErrInvalidSize, "count %d", count)
	}

	addr, err := p.AllocatePages(memory.MaxBlockPages)
	require.NoError(t, err)
	require.True(t, addr.IsAligned(memory.OrderToSize(memory.MaxOrder)))
}

func TestAllocatePagesRoundsUp(t *testing.T) {
	p := newReady(t, pcMap())
	before, _ := p.MemoryStats()

	addr, err := p.AllocatePages(3)
	require.NoError(t, err)
	require.True(t, addr.IsAligned(4*memory.PageSize))

	after, _ := p.MemoryStats()
	require.Equal(t, before.Allocated+4, after.Allocated)

	p.FreePages(addr, 3)
	restored, _ := p.MemoryStats()
	require.Equal(t, before, restored)
	require.NoError(t, p.Verify())
}

func TestAllocatePagesOutOfMemoryIsWrapped(t *testing.T) {
	entries := []memory.MemoryMapEntry{entry(0x100000, 0x110000, memory.RegionAvailable)}
	p := newReady(t, entries)

	_, err := p.AllocatePages(16)
	require.Error(t, err)
	require.True(t, errors.Is(err, memory.ErrOutOfMemory))
	assert.Contains(t, err.Error(), "allocate 16 pages")
}

func TestFreePagesDropsBadRequests(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	p := newReady(t, pcMap(), WithLogger(log))
	before, _ := p.MemoryStats()

	addr, err := p.AllocatePages(2)
	require.NoError(t, err)

	p.FreePages(addr+memory.PageSize, 2)
	assert.Contains(t, buf.String(), "misaligned address")

	p.FreePages(addr, memory.MaxBlockPages+1)
	assert.Contains(t, buf.String(), "page count too large")

	p.FreePages(addr, 0)

	p.FreePages(addr, 2)
	after, _ := p.MemoryStats()
	require.Equal(t, before, after)
	require.Equal(t, 1, p.BuddyStats().FreeDropped, "only the misaligned free reaches the buddy allocator")
}

func TestConcurrentUse(t *testing.T) {
	p := newReady(t, pcMap())
	before, _ := p.MemoryStats()

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			count := uint64(g%4 + 1)
			for range 200 {
				addr, err := p.AllocatePages(count)
				if err != nil {
					continue
				}
				p.FreePages(addr, count)
			}
		}()
	}
	wg.Wait()

	after, _ := p.MemoryStats()
	require.Equal(t, before, after)
	require.NoError(t, p.Verify())
}

func TestCarveOutSplitsAvailableEntries(t *testing.T) {
	entries := []memory.MemoryMapEntry{
		entry(0x0, 0x1000, memory.RegionAvailable),
		entry(0x2000, 0x8000, memory.RegionAvailable),
		entry(0x8000, 0x9000, memory.RegionReserved),
	}

	got := carveOut(entries, 0x3000, 0x5000)
	require.Equal(t, []memory.MemoryMapEntry{
		entry(0x0, 0x1000, memory.RegionAvailable),
		entry(0x2000, 0x3000, memory.RegionAvailable),
		entry(0x3000, 0x5000, memory.RegionReserved),
		entry(0x5000, 0x8000, memory.RegionAvailable),
		entry(0x8000, 0x9000, memory.RegionReserved),
	}, got)

	// Entries are copied, never edited in place.
	require.Equal(t, memory.PhysAddr(0x2000), entries[1].Start)
}

func TestPageAllocatorCapability(t *testing.T) {
	var pages PageAllocator = newReady(t, pcMap())

	addr, err := pages.AllocatePages(1)
	require.NoError(t, err)
	require.GreaterOrEqual(t, addr, DefaultLowMemoryFloor)
	pages.FreePages(addr, 1)
}
