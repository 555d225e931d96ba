package buddy

import (
	"testing"

	"github.com/mathias-mrsn/kfs-1/internal/testutil"
	"github.com/mathias-mrsn/kfs-1/memory"
)

// BenchmarkInitialize measures bootstrap over a fragmented 48 MiB map.
func BenchmarkInitialize(b *testing.B) {
	start, end, entries := fragmentedMap()

	b.ReportAllocs()
	for range b.N {
		a := newAllocator(b, start, end)
		a.Initialize(entries)
	}
}

// BenchmarkAllocFree_Order0 measures a single-page round trip. The page comes
// from splitting a large block and merges all the way back on free.
func BenchmarkAllocFree_Order0(b *testing.B) {
	a := newAllocator(b, 0, 0x800000)
	a.Initialize([]memory.MemoryMapEntry{testutil.Available(0, 0x800000)})

	b.ResetTimer()
	b.ReportAllocs()

	for range b.N {
		addr, err := a.Allocate(0)
		if err != nil {
			b.Fatal(err)
		}
		a.Free(addr, 0)
	}
}

// BenchmarkFree_ManyListed measures free with a long same-order list, the
// case the address index exists for.
func BenchmarkFree_ManyListed(b *testing.B) {
	const pages = 4096
	end := memory.PhysAddr(pages * memory.PageSize)
	a := newAllocator(b, 0, end)
	a.Initialize([]memory.MemoryMapEntry{testutil.Available(0, end)})

	// Keep every even page allocated so odd pages stay listed at order 0.
	for range pages {
		if _, err := a.Allocate(0); err != nil {
			b.Fatal(err)
		}
	}
	for idx := uint64(1); idx < pages; idx += 2 {
		a.Free(memory.PhysAddr(idx*memory.PageSize), 0)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for range b.N {
		addr, err := a.Allocate(0)
		if err != nil {
			b.Fatal(err)
		}
		a.Free(addr, 0)
	}
}
