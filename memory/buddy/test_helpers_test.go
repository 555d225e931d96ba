package buddy

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mathias-mrsn/kfs-1/memory"
	"github.com/mathias-mrsn/kfs-1/memory/bitmap"
)

// newAllocator creates an uninitialized allocator over [start, end).
func newAllocator(t testing.TB, start, end memory.PhysAddr, opts ...Option) *Allocator {
	t.Helper()
	pages := uint64(end.AlignDown(memory.PageSize)-start.AlignUp(memory.PageSize)) / memory.PageSize
	a, err := New(start, end, make([]uint64, bitmap.WordsFor(pages)), opts...)
	require.NoError(t, err)
	return a
}

// newInitialized creates an allocator over [start, end) and initializes it
// with entries, checking invariants afterwards.
func newInitialized(
	t testing.TB,
	start, end memory.PhysAddr,
	entries []memory.MemoryMapEntry,
	opts ...Option,
) *Allocator {
	t.Helper()
	a := newAllocator(t, start, end, opts...)
	a.Initialize(entries)
	requireInvariants(t, a)
	return a
}

// captureLogger returns a debug-level logger writing to the returned buffer.
func captureLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

// snapshot captures the free lists and counters for state comparisons.
type snapshot struct {
	lists     [memory.MaxOrder + 1][]memory.PhysAddr
	allocated uint64
	free      uint64
}

func takeSnapshot(a *Allocator) snapshot {
	var s snapshot
	for order := range s.lists {
		s.lists[order] = a.FreeBlocks(order)
	}
	s.allocated = a.AllocatedPages()
	s.free = a.FreePages()
	return s
}

// freeSet returns the free blocks of every order as a set, ignoring list
// position.
func freeSet(a *Allocator) map[int]map[memory.PhysAddr]bool {
	out := make(map[int]map[memory.PhysAddr]bool)
	for order := 0; order <= memory.MaxOrder; order++ {
		for _, addr := range a.FreeBlocks(order) {
			if out[order] == nil {
				out[order] = make(map[memory.PhysAddr]bool)
			}
			out[order][addr] = true
		}
	}
	return out
}

func requireInvariants(t testing.TB, a *Allocator) {
	t.Helper()
	require.NoError(t, a.Verify())
	require.Equal(t, a.TotalPages(), a.AllocatedPages()+a.FreePages())
}
