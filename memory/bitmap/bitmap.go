// Package bitmap tracks the allocation state of every page managed by the
// physical memory allocator.
//
// One bit per page: 1 means allocated, 0 means free. The tracker keeps an
// allocated-page counter that only moves when a bit actually flips, so
// statistics are O(1) no matter how often a range is re-marked.
//
// Storage is supplied by the caller. At boot it is carved out of physical
// memory before any allocator exists, so the tracker never allocates.
package bitmap

import (
	"fmt"
	"math/bits"
	"sync/atomic"
)

// wordBits is the number of pages tracked per storage word.
const wordBits = 64

// WordsFor returns the number of storage words needed to track pages.
func WordsFor(pages uint64) int {
	return int((pages + wordBits - 1) / wordBits)
}

// Bitmap is a per-page allocation-state tracker over [0, Total()).
//
// Each word is updated with an atomic read-modify-write. That keeps a single
// bit flip and its counter update consistent, but callers that also keep
// other structures in sync (free lists) must still serialize whole
// operations themselves.
type Bitmap struct {
	words     []uint64
	total     uint64
	allocated atomic.Uint64
}

// New wraps words as a tracker for total pages. All pages start free.
// It fails when words is too short to hold total bits.
func New(words []uint64, total uint64) (*Bitmap, error) {
	if need := WordsFor(total); len(words) < need {
		return nil, fmt.Errorf("bitmap: storage holds %d words, need %d for %d pages",
			len(words), need, total)
	}
	b := &Bitmap{words: words[:WordsFor(total)], total: total}
	for i := range b.words {
		b.words[i] = 0
	}
	return b, nil
}

// Total returns the number of tracked pages.
func (b *Bitmap) Total() uint64 { return b.total }

// Allocated returns the number of pages currently marked allocated.
func (b *Bitmap) Allocated() uint64 { return b.allocated.Load() }

// Free returns the number of pages currently marked free.
func (b *Bitmap) Free() uint64 { return b.total - b.allocated.Load() }

// IsAllocated reports the state of page idx. Out-of-range pages read as
// allocated since nothing may ever hand them out.
func (b *Bitmap) IsAllocated(idx uint64) bool {
	if idx >= b.total {
		return true
	}
	return atomic.LoadUint64(&b.words[idx/wordBits])&(1<<(idx%wordBits)) != 0
}

// MarkRangeAllocated sets count pages starting at start. Pages at or past
// Total() are ignored.
func (b *Bitmap) MarkRangeAllocated(start, count uint64) {
	for idx := start; idx < start+count && idx < b.total; idx++ {
		mask := uint64(1) << (idx % wordBits)
		if old := atomic.OrUint64(&b.words[idx/wordBits], mask); old&mask == 0 {
			b.allocated.Add(1)
		}
	}
}

// MarkRangeFree clears count pages starting at start. Pages at or past
// Total() are ignored.
func (b *Bitmap) MarkRangeFree(start, count uint64) {
	for idx := start; idx < start+count && idx < b.total; idx++ {
		mask := uint64(1) << (idx % wordBits)
		if old := atomic.AndUint64(&b.words[idx/wordBits], ^mask); old&mask != 0 {
			b.allocated.Add(^uint64(0))
		}
	}
}

// MarkAllAllocated sets every tracked page. Bits past Total() in the last
// word stay clear so CountSet matches the counter.
func (b *Bitmap) MarkAllAllocated() {
	full := b.total / wordBits
	for i := uint64(0); i < full; i++ {
		atomic.StoreUint64(&b.words[i], ^uint64(0))
	}
	if rem := b.total % wordBits; rem != 0 {
		atomic.StoreUint64(&b.words[full], (uint64(1)<<rem)-1)
	}
	b.allocated.Store(b.total)
}

// CountSet recounts allocated pages from the words. It is O(words) and
// meant for verification, not statistics.
func (b *Bitmap) CountSet() uint64 {
	var n int
	for i := range b.words {
		n += bits.OnesCount64(atomic.LoadUint64(&b.words[i]))
	}
	return uint64(n)
}
