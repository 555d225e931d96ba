package buddy

import "github.com/mathias-mrsn/kfs-1/memory"

// nilNode marks the end of a list. Node 0 is never used so the zero value
// of a link is already "no node".
const nilNode int32 = 0

// freeNode records one free block. Nodes live in the table's arena and are
// linked by index, never by writing into the free memory itself.
type freeNode struct {
	addr memory.PhysAddr
	prev int32
	next int32
}

// FreeListTable holds one list of free blocks per order.
//
// Lists are LIFO: Push puts a block at the head and Pop takes the head.
// A per-order address index makes Contains and Remove O(1), which is what
// buddy lookup during Free needs.
//
// Not thread-safe.
type FreeListTable struct {
	heads  [memory.MaxOrder + 1]int32
	counts [memory.MaxOrder + 1]int
	byAddr [memory.MaxOrder + 1]map[memory.PhysAddr]int32

	// nodes[0] is a sentinel; recycled nodes are chained through next from spare.
	nodes []freeNode
	spare int32
}

// NewFreeListTable returns an empty table.
func NewFreeListTable() *FreeListTable {
	t := &FreeListTable{}
	t.Reset()
	return t
}

// Reset empties every list.
func (t *FreeListTable) Reset() {
	t.nodes = append(t.nodes[:0], freeNode{})
	t.spare = nilNode
	for o := range t.heads {
		t.heads[o] = nilNode
		t.counts[o] = 0
		t.byAddr[o] = make(map[memory.PhysAddr]int32)
	}
}

// Push puts addr at the head of the order list. It returns false, and
// changes nothing, when addr is already on that list.
func (t *FreeListTable) Push(order int, addr memory.PhysAddr) bool {
	if t.Contains(order, addr) {
		return false
	}
	idx := t.newNode()
	t.nodes[idx] = freeNode{addr: addr, next: t.heads[order]}
	if head := t.heads[order]; head != nilNode {
		t.nodes[head].prev = idx
	}
	t.heads[order] = idx
	t.counts[order]++
	t.byAddr[order][addr] = idx
	return true
}

// Pop removes and returns the head of the order list.
func (t *FreeListTable) Pop(order int) (memory.PhysAddr, bool) {
	head := t.heads[order]
	if head == nilNode {
		return 0, false
	}
	addr := t.nodes[head].addr
	t.unlink(order, head)
	return addr, true
}

// Remove unlinks addr from the order list, wherever it sits.
// It reports whether addr was present.
func (t *FreeListTable) Remove(order int, addr memory.PhysAddr) bool {
	idx, ok := t.byAddr[order][addr]
	if !ok {
		return false
	}
	t.unlink(order, idx)
	return true
}

// Contains reports whether addr is on the order list.
func (t *FreeListTable) Contains(order int, addr memory.PhysAddr) bool {
	_, ok := t.byAddr[order][addr]
	return ok
}

// Len returns the number of blocks on the order list.
func (t *FreeListTable) Len(order int) int {
	return t.counts[order]
}

// Empty reports whether the order list has no blocks.
func (t *FreeListTable) Empty(order int) bool {
	return t.heads[order] == nilNode
}

// Blocks returns the order list from head to tail.
func (t *FreeListTable) Blocks(order int) []memory.PhysAddr {
	out := make([]memory.PhysAddr, 0, t.counts[order])
	for idx := t.heads[order]; idx != nilNode; idx = t.nodes[idx].next {
		out = append(out, t.nodes[idx].addr)
	}
	return out
}

func (t *FreeListTable) unlink(order int, idx int32) {
	n := t.nodes[idx]
	if n.prev != nilNode {
		t.nodes[n.prev].next = n.next
	} else {
		t.heads[order] = n.next
	}
	if n.next != nilNode {
		t.nodes[n.next].prev = n.prev
	}
	delete(t.byAddr[order], n.addr)
	t.counts[order]--
	t.releaseNode(idx)
}

func (t *FreeListTable) newNode() int32 {
	if t.spare != nilNode {
		idx := t.spare
		t.spare = t.nodes[idx].next
		return idx
	}
	t.nodes = append(t.nodes, freeNode{})
	return int32(len(t.nodes) - 1)
}

func (t *FreeListTable) releaseNode(idx int32) {
	t.nodes[idx] = freeNode{next: t.spare}
	t.spare = idx
}
