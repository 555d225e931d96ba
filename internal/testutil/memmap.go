// Package testutil holds memory-map fixtures shared by tests and the
// kfsctl gen presets.
package testutil

import "github.com/mathias-mrsn/kfs-1/memory"

// Available returns an available entry covering [start, end).
func Available(start, end memory.PhysAddr) memory.MemoryMapEntry {
	return memory.MemoryMapEntry{Start: start, Length: uint64(end - start), Type: memory.RegionAvailable}
}

// Reserved returns a reserved entry covering [start, end).
func Reserved(start, end memory.PhysAddr) memory.MemoryMapEntry {
	return memory.MemoryMapEntry{Start: start, Length: uint64(end - start), Type: memory.RegionReserved}
}

// QEMU returns the map QEMU reports for a guest with mib MiB of RAM
// (mib >= 2): conventional memory, the EBDA and BIOS ROM, extended memory
// up to the last 128 KiB, and the flash window below 4 GiB.
//
// Example:
//
//	QEMU(32) =
//	  [0x00000000 - 0x0009fc00) available
//	  [0x0009fc00 - 0x000a0000) reserved
//	  [0x000f0000 - 0x00100000) reserved
//	  [0x00100000 - 0x01fe0000) available
//	  [0x01fe0000 - 0x02000000) reserved
//	  [0xfffc0000 - 0x100000000) reserved
func QEMU(mib uint64) []memory.MemoryMapEntry {
	top := memory.PhysAddr(mib * memory.MiB)
	return []memory.MemoryMapEntry{
		Available(0x0, 0x9fc00),
		Reserved(0x9fc00, 0xa0000),
		Reserved(0xf0000, 0x100000),
		Available(0x100000, top-0x20000),
		Reserved(top-0x20000, top),
		Reserved(0xfffc0000, 0x100000000),
	}
}
