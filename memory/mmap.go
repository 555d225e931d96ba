package memory

import "fmt"

// RegionType tags a memory map entry. Values match the Multiboot type field.
type RegionType uint32

const (
	RegionAvailable       RegionType = 1
	RegionReserved        RegionType = 2
	RegionACPIReclaimable RegionType = 3
	RegionNVS             RegionType = 4
	RegionBadRAM          RegionType = 5
)

func (t RegionType) String() string {
	switch t {
	case RegionAvailable:
		return "available"
	case RegionReserved:
		return "reserved"
	case RegionACPIReclaimable:
		return "acpi-reclaimable"
	case RegionNVS:
		return "nvs"
	case RegionBadRAM:
		return "bad-ram"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(t))
	}
}

// ParseRegionType is the inverse of RegionType.String.
func ParseRegionType(s string) (RegionType, error) {
	switch s {
	case "available":
		return RegionAvailable, nil
	case "reserved":
		return RegionReserved, nil
	case "acpi-reclaimable", "acpi":
		return RegionACPIReclaimable, nil
	case "nvs":
		return RegionNVS, nil
	case "bad-ram", "bad":
		return RegionBadRAM, nil
	default:
		return 0, fmt.Errorf("memory: unknown region type %q", s)
	}
}

// MemoryMapEntry describes one region reported by the bootloader.
type MemoryMapEntry struct {
	Start  PhysAddr
	Length uint64
	Type   RegionType
}

// End returns the exclusive end address of the region.
func (e MemoryMapEntry) End() PhysAddr {
	return e.Start.Add(e.Length)
}

// Available reports whether the region may be handed to an allocator.
func (e MemoryMapEntry) Available() bool {
	return e.Type == RegionAvailable
}

// PageRange returns the page-aligned part of the region: start rounded up,
// end rounded down. ok is false when no whole page remains.
func (e MemoryMapEntry) PageRange() (start, end PhysAddr, ok bool) {
	start = e.Start.AlignUp(PageSize)
	end = e.End().AlignDown(PageSize)
	if start >= end {
		return 0, 0, false
	}
	return start, end, true
}

func (e MemoryMapEntry) String() string {
	return fmt.Sprintf("[%s - %s) %s", e.Start, e.End(), e.Type)
}

// LargestAvailable returns the index of the longest available entry.
// Ties keep the first entry. ok is false when no entry is available.
func LargestAvailable(entries []MemoryMapEntry) (idx int, ok bool) {
	idx = -1
	for i, e := range entries {
		if !e.Available() || e.Length == 0 {
			continue
		}
		if idx < 0 || e.Length > entries[idx].Length {
			idx = i
		}
	}
	return idx, idx >= 0
}

// AvailableBytes sums the length of every available entry.
func AvailableBytes(entries []MemoryMapEntry) uint64 {
	var total uint64
	for _, e := range entries {
		if e.Available() {
			total += e.Length
		}
	}
	return total
}
