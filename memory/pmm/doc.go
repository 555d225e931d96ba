// Package pmm is the kernel's physical memory manager.
//
// An Allocator is built once from the firmware memory map by Init and then
// handed to other subsystems as a PageAllocator. Requests are in pages and
// are rounded up to a power of two:
//
//	p := pmm.New(pmm.WithLogger(log))
//	if err := p.Init(entries); err != nil {
//	    return err
//	}
//	addr, err := p.AllocatePages(3) // four pages, aligned to 16 KiB
//	...
//	p.FreePages(addr, 3)
//
// Every method takes the allocator's lock, so an Allocator may be shared
// between goroutines.
package pmm
