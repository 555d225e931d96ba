// Package kernel holds the boot context: the objects created once at
// startup and passed by reference to the subsystems that need them.
package kernel

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/mathias-mrsn/kfs-1/internal/logger"
	"github.com/mathias-mrsn/kfs-1/internal/multiboot"
	"github.com/mathias-mrsn/kfs-1/memory"
	"github.com/mathias-mrsn/kfs-1/memory/pmm"
)

// ErrNoMemoryMap is returned when Config carries neither a raw table nor
// decoded entries.
var ErrNoMemoryMap = errors.New("kernel: no memory map")

// Config describes what the boot loader handed over.
type Config struct {
	// MemoryMap is the raw Multiboot mmap table. Ignored when Entries is set.
	MemoryMap []byte

	// Entries is an already decoded memory map.
	Entries []memory.MemoryMapEntry

	// LowMemoryFloor overrides pmm.DefaultLowMemoryFloor when non-zero.
	LowMemoryFloor memory.PhysAddr

	// Logger receives boot and allocator messages. Default: discard.
	Logger *slog.Logger

	// MemoryOptions are applied to the pmm after the fields above.
	MemoryOptions []pmm.Option
}

// Context owns the kernel-lifetime singletons.
type Context struct {
	log     *slog.Logger
	entries []memory.MemoryMapEntry
	pmm     *pmm.Allocator
}

// Boot decodes the memory map, prints it and brings up the physical memory
// manager.
func Boot(cfg Config) (*Context, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.Discard
	}

	entries := cfg.Entries
	if entries == nil {
		if len(cfg.MemoryMap) == 0 {
			return nil, ErrNoMemoryMap
		}
		var err error
		entries, err = multiboot.Parse(cfg.MemoryMap)
		if err != nil {
			return nil, fmt.Errorf("kernel: %w", err)
		}
	}

	log.Info("memory map", "entries", len(entries))
	for _, e := range entries {
		log.Info("region",
			"start", e.Start.String(),
			"end", e.End().String(),
			"type", e.Type.String())
	}

	opts := []pmm.Option{pmm.WithLogger(log)}
	if cfg.LowMemoryFloor != 0 {
		opts = append(opts, pmm.WithLowMemoryFloor(cfg.LowMemoryFloor))
	}
	opts = append(opts, cfg.MemoryOptions...)
	p := pmm.New(opts...)
	if err := p.Init(entries); err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}

	stats, _ := p.MemoryStats()
	log.Info("physical memory",
		"total_mib", stats.Total*memory.PageSize/memory.MiB,
		"free_mib", stats.Free*memory.PageSize/memory.MiB)

	return &Context{log: log, entries: entries, pmm: p}, nil
}

// Pages returns the page allocation capability.
func (c *Context) Pages() pmm.PageAllocator { return c.pmm }

// Memory returns the physical memory manager.
func (c *Context) Memory() *pmm.Allocator { return c.pmm }

// MemoryMap returns the decoded memory map.
func (c *Context) MemoryMap() []memory.MemoryMapEntry { return c.entries }

// Logger returns the boot logger.
func (c *Context) Logger() *slog.Logger { return c.log }
