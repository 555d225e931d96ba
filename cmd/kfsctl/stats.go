package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mathias-mrsn/kfs-1/kernel"
	"github.com/mathias-mrsn/kfs-1/memory"
	"github.com/mathias-mrsn/kfs-1/memory/pmm"
)

var statsFloor string

func init() {
	cmd := newStatsCmd()
	cmd.Flags().StringVar(&statsFloor, "floor", "", "Lowest managed address (default 1M)")
	rootCmd.AddCommand(cmd)
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <dump>",
		Short: "Boot the memory manager and show page statistics",
		Long: `The stats command initializes the physical memory manager from a dump
and reports managed bounds, the bitmap reservation, page counts and the
free blocks available at each order.

Example:
  kfsctl stats qemu.mmap
  kfsctl stats qemu.mmap --floor 0 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(args)
		},
	}
	return cmd
}

// Report is the state of a booted memory manager.
type Report struct {
	Regions        int         `json:"regions"`
	AvailableBytes uint64      `json:"available_bytes"`
	Start          string      `json:"start"`
	End            string      `json:"end"`
	BitmapStart    string      `json:"bitmap_start"`
	BitmapEnd      string      `json:"bitmap_end"`
	Pages          pmm.Stats   `json:"pages"`
	FreeBlocks     map[int]int `json:"free_blocks"`
	Addresses      []string    `json:"addresses,omitempty"`
}

func bootFromDump(path, floor string) (*kernel.Context, func() error, error) {
	entries, err := loadMap(path)
	if err != nil {
		return nil, nil, err
	}
	log, closeLog, err := newLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	cfg := kernel.Config{Entries: entries, Logger: log}
	if floor != "" {
		n, err := parseSize(floor)
		if err != nil {
			closeLog()
			return nil, nil, fmt.Errorf("bad --floor: %w", err)
		}
		cfg.MemoryOptions = append(cfg.MemoryOptions, pmm.WithLowMemoryFloor(memory.PhysAddr(n)))
	}

	ctx, err := kernel.Boot(cfg)
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	return ctx, closeLog, nil
}

func report(ctx *kernel.Context) Report {
	p := ctx.Memory()
	start, end := p.Bounds()
	cs, ce := p.BitmapRange()
	stats, _ := p.MemoryStats()

	r := Report{
		Regions:        len(ctx.MemoryMap()),
		AvailableBytes: memory.AvailableBytes(ctx.MemoryMap()),
		Start:          start.String(),
		End:            end.String(),
		BitmapStart:    cs.String(),
		BitmapEnd:      ce.String(),
		Pages:          stats,
		FreeBlocks:     make(map[int]int),
	}
	for order := 0; order <= memory.MaxOrder; order++ {
		if n := len(p.FreeBlocks(order)); n > 0 {
			r.FreeBlocks[order] = n
		}
	}
	return r
}

func printReport(r Report) {
	printInfo("Firmware:  %d regions, %s available\n", r.Regions, formatBytes(r.AvailableBytes))
	printInfo("Managed:   [%s, %s)\n", r.Start, r.End)
	printInfo("Bitmap:    [%s, %s)\n", r.BitmapStart, r.BitmapEnd)
	printInfo("Pages:     %s total, %s allocated, %s free\n",
		numbers.Sprintf("%d", r.Pages.Total),
		numbers.Sprintf("%d", r.Pages.Allocated),
		numbers.Sprintf("%d", r.Pages.Free))
	printInfo("Free:      %s\n", formatBytes(r.Pages.Free*memory.PageSize))
	printInfo("Free blocks by order:\n")
	for order := 0; order <= memory.MaxOrder; order++ {
		if n, ok := r.FreeBlocks[order]; ok {
			printInfo("  order %2d (%8s): %s\n", order, formatBytes(memory.OrderToSize(order)), numbers.Sprintf("%d", n))
		}
	}
}

func runStats(args []string) error {
	ctx, closeLog, err := bootFromDump(args[0], statsFloor)
	if err != nil {
		return err
	}
	defer closeLog()

	r := report(ctx)
	if jsonOut {
		return printJSON(r)
	}
	printReport(r)
	return nil
}
