package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mathias-mrsn/kfs-1/memory"
)

var (
	simAlloc []uint
	simFree  bool
	simFloor string
)

func init() {
	cmd := newSimulateCmd()
	cmd.Flags().UintSliceVar(&simAlloc, "alloc", nil, "Page counts to allocate, in order")
	cmd.Flags().BoolVar(&simFree, "free", false, "Free every allocation again, newest first")
	cmd.Flags().StringVar(&simFloor, "floor", "", "Lowest managed address (default 1M)")
	rootCmd.AddCommand(cmd)
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate <dump>",
		Short: "Run a sequence of page allocations against a dump",
		Long: `The simulate command boots the memory manager from a dump, performs the
requested allocations and optional frees, prints each address, and checks
every allocator invariant afterwards. Counts that are not a power of two
are rounded up.

Example:
  kfsctl simulate qemu.mmap --alloc 1,1,4,3
  kfsctl simulate qemu.mmap --alloc 2048,2048 --free -v`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(args)
		},
	}
	return cmd
}

type allocation struct {
	addr  memory.PhysAddr
	count uint64
}

func runSimulate(args []string) error {
	ctx, closeLog, err := bootFromDump(args[0], simFloor)
	if err != nil {
		return err
	}
	defer closeLog()

	p := ctx.Memory()
	var live []allocation
	var addrs []string
	var failed int

	for _, n := range simAlloc {
		count := uint64(n)
		addr, err := p.AllocatePages(count)
		switch {
		case errors.Is(err, memory.ErrOutOfMemory), errors.Is(err, memory.ErrInvalidSize):
			failed++
			addrs = append(addrs, "-")
			if !jsonOut {
				printInfo("alloc %5d pages: %v\n", count, err)
			}
			continue
		case err != nil:
			return err
		}
		live = append(live, allocation{addr, count})
		addrs = append(addrs, addr.String())
		if !jsonOut {
			printInfo("alloc %5d pages: %s\n", count, addr)
		}
	}

	if simFree {
		for i := len(live) - 1; i >= 0; i-- {
			p.FreePages(live[i].addr, live[i].count)
			if !jsonOut {
				printInfo("free  %5d pages: %s\n", live[i].count, live[i].addr)
			}
		}
	}

	if err := p.Verify(); err != nil {
		return fmt.Errorf("allocator invariants violated: %w", err)
	}

	ctx.Logger().Info("simulation finished",
		"allocations", len(simAlloc),
		"failed", failed,
		"freed", simFree)

	r := report(ctx)
	r.Addresses = addrs
	if jsonOut {
		return printJSON(r)
	}
	printInfo("\n")
	printReport(r)
	if failed > 0 {
		printInfo("%d allocation(s) failed\n", failed)
	}
	return nil
}
