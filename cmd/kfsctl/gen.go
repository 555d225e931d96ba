package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mathias-mrsn/kfs-1/internal/multiboot"
	"github.com/mathias-mrsn/kfs-1/internal/testutil"
	"github.com/mathias-mrsn/kfs-1/memory"
)

var (
	genRegions []string
	genPreset  string
)

// presets are memory maps reported by common emulators.
var presets = map[string][]memory.MemoryMapEntry{
	"qemu-128m": testutil.QEMU(128),
	"qemu-32m":  testutil.QEMU(32),
}

func init() {
	cmd := newGenCmd()
	cmd.Flags().StringArrayVar(&genRegions, "region", nil, "Region as start:length:type (repeatable)")
	cmd.Flags().StringVar(&genPreset, "preset", "", "Start from a preset map (qemu-32m, qemu-128m)")
	rootCmd.AddCommand(cmd)
}

func newGenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gen <out>",
		Short: "Write a Multiboot memory-map dump",
		Long: `The gen command writes a memory-map table in the layout a Multiboot
loader passes to the kernel. Numbers accept a 0x prefix and a K, M or G
suffix. Types are available, reserved, acpi, nvs and bad.

Example:
  kfsctl gen qemu.mmap --preset qemu-128m
  kfsctl gen small.mmap --region 0:0x9fc00:available --region 1M:31M:available`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGen(args)
		},
	}
	return cmd
}

func runGen(args []string) error {
	var entries []memory.MemoryMapEntry
	if genPreset != "" {
		preset, ok := presets[genPreset]
		if !ok {
			return fmt.Errorf("unknown preset %q", genPreset)
		}
		entries = append(entries, preset...)
	}
	for _, arg := range genRegions {
		e, err := parseRegion(arg)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		return fmt.Errorf("no regions: use --preset or --region")
	}

	if err := os.WriteFile(args[0], multiboot.Encode(entries), 0o644); err != nil {
		return fmt.Errorf("failed to write dump: %w", err)
	}
	printInfo("Wrote %d regions to %s\n", len(entries), args[0])
	return nil
}

// parseRegion parses start:length:type.
func parseRegion(arg string) (memory.MemoryMapEntry, error) {
	parts := strings.Split(arg, ":")
	if len(parts) != 3 {
		return memory.MemoryMapEntry{}, fmt.Errorf("region %q: want start:length:type", arg)
	}
	start, err := parseSize(parts[0])
	if err != nil {
		return memory.MemoryMapEntry{}, fmt.Errorf("region %q: start: %w", arg, err)
	}
	length, err := parseSize(parts[1])
	if err != nil {
		return memory.MemoryMapEntry{}, fmt.Errorf("region %q: length: %w", arg, err)
	}
	typ, err := memory.ParseRegionType(parts[2])
	if err != nil {
		return memory.MemoryMapEntry{}, fmt.Errorf("region %q: %w", arg, err)
	}
	return memory.MemoryMapEntry{Start: memory.PhysAddr(start), Length: length, Type: typ}, nil
}

// parseSize parses a number with an optional K, M or G suffix.
func parseSize(s string) (uint64, error) {
	mult := uint64(1)
	switch {
	case strings.HasSuffix(s, "K"):
		mult, s = memory.KiB, strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		mult, s = memory.MiB, strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		mult, s = memory.GiB, strings.TrimSuffix(s, "G")
	}
	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, err
	}
	if n > ^uint64(0)/mult {
		return 0, fmt.Errorf("%s times %d overflows 64 bits", s, mult)
	}
	return n * mult, nil
}
