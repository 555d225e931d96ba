package main

import (
	"github.com/spf13/cobra"

	"github.com/mathias-mrsn/kfs-1/memory"
)

func init() {
	rootCmd.AddCommand(newMmapCmd())
}

func newMmapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mmap <dump>",
		Short: "Print the regions of a memory-map dump",
		Long: `The mmap command decodes a Multiboot memory-map table and prints each
region the way the kernel logs it at boot.

Example:
  kfsctl mmap qemu.mmap
  kfsctl mmap qemu.mmap --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMmap(args)
		},
	}
	return cmd
}

type regionJSON struct {
	Start  string `json:"start"`
	End    string `json:"end"`
	Length uint64 `json:"length"`
	Type   string `json:"type"`
}

func runMmap(args []string) error {
	entries, err := loadMap(args[0])
	if err != nil {
		return err
	}

	if jsonOut {
		out := make([]regionJSON, 0, len(entries))
		for _, e := range entries {
			out = append(out, regionJSON{
				Start:  e.Start.String(),
				End:    e.End().String(),
				Length: e.Length,
				Type:   e.Type.String(),
			})
		}
		return printJSON(out)
	}

	printInfo("Memory map: %s (%d regions)\n", args[0], len(entries))
	for _, e := range entries {
		printInfo("  %s  %10s  %s\n", e.Start, formatBytes(e.Length), e.Type)
	}
	if idx, ok := memory.LargestAvailable(entries); ok {
		printInfo("Largest available: %s\n", entries[idx])
	}
	printInfo("Available: %s\n", formatBytes(memory.AvailableBytes(entries)))
	return nil
}
