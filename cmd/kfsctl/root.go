package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/mathias-mrsn/kfs-1/internal/logger"
	"github.com/mathias-mrsn/kfs-1/internal/mmfile"
	"github.com/mathias-mrsn/kfs-1/internal/multiboot"
	"github.com/mathias-mrsn/kfs-1/memory"
)

var (
	// Global flags
	verbose bool
	quiet   bool
	jsonOut bool
	logJSON bool
	logDir  string
)

var rootCmd = &cobra.Command{
	Use:   "kfsctl",
	Short: "Inspect memory maps and exercise the physical memory manager",
	Long: `kfsctl reads Multiboot memory-map tables (the mmap_addr/mmap_length
buffer a boot loader hands the kernel), prints them, and runs the kernel's
buddy allocator over them to show how memory would be managed.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log allocator activity to stderr")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write log records as JSON")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Write logs to a dated file in this directory")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// numbers formats counts with thousands separators.
var numbers = message.NewPrinter(language.English)

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// newLogger builds the logger for a command from the global flags. Without
// --verbose only warnings are shown.
func newLogger() (*slog.Logger, func() error, error) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	return logger.New(logger.Options{
		Enabled: true,
		Level:   level,
		JSON:    logJSON,
		LogDir:  logDir,
	})
}

// loadMap reads and decodes a memory-map dump.
func loadMap(path string) ([]memory.MemoryMapEntry, error) {
	data, cleanup, err := mmfile.Map(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dump: %w", err)
	}
	defer cleanup()

	entries, err := multiboot.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return entries, nil
}

// formatBytes renders a byte count with a binary unit.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
