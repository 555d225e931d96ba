package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// version is set with -ldflags "-X main.version=...". Without it the module
// version recorded by the go tool is reported.
var version = "dev"

// buildVersion returns the version and VCS details of the running binary.
func buildVersion() (ver, revision, goVersion string) {
	ver, revision = version, "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ver, revision, "unknown"
	}
	if ver == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		ver = info.Main.Version
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			revision = s.Value
		}
	}
	return ver, revision, info.GoVersion
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		ver, revision, goVersion := buildVersion()
		fmt.Printf("kfsctl %s\n", ver)
		fmt.Printf("  commit: %s\n", revision)
		fmt.Printf("  go: %s\n", goVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
