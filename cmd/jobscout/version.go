package main

import (
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
)

// version is set with -ldflags "-X main.version=..." on release builds.
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version, commit and toolchain",
	Run: func(cmd *cobra.Command, args []string) {
		info, _ := debug.ReadBuildInfo()
		fmt.Fprintln(cmd.OutOrStdout(), versionString(version, info))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// versionString renders the release version with whatever the binary's
// build info adds: the module version for `go install` builds and the VCS
// revision for checkouts.
func versionString(v string, info *debug.BuildInfo) string {
	if info == nil {
		return "jobscout " + v
	}
	if v == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		v = info.Main.Version
	}

	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "jobscout %s", v)
	if revision != "" {
		if len(revision) > 12 {
			revision = revision[:12]
		}
		fmt.Fprintf(&b, " (%s", revision)
		if dirty {
			b.WriteString(", modified")
		}
		b.WriteString(")")
	}
	if info.GoVersion != "" {
		fmt.Fprintf(&b, " %s", info.GoVersion)
	}
	return b.String()
}
