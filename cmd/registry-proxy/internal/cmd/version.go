package cmd

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// ldflags inserts the version here on release
var version string

func Version() string {
	if version != "" {
		return version
	}
	version = "0.0.0-dev"

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		version = info.Main.Version
	}
	for _, s := range info.Settings {
		if version == "0.0.0-dev" && s.Key == "vcs.revision" && len(s.Value) >= 7 {
			version += "+" + s.Value[:7]
		}
	}
	return version
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "registry-proxy version", Version())
		return err
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
