package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/circulum/pkg/config"
)

// Stamped with -ldflags at release time.
var (
	Commit    = "none"
	BuildDate = "unknown"
)

var shortVersion bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		if shortVersion {
			fmt.Fprintln(out, config.Version)
			return
		}
		if JSONOutput() {
			_ = PrintJSON(out, map[string]string{
				"version":    config.Version,
				"commit":     Commit,
				"build_date": BuildDate,
				"go":         runtime.Version(),
			})
			return
		}
		fmt.Fprintf(out, "circulum %s (%s, built %s, %s)\n", config.Version, Commit, BuildDate, runtime.Version())
	},
}

func init() {
	versionCmd.Flags().BoolVar(&shortVersion, "short", false, "print only the version")
	rootCmd.AddCommand(versionCmd)
}
