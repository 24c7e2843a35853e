package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/opsdeckhq/opsdeck/version"
)

// VersionCmd prints version information.
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("opsdeck %s (%s/%s)\n", version.Version, runtime.GOOS, runtime.GOARCH)
	},
}
