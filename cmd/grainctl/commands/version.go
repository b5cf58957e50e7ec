package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcelha/grain/internal/build"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print grainctl's version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("grainctl version %s go=%s\n", build.Version(), build.GoVersion)
		return nil
	},
}
