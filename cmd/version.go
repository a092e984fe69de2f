package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version and commit are set at build time via ldflags.
var (
	version = "dev"
	commit  = "none"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of priorart",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("priorart %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
