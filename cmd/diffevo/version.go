package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "diffevo version %s (%s, %d CPUs)\n", version, runtime.Version(), runtime.NumCPU())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
