package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orizon-lang/mordax/internal/runtime/kernel"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "mordax %s\n", kernel.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
