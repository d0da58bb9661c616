package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orizon-lang/mordax/internal/runtime/kernel"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate a board description",
	Long: `The check command loads the board and verifies that it can boot this
kernel: the /mordax node, its interrupt-controller and scheduler-timer
phandles, the memory node and the kernel-version constraint.

Example:
  mordax check --board boards/sim.yaml
  mordax check --board boards/sim.yaml --verbose`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd)
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command) error {
	tree, err := loadBoard()
	if err != nil {
		return err
	}
	if verbose {
		tree.Print(cmd.OutOrStdout())
	}
	if err := kernel.CheckBoard(tree); err != nil {
		return fmt.Errorf("%s cannot boot mordax %s: %w", boardPath, kernel.Version, err)
	}
	model, _ := tree.Root().String("model")
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s can boot mordax %s\n", boardPath, model, kernel.Version)
	return nil
}
