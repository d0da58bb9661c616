package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/orizon-lang/mordax/internal/runtime/console"
	"github.com/orizon-lang/mordax/internal/runtime/dt"
)

var (
	// Global flags
	boardPath string
	verbose   bool
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "mordax",
	Short: "Run the Mordax microkernel on a simulated board",
	Long: `mordax boots the Mordax microkernel on a board described by a YAML
device tree. The kernel runs its scheduler against simulated RAM, an
interrupt controller, a timer and a debug UART.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&boardPath, "board", "b", "boards/sim.yaml", "Board description")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Kernel log level (debug, info, warn, error)")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// level returns the kernel log level. --verbose implies debug.
func level() (slog.Level, error) {
	if verbose {
		return slog.LevelDebug, nil
	}
	return console.ParseLevel(logLevel)
}

func loadBoard() (*dt.Tree, error) {
	tree, err := dt.LoadFile(boardPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load board: %w", err)
	}
	return tree, nil
}

// printVerbose prints a message if verbose mode is enabled
func printVerbose(cmd *cobra.Command, format string, args ...any) {
	if verbose {
		fmt.Fprintf(cmd.OutOrStdout(), format, args...)
	}
}
