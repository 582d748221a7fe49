// Package cmd provides the command-line interface of clocksim.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// NewRootCmd creates the clocksim command and its subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "clocksim",
		Short: "clocksim runs clocked models described by topology files.",
		Long: `clocksim builds the clock domains, threads and models described ` +
			`by a YAML topology file, runs them and reports what happened.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newReportCmd())

	return rootCmd
}

// Execute runs the command line. Registered exit handlers run on every exit
// path.
func Execute() {
	err := NewRootCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
