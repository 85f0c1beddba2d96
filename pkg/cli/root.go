// Package cli implements the interceptd command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// controlURL is where operator commands find the control server.
	controlURL string
	jsonOutput bool

	// Version is injected during build.
	Version = "dev"
	// Commit is injected during build.
	Commit = "none"
	// BuildDate is injected during build.
	BuildDate = "unknown"
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "interceptd",
	Short: "interceptd pauses, inspects and rewrites HTTP traffic",
	Long: `interceptd captures HTTP transactions from an embedded transport or a
forward proxy, and lets an operator pause them for inspection, rewrite
responses on resume, or answer them automatically from mock rules.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&controlURL, "control-url", "http://127.0.0.1:9999", "Control server base URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output command results in JSON format")
}
