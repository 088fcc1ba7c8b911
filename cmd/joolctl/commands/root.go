// Package commands implements the joolctl CLI commands.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath is the jool-go daemon's YAML configuration file. Every
	// subcommand that reads or mutates instance state operates directly
	// on this file, since jool-go (unlike the teacher daemon) exposes no
	// in-process control-plane RPC: the file IS the control plane.
	configPath string

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string
)

// rootCmd is the top-level cobra command for joolctl.
var rootCmd = &cobra.Command{
	Use:   "joolctl",
	Short: "CLI client for the jool-go translator daemon",
	Long: "joolctl manages a jool-go instance's configuration file (instances, EAM, pool4), " +
		"triggers config reloads via SIGHUP, and polls its Prometheus metrics endpoint.",
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/jool/jool.yml",
		"path to the jool-go daemon's YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(instanceCmd())
	rootCmd.AddCommand(eamCmd())
	rootCmd.AddCommand(pool4Cmd())
	rootCmd.AddCommand(reloadCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
