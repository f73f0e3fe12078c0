package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kblock",
	Short: "kblock - website blocking and time-quota engine",
	Long: `kblock decides which pages a browser may show. It matches URLs against
block sets, tracks time spent per set against quotas, and runs the lockdown
and override flows. The browser extension talks to "kblock serve" over native
messaging; the other commands inspect and control the same state.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: search /etc/kblock and .)")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
