package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "ttm-orch",
		Short: "TTM Orchestrator - experiment lifecycle manager",
		Long: `TTM Orchestrator runs talkingtomachines experiments from Excel templates.
It supervises the engine process, tracks run status in a shared state file,
collects result files into per-run folders, and serves a dashboard API.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
