package main

import (
	"github.com/spf13/cobra"

	"github.com/utlibraries/crate/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "crate",
	Short: "Batch-completion orchestrator for AI-assisted media cataloging",
	Long: `Crate drives large AI-completion workloads through the OpenAI Batch API
at half the per-token price of interactive calls.

It packs requests into size-bounded JSONL chunks, submits each chunk as a
remote batch job, waits out the completion window, and reassembles the
results in the original request order. Submitted jobs are tracked in a
local registry so an interrupted run can be reattached later:

  - Submission planning with cost estimates before upload
  - Crash-safe job registry under ~/.crate
  - Recovery commands for listing, resuming, and cleaning up jobs
  - Per-run usage and spend reporting`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.crate/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "crate home directory (default: ~/.crate)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		setOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
