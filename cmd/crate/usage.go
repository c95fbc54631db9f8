package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/utlibraries/crate/internal/usage"
)

var usageAll bool

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Summarize recorded API usage and spend",
	Long: `Summarize the usage reports recorded after each batch submission.

Reports live in ~/.crate/usage.jsonl, one JSON line per run. By default
this prints the totals across all runs; --all prints every report.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := getHome()
		if err != nil {
			return err
		}

		log := usage.NewLog(h.UsageLogPath())
		reports, err := log.Read()
		if err != nil {
			return err
		}
		if len(reports) == 0 {
			fmt.Println("No usage recorded")
			return nil
		}

		if usageAll {
			return output(reports)
		}
		return output(usage.Sum(reports))
	},
}

func init() {
	usageCmd.Flags().BoolVar(&usageAll, "all", false, "Print every report instead of totals")
	rootCmd.AddCommand(usageCmd)
}
