package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/utlibraries/crate/internal/batch"
	"github.com/utlibraries/crate/internal/config"
	"github.com/utlibraries/crate/internal/home"
	"github.com/utlibraries/crate/internal/usage"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Inspect and recover remote batch jobs",
	Long: `Inspect and recover batch jobs tracked in the local registry.

Every submitted job is recorded in ~/.crate/batch_state.json before the
first status check, so jobs survive crashes and interrupted runs. These
commands read that registry and talk to the remote service.

Examples:
  crate batch list                 # List tracked jobs with live status
  crate batch status <job-id>      # Inspect one job
  crate batch resume <job-id>      # Reattach and download results
  crate batch cleanup              # Drop entries for finished jobs`,
}

var batchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked jobs with their live remote status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		p, _, err := buildProcessor()
		if err != nil {
			return err
		}

		sums, err := p.ListActive(ctx)
		if err != nil {
			return err
		}
		if len(sums) == 0 {
			fmt.Println("No tracked jobs")
			return nil
		}
		return output(sums)
	},
}

var batchStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show one job's registry entry and live remote status",
	Long: `Show one job's registry entry alongside its live remote status.

Jobs no longer in the local registry can still be inspected as long as
the remote side remembers them.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		p, _, err := buildProcessor()
		if err != nil {
			return err
		}

		sum, err := p.Status(ctx, args[0])
		if err != nil {
			return err
		}
		return output(sum)
	},
}

var (
	resumePollInterval time.Duration
	resumeMaxWait      time.Duration
)

// resumeReport is what the resume command prints on success.
type resumeReport struct {
	JobID     string `json:"job_id" yaml:"job_id"`
	Recovered int    `json:"recovered" yaml:"recovered"`
	Failed    int    `json:"failed" yaml:"failed"`
	Missing   int    `json:"missing" yaml:"missing"`
	Results   string `json:"results" yaml:"results"`
}

var batchResumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Reattach to a job and download its results",
	Long: `Reattach to a previously submitted job, wait for it to finish, and
write the recovered results to ~/.crate/results/<job-id>.jsonl.

Use this after an interrupted run. Jobs that already finished return
immediately; jobs still in flight are polled until they reach a terminal
state or the wait budget runs out. Canceling the wait leaves the remote
job running and the registry entry in place, so resume can be retried.

Examples:
  crate batch resume batch_abc123
  crate batch resume batch_abc123 --max-wait 2h --poll-interval 30s`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		jobID := args[0]

		p, h, err := buildProcessor()
		if err != nil {
			return err
		}

		outcome, err := p.Resume(ctx, jobID, batch.PollConfig{
			Interval: resumePollInterval,
			MaxWait:  resumeMaxWait,
		})
		if err != nil {
			return err
		}

		path := h.ResultsPath(jobID)
		if err := writeResults(path, outcome); err != nil {
			return err
		}

		return output(resumeReport{
			JobID:     jobID,
			Recovered: outcome.Summary.Succeeded,
			Failed:    outcome.Summary.Failed,
			Missing:   outcome.Summary.Missing,
			Results:   path,
		})
	},
}

var batchCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove registry entries for jobs that have finished",
	Long: `Remove registry entries whose remote jobs have reached a terminal
state. Jobs still in flight are kept, as are entries whose status could
not be determined.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		p, _, err := buildProcessor()
		if err != nil {
			return err
		}

		removed, err := p.CleanupTerminal(ctx)
		if err != nil {
			return err
		}
		if len(removed) == 0 {
			fmt.Println("Nothing to clean up")
			return nil
		}
		for _, id := range removed {
			fmt.Printf("Removed %s\n", id)
		}
		return nil
	},
}

func init() {
	batchCmd.AddCommand(batchListCmd)
	batchCmd.AddCommand(batchStatusCmd)
	batchCmd.AddCommand(batchResumeCmd)
	batchCmd.AddCommand(batchCleanupCmd)

	batchResumeCmd.Flags().DurationVar(
		&resumePollInterval, "poll-interval", 0, "Status check interval (default from config)",
	)
	batchResumeCmd.Flags().DurationVar(
		&resumeMaxWait, "max-wait", 0, "Total wait budget (default from config)",
	)

	rootCmd.AddCommand(batchCmd)
}

// getHome returns the home directory manager.
func getHome() (*home.Dir, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, fmt.Errorf("failed to create home directory: %w", err)
	}
	return h, nil
}

// buildProcessor assembles the batch processor and its dependencies from
// the loaded config and home directory.
func buildProcessor() (*batch.Processor, *home.Dir, error) {
	h, err := getHome()
	if err != nil {
		return nil, nil, err
	}

	mgr, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	cfg := mgr.Get()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	svc := batch.NewOpenAIService(cfg.ToServiceConfig(), logger)
	store := batch.NewFileStore(h.RegistryPath())
	usageLog := usage.NewLog(h.UsageLogPath())

	return batch.NewProcessor(svc, store, usageLog, cfg.ToBatchConfig(), logger), h, nil
}

// writeResults writes one JSON line per recovered record, in the job's
// original submission order.
func writeResults(path string, outcome *batch.Outcome) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("creating results file: %w", err)
	}

	enc := json.NewEncoder(f)
	for _, id := range outcome.Order {
		rec, ok := outcome.Results[id]
		if !ok {
			continue
		}
		if err := enc.Encode(rec); err != nil {
			f.Close()
			return fmt.Errorf("writing result %s: %w", id, err)
		}
	}
	return f.Close()
}
