package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultPollInterval is the single-job status check cadence.
	DefaultPollInterval = 60 * time.Second

	// DefaultSharedInterval is the per-job cadence when several chunks
	// are outstanding at once.
	DefaultSharedInterval = 30 * time.Second

	// DefaultProgressEvery spaces the human-readable progress lines.
	DefaultProgressEvery = 5 * time.Minute

	// DefaultMaxWait bounds a wait at the remote completion window.
	DefaultMaxWait = 24 * time.Hour
)

// PollConfig tunes how a wait loop watches one remote job.
type PollConfig struct {
	Interval      time.Duration // between status checks
	ProgressEvery time.Duration // between progress log lines
	MaxWait       time.Duration // total budget before ErrMaxWaitExceeded
}

func (c PollConfig) withDefaults() PollConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultPollInterval
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = DefaultProgressEvery
	}
	if c.MaxWait <= 0 {
		c.MaxWait = DefaultMaxWait
	}
	return c
}

// poller drives the wait loop for one remote job.
type poller struct {
	svc    Service
	logger *slog.Logger
}

// wait blocks until the job reaches a terminal state and returns the
// terminal snapshot. Transient status-check failures are logged and
// retried on the next tick; permanent ones abort the wait. Exceeding the
// wait budget returns ErrMaxWaitExceeded. The caller's context cancels
// the local wait only; the remote job keeps running either way.
func (p *poller) wait(ctx context.Context, jobID string, cfg PollConfig) (JobInfo, error) {
	cfg = cfg.withDefaults()
	deadline := time.Now().Add(cfg.MaxWait)

	var lastProgress time.Time
	for {
		info, err := p.svc.RetrieveJob(ctx, jobID)
		switch {
		case err != nil && ctx.Err() != nil:
			return JobInfo{}, ctx.Err()
		case err != nil && Classify(err) == ClassPermanent:
			return JobInfo{}, fmt.Errorf("status check for %s: %w", jobID, err)
		case err != nil:
			p.logger.Warn("status check failed, retrying next tick",
				"job_id", jobID, "error", err)
		case info.Status.Terminal():
			return info, nil
		default:
			if time.Since(lastProgress) >= cfg.ProgressEvery {
				p.logger.Info("batch job progress",
					"job_id", jobID,
					"status", info.Status,
					"completed", info.Counts.Completed,
					"failed", info.Counts.Failed,
					"total", info.Counts.Total)
				lastProgress = time.Now()
			}
		}

		select {
		case <-ctx.Done():
			return JobInfo{}, ctx.Err()
		case <-time.After(cfg.Interval):
		}

		if time.Now().After(deadline) {
			return JobInfo{}, fmt.Errorf("job %s: %w", jobID, ErrMaxWaitExceeded)
		}
	}
}
