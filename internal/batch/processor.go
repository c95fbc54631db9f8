package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/utlibraries/crate/internal/pricing"
	"github.com/utlibraries/crate/internal/usage"
)

// Config tunes the orchestrator. Zero values take package defaults.
type Config struct {
	// MaxPayloadBytes bounds each uploaded chunk.
	MaxPayloadBytes int
	// Threshold is the workload size above which ShouldBatch says yes.
	Threshold int
	// Upload configures the retry policy for chunk uploads.
	Upload UploadConfig
	// PollInterval is the status-check cadence for a single job.
	PollInterval time.Duration
	// SharedInterval is the cadence when several jobs poll at once.
	SharedInterval time.Duration
	// ProgressEvery is how often a human-readable progress line is logged.
	ProgressEvery time.Duration
	// MaxWait bounds the total wait for any one job.
	MaxWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxPayloadBytes <= 0 {
		c.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	c.Upload = c.Upload.withDefaults()
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SharedInterval <= 0 {
		c.SharedInterval = DefaultSharedInterval
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = DefaultProgressEvery
	}
	if c.MaxWait <= 0 {
		c.MaxWait = DefaultMaxWait
	}
	return c
}

// Processor orchestrates batch submissions end to end: plan chunks,
// upload them, create remote jobs, persist them, poll to completion, and
// demultiplex the results. It is the package's entry point.
type Processor struct {
	svc      Service
	store    Store
	up       *uploader
	poll     *poller
	cfg      Config
	usageLog *usage.Log
	logger   *slog.Logger
}

// NewProcessor wires a processor. usageLog may be nil to skip usage
// accounting; logger may be nil for the default logger.
func NewProcessor(svc Service, store Store, usageLog *usage.Log, cfg Config, logger *slog.Logger) *Processor {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		svc:      svc,
		store:    store,
		up:       newUploader(svc, cfg.Upload, logger),
		poll:     &poller{svc: svc, logger: logger},
		cfg:      cfg,
		usageLog: usageLog,
		logger:   logger,
	}
}

// SubmitOptions shape one submission.
type SubmitOptions struct {
	// Description labels the submission in the registry, the remote
	// job's metadata, and logs.
	Description string
	// Prefix seeds correlation ids. Empty falls back to DefaultPrefix.
	Prefix string
	// Step names the pipeline step for usage accounting.
	Step string
	// Model fills in requests that do not name one.
	Model string
	// MaxTokens fills in requests that leave theirs zero.
	MaxTokens int
	// Temperature fills in requests that leave theirs unset.
	Temperature *float64
	// MaxBytes overrides the configured chunk budget for this
	// submission only.
	MaxBytes int
}

// ChunkFailure identifies one chunk that produced no results.
type ChunkFailure struct {
	ChunkNum     int    `json:"chunk_num"` // 1-based
	JobID        string `json:"job_id,omitempty"`
	RequestCount int    `json:"request_count"`
	Reason       string `json:"reason"`
}

// Summary aggregates a submission for reporting.
type Summary struct {
	Submitted        int
	Succeeded        int
	Failed           int
	Missing          int // ids the remote never answered
	Unattributable   int // result lines that matched no submitted id
	PromptTokens     int
	CompletionTokens int
	FailedChunks     []ChunkFailure
	Elapsed          time.Duration
}

// Outcome is everything one submission produced. Results holds exactly
// one record per submitted item, except items from chunks listed in
// Summary.FailedChunks, which are absent entirely.
type Outcome struct {
	JobIDs  []string                // submitted jobs, chunk order
	Results map[string]ResultRecord // keyed by correlation id
	Order   []string                // correlation ids in original input order
	Summary Summary
}

// Submit runs a full batch round trip and blocks until every chunk's job
// reaches a terminal state or the wait budget runs out. Item order in
// Order matches the input regardless of which chunk finished first. If
// some chunks fail and others succeed, the successful results are
// returned and the failures reported in the summary; only when no chunk
// produces results does Submit return an error.
func (p *Processor) Submit(ctx context.Context, reqs []Request, opts SubmitOptions) (*Outcome, error) {
	start := time.Now()

	if len(reqs) == 0 {
		return &Outcome{Results: map[string]ResultRecord{}}, nil
	}

	items := make([]Request, len(reqs))
	copy(items, reqs)
	for i := range items {
		if items[i].Model == "" {
			items[i].Model = opts.Model
		}
		if items[i].MaxTokens == 0 && opts.MaxTokens > 0 {
			items[i].MaxTokens = opts.MaxTokens
		}
		if items[i].Temperature == nil && opts.Temperature != nil {
			items[i].Temperature = opts.Temperature
		}
	}
	model := items[0].Model

	cor := NewCorrelator(opts.Prefix)
	envelopes, err := buildEnvelopes(items, cor)
	if err != nil {
		return nil, err
	}

	est := EstimateCost(items, model)
	p.logger.Info("estimated cost (heuristic)",
		"model", model,
		"regular_usd", est.RegularCost,
		"batch_usd", est.BatchCost,
		"savings_usd", est.Savings)

	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = p.cfg.MaxPayloadBytes
	}
	chunks, err := Plan(envelopes, maxBytes)
	if err != nil {
		return nil, err
	}
	for i := range chunks {
		if chunks[i].Size > maxBytes {
			p.logger.Warn("single request exceeds the chunk budget, submitting it alone",
				"chunk", chunks[i].Index+1, "bytes", chunks[i].Size, "budget", maxBytes)
		}
	}
	p.logger.Info("submission planned",
		"description", opts.Description,
		"requests", len(items),
		"chunks", len(chunks),
		"budget_bytes", maxBytes)

	pending, failures := p.submitChunks(ctx, chunks, opts.Description)
	outcomes := p.awaitChunks(ctx, pending, cor.Meta)

	out := &Outcome{Results: make(map[string]ResultRecord, len(items))}
	out.Summary.Submitted = len(items)
	out.Summary.FailedChunks = failures

	var firstErr error
	completed := 0
	for _, oc := range outcomes {
		out.JobIDs = append(out.JobIDs, oc.jobID)
		if oc.err != nil {
			if firstErr == nil {
				firstErr = oc.err
			}
			out.Summary.FailedChunks = append(out.Summary.FailedChunks, ChunkFailure{
				ChunkNum:     oc.chunk.Index + 1,
				JobID:        oc.jobID,
				RequestCount: oc.chunk.Count(),
				Reason:       oc.err.Error(),
			})
			continue
		}
		completed++
		for id, rec := range oc.result.records {
			out.Results[id] = rec
		}
		out.Order = append(out.Order, oc.result.order...)
		s := oc.result.stats
		out.Summary.Succeeded += s.Succeeded
		out.Summary.Failed += s.Failed
		out.Summary.Missing += s.Missing
		out.Summary.Unattributable += s.Unattributable
		out.Summary.PromptTokens += s.PromptTokens
		out.Summary.CompletionTokens += s.CompletionTokens
	}
	sort.Slice(out.Summary.FailedChunks, func(i, j int) bool {
		return out.Summary.FailedChunks[i].ChunkNum < out.Summary.FailedChunks[j].ChunkNum
	})
	out.Summary.Elapsed = time.Since(start)

	if completed == 0 {
		if firstErr == nil && len(failures) > 0 {
			firstErr = fmt.Errorf("chunk %d: %s", failures[0].ChunkNum, failures[0].Reason)
		}
		return nil, fmt.Errorf("batch submission produced no results: %w", firstErr)
	}

	p.recordUsage(model, opts, out.Summary)
	p.logger.Info("batch submission finished",
		"requests", out.Summary.Submitted,
		"succeeded", out.Summary.Succeeded,
		"failed", out.Summary.Failed,
		"failed_chunks", len(out.Summary.FailedChunks),
		"elapsed", out.Summary.Elapsed)

	return out, nil
}

// recordUsage appends a usage report. Failures are logged, never fatal.
func (p *Processor) recordUsage(model string, opts SubmitOptions, s Summary) {
	if p.usageLog == nil {
		return
	}
	rep := usage.Report{
		Timestamp:        time.Now().UTC(),
		Step:             opts.Step,
		Description:      opts.Description,
		Model:            model,
		TotalItems:       s.Submitted,
		FailedItems:      s.Submitted - s.Succeeded,
		PromptTokens:     s.PromptTokens,
		CompletionTokens: s.CompletionTokens,
		ElapsedSeconds:   s.Elapsed.Seconds(),
		Cost:             pricing.BatchCost(model, s.PromptTokens, s.CompletionTokens, 0),
		BatchDiscounted:  true,
	}
	if err := p.usageLog.Append(rep); err != nil {
		p.logger.Warn("failed to append usage report", "error", err)
	}
}

// Resume reattaches to a previously submitted job by id and waits for it
// the same way Submit would have. The job must still have a registry
// entry; results come back in the order the remote reported them, since
// the original correlation registry no longer exists. Zero values in cfg
// take the processor's configured cadence.
func (p *Processor) Resume(ctx context.Context, jobID string, cfg PollConfig) (*Outcome, error) {
	start := time.Now()

	entries, err := p.store.Load()
	if err != nil {
		return nil, err
	}
	entry, ok := entries[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrUnknownJob)
	}

	if cfg.Interval <= 0 {
		cfg.Interval = p.cfg.PollInterval
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = p.cfg.ProgressEvery
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = p.cfg.MaxWait
	}

	p.logger.Info("resuming job",
		"job_id", jobID,
		"description", entry.Description,
		"requests", entry.RequestCount,
		"submitted_at", entry.CreatedAt)

	oc := p.awaitJob(ctx, pendingJob{jobID: jobID}, cfg, nil)
	if oc.err != nil {
		return nil, oc.err
	}

	if entry.RequestCount > 0 && len(oc.result.order) != entry.RequestCount {
		p.logger.Warn("result count differs from the submission record",
			"job_id", jobID,
			"expected", entry.RequestCount,
			"got", len(oc.result.order))
	}

	s := oc.result.stats
	return &Outcome{
		JobIDs:  []string{jobID},
		Results: oc.result.records,
		Order:   oc.result.order,
		Summary: Summary{
			Submitted:        entry.RequestCount,
			Succeeded:        s.Succeeded,
			Failed:           s.Failed,
			Missing:          s.Missing,
			Unattributable:   s.Unattributable,
			PromptTokens:     s.PromptTokens,
			CompletionTokens: s.CompletionTokens,
			Elapsed:          time.Since(start),
		},
	}, nil
}

// JobSummary pairs a registry entry with the job's live remote status.
type JobSummary struct {
	JobID       string        `json:"job_id"`
	Tracked     bool          `json:"tracked"`
	Entry       Entry         `json:"entry"`
	Status      JobStatus     `json:"status,omitempty"`
	Counts      RequestCounts `json:"request_counts"`
	StatusError string        `json:"status_error,omitempty"`
}

// statusFanOut bounds concurrent status lookups in ListActive.
const statusFanOut = 8

// ListActive enumerates the registry and enriches each entry with the
// remote job's current status. A status lookup that fails marks only
// that entry; the listing itself still succeeds.
func (p *Processor) ListActive(ctx context.Context) ([]JobSummary, error) {
	active, err := p.store.ListActive()
	if err != nil {
		return nil, err
	}

	sums := make([]JobSummary, len(active))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(statusFanOut)
	for i, aj := range active {
		sums[i] = JobSummary{JobID: aj.JobID, Tracked: true, Entry: aj.Entry}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			info, err := p.svc.RetrieveJob(ctx, aj.JobID)
			if err != nil {
				sums[i].StatusError = err.Error()
				return nil
			}
			sums[i].Status = info.Status
			sums[i].Counts = info.Counts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sums, nil
}

// Status fetches one job's live status. Tracked reports whether the
// local registry still has an entry for it; untracked jobs can still be
// inspected as long as the remote side remembers them.
func (p *Processor) Status(ctx context.Context, jobID string) (JobSummary, error) {
	sum := JobSummary{JobID: jobID}

	entries, err := p.store.Load()
	if err != nil {
		return sum, err
	}
	if e, ok := entries[jobID]; ok {
		sum.Tracked = true
		sum.Entry = e
	}

	info, err := p.svc.RetrieveJob(ctx, jobID)
	if err != nil {
		return sum, err
	}
	sum.Status = info.Status
	sum.Counts = info.Counts
	return sum, nil
}

// CleanupTerminal removes registry entries whose remote jobs have
// reached a terminal state. Entries whose status could not be determined
// are left alone. Calling it again right away removes nothing.
func (p *Processor) CleanupTerminal(ctx context.Context) ([]string, error) {
	sums, err := p.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, s := range sums {
		if s.StatusError != "" || !s.Status.Terminal() {
			continue
		}
		if err := p.store.Remove(s.JobID); err != nil {
			return removed, fmt.Errorf("removing job %s: %w", s.JobID, err)
		}
		p.logger.Info("removed terminal job from registry",
			"job_id", s.JobID, "status", s.Status)
		removed = append(removed, s.JobID)
	}
	return removed, nil
}

// ShouldBatch reports whether a workload of n items should go through
// the batch channel rather than per-request calls. A non-nil override
// wins; otherwise the environment toggle, then the size threshold.
func (p *Processor) ShouldBatch(n int, override *bool) bool {
	return Decide(n, override, p.cfg.Threshold)
}

// EstimateSubmission previews a workload's cost at regular and batch
// rates. The numbers are a planning heuristic, not an exact accounting.
func (p *Processor) EstimateSubmission(reqs []Request, model string) pricing.Estimate {
	return EstimateCost(reqs, model)
}
