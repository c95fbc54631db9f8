package batch

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"
)

// errorFilePreviewBytes caps how much of a failed job's error file is
// echoed into the log.
const errorFilePreviewBytes = 4 * 1024

// pendingJob is a chunk whose remote job exists and is being waited on.
type pendingJob struct {
	chunk Chunk
	jobID string
}

// chunkOutcome is one chunk's final disposition after polling.
type chunkOutcome struct {
	chunk  Chunk
	jobID  string
	result demuxResult
	err    error
}

// submitChunks uploads every chunk and creates its remote job before any
// waiting begins, persisting each job to the registry as soon as it
// exists. A chunk that fails to submit is recorded and skipped; the
// remaining chunks still go out.
func (p *Processor) submitChunks(ctx context.Context, chunks []Chunk, description string) ([]pendingJob, []ChunkFailure) {
	total := len(chunks)
	var pending []pendingJob
	var failures []ChunkFailure

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			for _, rest := range chunks[i:] {
				failures = append(failures, ChunkFailure{
					ChunkNum:     rest.Index + 1,
					RequestCount: rest.Count(),
					Reason:       fmt.Sprintf("canceled before submission: %v", err),
				})
			}
			break
		}

		desc := description
		if total > 1 {
			desc = fmt.Sprintf("%s (chunk %d/%d)", description, i+1, total)
		}

		name := fmt.Sprintf("batch_requests_%d_of_%d.jsonl", i+1, total)
		fileID, err := p.up.upload(ctx, name, chunk.Payload())
		if err != nil {
			p.logger.Error("chunk upload failed",
				"chunk", i+1, "total_chunks", total, "error", err)
			failures = append(failures, ChunkFailure{
				ChunkNum:     chunk.Index + 1,
				RequestCount: chunk.Count(),
				Reason:       err.Error(),
			})
			continue
		}

		now := time.Now().UTC()
		jobID, err := p.svc.CreateJob(ctx, fileID, JobMeta{
			Description:  desc,
			CreatedAt:    now,
			RequestCount: chunk.Count(),
		})
		if err != nil {
			p.logger.Error("remote job creation failed",
				"chunk", i+1, "total_chunks", total,
				"input_file_id", fileID, "error", err)
			failures = append(failures, ChunkFailure{
				ChunkNum:     chunk.Index + 1,
				RequestCount: chunk.Count(),
				Reason:       err.Error(),
			})
			continue
		}

		entry := Entry{
			CreatedAt:    now,
			RequestCount: chunk.Count(),
			Description:  desc,
			RemoteFileID: fileID,
		}
		if total > 1 {
			entry.ChunkNum = chunk.Index + 1
			entry.TotalChunks = total
		}
		if err := p.store.Put(jobID, entry); err != nil {
			p.logger.Error("failed to persist registry entry; job will not survive a restart",
				"job_id", jobID, "error", err)
		}

		p.logger.Info("chunk submitted",
			"chunk", i+1, "total_chunks", total,
			"job_id", jobID, "requests", chunk.Count(), "bytes", chunk.Size)

		pending = append(pending, pendingJob{chunk: chunk, jobID: jobID})
	}

	return pending, failures
}

// awaitChunks polls every pending job concurrently until each reaches a
// terminal state, the wait budget runs out, or the caller cancels. A
// failed chunk never interrupts its siblings' waits.
func (p *Processor) awaitChunks(ctx context.Context, pending []pendingJob, metaOf func(string) (any, bool)) []chunkOutcome {
	interval := p.cfg.PollInterval
	if len(pending) > 1 {
		interval = p.cfg.SharedInterval
	}
	cfg := PollConfig{
		Interval:      interval,
		ProgressEvery: p.cfg.ProgressEvery,
		MaxWait:       p.cfg.MaxWait,
	}

	outcomes := make([]chunkOutcome, len(pending))
	var wg sync.WaitGroup
	for i, pj := range pending {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = p.awaitJob(ctx, pj, cfg, metaOf)
		}()
	}
	wg.Wait()
	return outcomes
}

// awaitJob waits for one job and settles it. Completed jobs have their
// output fetched, demultiplexed, and their registry entry removed.
// Failed, expired, and cancelled jobs keep their entry so an operator
// can inspect them before cleanup.
func (p *Processor) awaitJob(ctx context.Context, pj pendingJob, cfg PollConfig, metaOf func(string) (any, bool)) chunkOutcome {
	out := chunkOutcome{chunk: pj.chunk, jobID: pj.jobID}

	info, err := p.poll.wait(ctx, pj.jobID, cfg)
	if err != nil {
		out.err = err
		return out
	}

	switch info.Status {
	case StatusCompleted:
		if info.OutputFileID == "" {
			out.err = fmt.Errorf("job %s completed without an output file", pj.jobID)
			return out
		}
		payload, err := p.svc.FileContent(ctx, info.OutputFileID)
		if err != nil {
			out.err = fmt.Errorf("downloading results for job %s: %w", pj.jobID, err)
			return out
		}
		out.result = demultiplex(payload, pj.chunk.IDs, metaOf, p.logger)
		if err := p.store.Remove(pj.jobID); err != nil {
			p.logger.Warn("failed to remove completed job from registry",
				"job_id", pj.jobID, "error", err)
		}
		p.logger.Info("job completed",
			"job_id", pj.jobID,
			"succeeded", out.result.stats.Succeeded,
			"failed", out.result.stats.Failed)
	case StatusFailed:
		p.logErrorFile(ctx, pj.jobID, info.ErrorFileID)
		out.err = &RemoteJobError{JobID: pj.jobID, Status: info.Status}
	default: // expired, cancelled
		p.logger.Warn("job ended without results; registry entry kept for inspection",
			"job_id", pj.jobID, "status", info.Status)
		out.err = &RemoteJobError{JobID: pj.jobID, Status: info.Status}
	}

	return out
}

// logErrorFile surfaces the remote error report for a failed job.
func (p *Processor) logErrorFile(ctx context.Context, jobID, fileID string) {
	if fileID == "" {
		p.logger.Error("remote job failed with no error report", "job_id", jobID)
		return
	}
	payload, err := p.svc.FileContent(ctx, fileID)
	if err != nil {
		p.logger.Warn("could not fetch error report for failed job",
			"job_id", jobID, "error_file_id", fileID, "error", err)
		return
	}
	detail := bytes.TrimSpace(payload)
	if len(detail) > errorFilePreviewBytes {
		detail = detail[:errorFilePreviewBytes]
	}
	p.logger.Error("remote job failed",
		"job_id", jobID, "detail", string(detail))
}
