package batch

import (
	"context"
	"time"
)

// JobStatus is the orchestrator's view of a remote job's lifecycle.
//
//	submitted → in_progress → {completed, failed, expired, cancelled}
type JobStatus string

const (
	StatusSubmitted  JobStatus = "submitted"
	StatusInProgress JobStatus = "in_progress"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusExpired    JobStatus = "expired"
	StatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// RequestCounts mirrors the remote progress counters for a job.
type RequestCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// JobInfo is a point-in-time snapshot of a remote job.
type JobInfo struct {
	ID           string        `json:"id"`
	Status       JobStatus     `json:"status"`
	Counts       RequestCounts `json:"request_counts"`
	OutputFileID string        `json:"output_file_id,omitempty"`
	ErrorFileID  string        `json:"error_file_id,omitempty"`
}

// JobMeta is attached to a job at creation so the remote side's records
// mirror the local registry entry.
type JobMeta struct {
	Description  string
	CreatedAt    time.Time
	RequestCount int
}

// Service is the remote batch facility the orchestrator drives: upload a
// line-delimited payload, create a job over it, poll the job, download
// result files. Everything beyond these four calls is treated as a black
// box.
type Service interface {
	UploadFile(ctx context.Context, name string, payload []byte) (string, error)
	CreateJob(ctx context.Context, inputFileID string, meta JobMeta) (string, error)
	RetrieveJob(ctx context.Context, jobID string) (JobInfo, error)
	FileContent(ctx context.Context, fileID string) ([]byte, error)
}
