package batch

import (
	"context"
	"errors"
	"strings"
	"syscall"
	"testing"
	"time"
)

func fastPoll() PollConfig {
	return PollConfig{
		Interval:      time.Millisecond,
		ProgressEvery: time.Hour,
		MaxWait:       5 * time.Second,
	}
}

func TestWaitWalksToCompletion(t *testing.T) {
	m := NewMockService()
	m.Script("job-1",
		JobInfo{Status: StatusSubmitted},
		JobInfo{Status: StatusInProgress, Counts: RequestCounts{Total: 5, Completed: 2}},
		JobInfo{Status: StatusCompleted, OutputFileID: "file-out", Counts: RequestCounts{Total: 5, Completed: 5}},
	)
	p := &poller{svc: m, logger: testLogger()}

	info, err := p.wait(context.Background(), "job-1", fastPoll())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", info.Status)
	}
	if info.OutputFileID != "file-out" {
		t.Errorf("expected output file id carried through, got %q", info.OutputFileID)
	}
	if m.Retrieves != 3 {
		t.Errorf("expected 3 status checks, got %d", m.Retrieves)
	}
}

// A failure terminal state is a result, not an error: the caller decides
// what a failed job means.
func TestWaitReturnsFailureTerminals(t *testing.T) {
	for _, status := range []JobStatus{StatusFailed, StatusExpired, StatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			m := NewMockService()
			m.Script("job-1", JobInfo{Status: status, ErrorFileID: "file-err"})
			p := &poller{svc: m, logger: testLogger()}

			info, err := p.wait(context.Background(), "job-1", fastPoll())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if info.Status != status {
				t.Errorf("expected %s, got %s", status, info.Status)
			}
		})
	}
}

func TestWaitTimesOut(t *testing.T) {
	m := NewMockService()
	m.Script("job-1", JobInfo{Status: StatusInProgress})
	p := &poller{svc: m, logger: testLogger()}

	cfg := fastPoll()
	cfg.MaxWait = 10 * time.Millisecond
	_, err := p.wait(context.Background(), "job-1", cfg)
	if !errors.Is(err, ErrMaxWaitExceeded) {
		t.Fatalf("expected ErrMaxWaitExceeded, got %v", err)
	}
}

func TestWaitAbsorbsTransientStatusErrors(t *testing.T) {
	m := NewMockService()
	m.RetrieveErrs = []error{syscall.ECONNRESET}
	m.Script("job-1", JobInfo{Status: StatusCompleted, OutputFileID: "file-out"})
	p := &poller{svc: m, logger: testLogger()}

	info, err := p.wait(context.Background(), "job-1", fastPoll())
	if err != nil {
		t.Fatalf("expected the transient error absorbed, got %v", err)
	}
	if info.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", info.Status)
	}
	if m.Retrieves != 2 {
		t.Errorf("expected 2 status checks, got %d", m.Retrieves)
	}
}

func TestWaitAbortsOnPermanentStatusError(t *testing.T) {
	m := NewMockService()
	m.RetrieveErrs = []error{errors.New("no such job")}
	p := &poller{svc: m, logger: testLogger()}

	_, err := p.wait(context.Background(), "job-1", fastPoll())
	if err == nil || !strings.Contains(err.Error(), "status check") {
		t.Fatalf("expected a status-check error, got %v", err)
	}
	if m.Retrieves != 1 {
		t.Errorf("expected a single status check, got %d", m.Retrieves)
	}
}

func TestWaitStopsOnCancel(t *testing.T) {
	m := NewMockService()
	m.Script("job-1", JobInfo{Status: StatusInProgress})
	p := &poller{svc: m, logger: testLogger()}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(5*time.Millisecond, cancel)

	cfg := fastPoll()
	cfg.Interval = 100 * time.Millisecond
	_, err := p.wait(ctx, "job-1", cfg)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
