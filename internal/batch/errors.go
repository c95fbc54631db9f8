package batch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"

	openai "github.com/openai/openai-go/v3"
)

// ErrorClass partitions remote-call failures for retry decisions.
type ErrorClass string

const (
	// ClassTransient errors are worth retrying: rate limits, server
	// errors, timeouts, dropped connections.
	ClassTransient ErrorClass = "transient"

	// ClassPermanent errors will not succeed on retry: authentication,
	// validation, malformed payloads.
	ClassPermanent ErrorClass = "permanent"
)

var (
	// ErrMaxWaitExceeded reports a wait budget exhausted before the remote
	// job reached a terminal state. The registry entry survives; resume can
	// reattach later.
	ErrMaxWaitExceeded = errors.New("maximum wait exceeded")

	// ErrUnknownJob reports a job id with no registry entry.
	ErrUnknownJob = errors.New("job not found in registry")
)

// PlanningError reports an unusable chunk budget.
type PlanningError struct {
	MaxBytes int
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("chunk budget must be positive, got %d", e.MaxBytes)
}

// UploadError is the terminal outcome of the retrying upload channel.
type UploadError struct {
	Class    ErrorClass
	Attempts int
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed (%s, %d attempts): %v", e.Class, e.Attempts, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// RemoteJobError reports a job that ended in a failure terminal state.
type RemoteJobError struct {
	JobID  string
	Status JobStatus
}

func (e *RemoteJobError) Error() string {
	return fmt.Sprintf("remote job %s ended %s", e.JobID, e.Status)
}

// Classify buckets an error into transient or permanent. Transient:
// HTTP 429/408/5xx, network timeouts, connection resets. Everything else,
// including caller cancellation, is permanent.
func Classify(err error) ErrorClass {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode >= 500:
			return ClassTransient
		default:
			return ClassPermanent
		}
	}

	if errors.Is(err, context.Canceled) {
		return ClassPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return ClassTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}

	return ClassPermanent
}

// IsTransient reports whether an error is worth retrying.
func IsTransient(err error) bool {
	return Classify(err) == ClassTransient
}
