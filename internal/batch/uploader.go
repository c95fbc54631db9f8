package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	// DefaultUploadAttempts bounds the retrying upload channel.
	DefaultUploadAttempts = 5

	// DefaultUploadBaseDelay is the first retry wait; each subsequent
	// wait doubles (10s, 20s, 40s, 80s across five attempts).
	DefaultUploadBaseDelay = 10 * time.Second
)

// UploadConfig tunes the retrying upload channel.
type UploadConfig struct {
	Attempts  int           // total attempts including the first
	BaseDelay time.Duration // doubles after each failed attempt
}

func (c UploadConfig) withDefaults() UploadConfig {
	if c.Attempts <= 0 {
		c.Attempts = DefaultUploadAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultUploadBaseDelay
	}
	return c
}

// uploader pushes chunk payloads through the Service with exponential
// backoff. Transient failures retry; permanent ones propagate at once.
type uploader struct {
	svc    Service
	cfg    UploadConfig
	logger *slog.Logger
}

func newUploader(svc Service, cfg UploadConfig, logger *slog.Logger) *uploader {
	return &uploader{svc: svc, cfg: cfg.withDefaults(), logger: logger}
}

// upload returns the remote file id for the payload. On failure the
// returned error is an *UploadError carrying the class and attempt count,
// unless the caller's context ended the attempt loop.
func (u *uploader) upload(ctx context.Context, name string, payload []byte) (string, error) {
	var fileID string
	attempts := 0

	err := retry.Do(
		func() error {
			attempts++
			id, err := u.svc.UploadFile(ctx, name, payload)
			if err != nil {
				return err
			}
			fileID = id
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(u.cfg.Attempts)),
		retry.Delay(u.cfg.BaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsTransient),
		retry.OnRetry(func(n uint, err error) {
			u.logger.Warn("upload attempt failed",
				"name", name,
				"attempt", n+1,
				"max_attempts", u.cfg.Attempts,
				"class", Classify(err),
				"error", err)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("upload of %s interrupted: %w", name, ctx.Err())
		}
		return "", &UploadError{Class: Classify(err), Attempts: attempts, Err: err}
	}

	u.logger.Info("upload succeeded",
		"name", name,
		"file_id", fileID,
		"bytes", len(payload),
		"attempts", attempts)
	return fileID, nil
}
