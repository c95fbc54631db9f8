package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/utlibraries/crate/internal/ratelimit"
)

// OpenAIConfig holds configuration for the OpenAI-backed Service.
type OpenAIConfig struct {
	APIKey     string
	RateLimit  int           // Requests per minute; 0 disables limiting
	Timeout    time.Duration // HTTP timeout, sized for multi-MB uploads
	BaseURL    string        // Optional (tests)
	HTTPClient *http.Client  // Optional (tests)
}

// OpenAIService drives the OpenAI Files and Batches APIs. Retries are
// owned by the upload channel, so SDK transport retries are disabled.
type OpenAIService struct {
	client  openai.Client
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// NewOpenAIService creates a Service backed by the official OpenAI SDK.
func NewOpenAIService(cfg OpenAIConfig, logger *slog.Logger) *OpenAIService {
	if cfg.Timeout == 0 {
		cfg.Timeout = 600 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit > 0 {
		limiter = ratelimit.New(cfg.RateLimit)
	}

	return &OpenAIService{
		client:  openai.NewClient(opts...),
		limiter: limiter,
		logger:  logger,
	}
}

// UploadFile uploads a payload to the remote file store with purpose
// "batch" and returns the remote file id.
func (s *OpenAIService) UploadFile(ctx context.Context, name string, payload []byte) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}

	f, err := s.client.Files.New(ctx, openai.FileNewParams{
		File:    openai.File(bytes.NewReader(payload), name, "application/jsonl"),
		Purpose: openai.FilePurposeBatch,
	})
	if err != nil {
		return "", s.mapErr("file upload", err)
	}
	return f.ID, nil
}

// CreateJob creates a batch job over an uploaded input file.
func (s *OpenAIService) CreateJob(ctx context.Context, inputFileID string, meta JobMeta) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}

	b, err := s.client.Batches.New(ctx, openai.BatchNewParams{
		InputFileID:      inputFileID,
		Endpoint:         openai.BatchNewParamsEndpointV1ChatCompletions,
		CompletionWindow: openai.BatchNewParamsCompletionWindow24h,
		Metadata: shared.Metadata{
			"description":   meta.Description,
			"created_at":    meta.CreatedAt.UTC().Format(time.RFC3339),
			"request_count": strconv.Itoa(meta.RequestCount),
		},
	})
	if err != nil {
		return "", s.mapErr("job creation", err)
	}
	return b.ID, nil
}

// RetrieveJob fetches a job's current status snapshot.
func (s *OpenAIService) RetrieveJob(ctx context.Context, jobID string) (JobInfo, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return JobInfo{}, err
	}

	b, err := s.client.Batches.Get(ctx, jobID)
	if err != nil {
		return JobInfo{}, s.mapErr("status retrieval", err)
	}

	return JobInfo{
		ID:     b.ID,
		Status: mapBatchStatus(b.Status),
		Counts: RequestCounts{
			Total:     int(b.RequestCounts.Total),
			Completed: int(b.RequestCounts.Completed),
			Failed:    int(b.RequestCounts.Failed),
		},
		OutputFileID: b.OutputFileID,
		ErrorFileID:  b.ErrorFileID,
	}, nil
}

// FileContent downloads a remote file's full contents.
func (s *OpenAIService) FileContent(ctx context.Context, fileID string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := s.client.Files.Content(ctx, fileID)
	if err != nil {
		return nil, s.mapErr("file download", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", fileID, err)
	}
	return data, nil
}

// mapErr annotates SDK errors while preserving the chain for Classify,
// and feeds 429 responses back into the rate limiter.
func (s *OpenAIService) mapErr(op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			retryAfter := time.Duration(0)
			if apiErr.Response != nil {
				retryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
			}
			s.limiter.Record429(retryAfter)
		}
		return fmt.Errorf("openai %s (status %d): %w", op, apiErr.StatusCode, err)
	}
	return fmt.Errorf("openai %s: %w", op, err)
}

// mapBatchStatus projects remote statuses onto the orchestrator's state
// machine. Cancelling counts as in progress until the remote confirms.
func mapBatchStatus(s openai.BatchStatus) JobStatus {
	switch s {
	case openai.BatchStatusValidating:
		return StatusSubmitted
	case openai.BatchStatusInProgress, openai.BatchStatusFinalizing, openai.BatchStatusCancelling:
		return StatusInProgress
	case openai.BatchStatusCompleted:
		return StatusCompleted
	case openai.BatchStatusFailed:
		return StatusFailed
	case openai.BatchStatusExpired:
		return StatusExpired
	case openai.BatchStatusCancelled:
		return StatusCancelled
	default:
		return StatusInProgress
	}
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

var _ Service = (*OpenAIService)(nil)
