package usage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/utlibraries/crate/internal/pricing"
)

// Report is one line of the usage log: token and cost accounting for a
// single processing run.
type Report struct {
	Timestamp        time.Time         `json:"timestamp"`
	Step             string            `json:"step,omitempty"`
	Description      string            `json:"description,omitempty"`
	Model            string            `json:"model"`
	TotalItems       int               `json:"total_items"`
	FailedItems      int               `json:"failed_items"`
	PromptTokens     int               `json:"prompt_tokens"`
	CompletionTokens int               `json:"completion_tokens"`
	ElapsedSeconds   float64           `json:"elapsed_seconds"`
	Cost             pricing.Breakdown `json:"cost"`
	BatchDiscounted  bool              `json:"batch_discounted"`
}

// SuccessfulItems returns the items that produced a usable result.
func (r Report) SuccessfulItems() int {
	return r.TotalItems - r.FailedItems
}

// SuccessRate returns the success percentage for the run.
func (r Report) SuccessRate() float64 {
	if r.TotalItems == 0 {
		return 0
	}
	return float64(r.SuccessfulItems()) / float64(r.TotalItems) * 100
}

// TotalTokens returns prompt plus completion tokens.
func (r Report) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// Log is an append-only, line-delimited JSON usage file. Each run adds
// one line; nothing is ever rewritten.
type Log struct {
	mu   sync.Mutex
	path string
}

// NewLog creates a log at the given path. The file is created on first
// append.
func NewLog(path string) *Log {
	return &Log{path: path}
}

// Append writes one report as a single line.
func (l *Log) Append(r Report) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding usage report: %w", err)
	}
	line = append(line, '\n')

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating usage log directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening usage log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("writing usage log: %w", err)
	}
	return f.Close()
}

// Read loads every report, oldest first. A missing file reads as an
// empty log.
func (l *Log) Read() ([]Report, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading usage log: %w", err)
	}

	var reports []Report
	for i, raw := range bytes.Split(data, []byte("\n")) {
		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			continue
		}
		var r Report
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("usage log line %d: %w", i+1, err)
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// Totals aggregates a set of reports for summary display.
type Totals struct {
	Runs             int     `json:"runs"`
	Items            int     `json:"items"`
	FailedItems      int     `json:"failed_items"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalCost        float64 `json:"total_cost"`
}

// Sum folds reports into totals.
func Sum(reports []Report) Totals {
	var t Totals
	for _, r := range reports {
		t.Runs++
		t.Items += r.TotalItems
		t.FailedItems += r.FailedItems
		t.PromptTokens += r.PromptTokens
		t.CompletionTokens += r.CompletionTokens
		t.TotalCost += r.Cost.TotalCost
	}
	return t
}
