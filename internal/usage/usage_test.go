package usage

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/utlibraries/crate/internal/pricing"
)

func TestLogAppendRead(t *testing.T) {
	l := NewLog(filepath.Join(t.TempDir(), "logs", "usage.jsonl"))

	reports, err := l.Read()
	if err != nil {
		t.Fatalf("read of missing log: %v", err)
	}
	if reports != nil {
		t.Errorf("expected a missing log to read empty, got %d reports", len(reports))
	}

	first := Report{
		Timestamp:        time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Step:             "metadata_extraction",
		Description:      "box 12",
		Model:            "gpt-4o-mini",
		TotalItems:       25,
		FailedItems:      2,
		PromptTokens:     1000,
		CompletionTokens: 400,
		ElapsedSeconds:   12.5,
		Cost:             pricing.BatchCost("gpt-4o-mini", 1000, 400, 0),
		BatchDiscounted:  true,
	}
	second := Report{
		Timestamp:  time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		Step:       "record_matching",
		Model:      "gpt-4o",
		TotalItems: 8,
	}

	if err := l.Append(first); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.Append(second); err != nil {
		t.Fatalf("append: %v", err)
	}

	reports, err = l.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}
	got := reports[0]
	if got.Step != "metadata_extraction" || !got.Timestamp.Equal(first.Timestamp) {
		t.Errorf("first report did not round-trip: %+v", got)
	}
	if got.TotalItems != 25 || got.FailedItems != 2 || got.PromptTokens != 1000 {
		t.Errorf("counts did not round-trip: %+v", got)
	}
	if math.Abs(got.Cost.TotalCost-first.Cost.TotalCost) > 1e-12 {
		t.Errorf("cost did not round-trip: %+v", got.Cost)
	}
	if reports[1].Step != "record_matching" {
		t.Errorf("expected reports in append order, got %+v", reports[1])
	}
}

func TestLogCorruptLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.jsonl")
	l := NewLog(path)
	if err := l.Append(Report{Model: "gpt-4o"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("not json\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	_, err = l.Read()
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("expected the bad line identified, got %v", err)
	}
}

func TestReportDerivedFields(t *testing.T) {
	r := Report{TotalItems: 25, FailedItems: 2, PromptTokens: 100, CompletionTokens: 50}

	if r.SuccessfulItems() != 23 {
		t.Errorf("expected 23 successful items, got %d", r.SuccessfulItems())
	}
	if r.SuccessRate() != 92 {
		t.Errorf("expected 92%% success rate, got %f", r.SuccessRate())
	}
	if r.TotalTokens() != 150 {
		t.Errorf("expected 150 total tokens, got %d", r.TotalTokens())
	}

	var empty Report
	if empty.SuccessRate() != 0 {
		t.Errorf("expected 0 success rate for an empty report, got %f", empty.SuccessRate())
	}
}

func TestSum(t *testing.T) {
	reports := []Report{
		{TotalItems: 10, FailedItems: 1, PromptTokens: 100, CompletionTokens: 40, Cost: pricing.Breakdown{TotalCost: 0.5}},
		{TotalItems: 5, FailedItems: 0, PromptTokens: 60, CompletionTokens: 20, Cost: pricing.Breakdown{TotalCost: 0.25}},
	}

	got := Sum(reports)
	want := Totals{Runs: 2, Items: 15, FailedItems: 1, PromptTokens: 160, CompletionTokens: 60, TotalCost: 0.75}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}
