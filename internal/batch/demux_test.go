package batch

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func successLine(t *testing.T, id, content string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]string{"content": content}}},
		"usage":   map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	line, err := json.Marshal(mockOutputLine{
		CustomID: id,
		Response: &mockOutputResponse{StatusCode: 200, Body: body},
	})
	if err != nil {
		t.Fatalf("marshal line: %v", err)
	}
	return line
}

func errorLine(t *testing.T, id, code, msg string) []byte {
	t.Helper()
	line, err := json.Marshal(mockOutputLine{
		CustomID: id,
		Error:    &resultError{Code: code, Message: msg},
	})
	if err != nil {
		t.Fatalf("marshal line: %v", err)
	}
	return line
}

func joinLines(lines ...[]byte) []byte {
	return append(bytes.Join(lines, []byte("\n")), '\n')
}

func TestDemultiplexMixedOutcomes(t *testing.T) {
	payload := joinLines(
		successLine(t, "req_0_aaaa0000", "first answer"),
		errorLine(t, "req_1_bbbb1111", "rate_limit_exceeded", "too many tokens"),
		successLine(t, "req_2_cccc2222", "third answer"),
	)
	expected := []string{"req_0_aaaa0000", "req_1_bbbb1111", "req_2_cccc2222"}
	meta := map[string]any{"req_0_aaaa0000": "row-0", "req_1_bbbb1111": "row-1", "req_2_cccc2222": "row-2"}
	metaOf := func(id string) (any, bool) { m, ok := meta[id]; return m, ok }

	res := demultiplex(payload, expected, metaOf, testLogger())

	if len(res.records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(res.records))
	}
	first := res.records["req_0_aaaa0000"]
	if !first.Success || first.Content != "first answer" {
		t.Errorf("expected first record succeeded, got %+v", first)
	}
	if first.Meta != "row-0" {
		t.Errorf("expected caller context attached, got %v", first.Meta)
	}
	failed := res.records["req_1_bbbb1111"]
	if failed.Success || !strings.Contains(failed.Error, "rate_limit_exceeded") {
		t.Errorf("expected failure with remote reason, got %+v", failed)
	}

	if res.stats.Succeeded != 2 || res.stats.Failed != 1 || res.stats.Missing != 0 {
		t.Errorf("unexpected stats: %+v", res.stats)
	}
	if res.stats.PromptTokens != 20 || res.stats.CompletionTokens != 10 {
		t.Errorf("expected usage summed over successes only, got %+v", res.stats)
	}
	for i, id := range expected {
		if res.order[i] != id {
			t.Errorf("position %d: expected %s, got %s", i, id, res.order[i])
		}
	}
}

func TestDemultiplexSynthesizesMissingResults(t *testing.T) {
	payload := joinLines(successLine(t, "req_0_aaaa0000", "only answer"))
	expected := []string{"req_0_aaaa0000", "req_1_bbbb1111", "req_2_cccc2222"}

	res := demultiplex(payload, expected, nil, testLogger())

	if len(res.records) != 3 {
		t.Fatalf("expected one record per submitted item, got %d", len(res.records))
	}
	for _, id := range expected[1:] {
		rec := res.records[id]
		if rec.Success {
			t.Errorf("expected %s synthesized as a failure", id)
		}
		if !strings.Contains(rec.Error, "no result") {
			t.Errorf("expected a missing-result reason for %s, got %q", id, rec.Error)
		}
	}
	if res.stats.Missing != 2 || res.stats.Failed != 2 || res.stats.Succeeded != 1 {
		t.Errorf("unexpected stats: %+v", res.stats)
	}
	if len(res.order) != 3 {
		t.Errorf("expected every submitted id in order, got %d", len(res.order))
	}
}

func TestDemultiplexToleratesGarbageLines(t *testing.T) {
	payload := joinLines(
		[]byte("this is not json"),
		successLine(t, "req_0_aaaa0000", "fine"),
	)
	expected := []string{"req_0_aaaa0000", "req_1_bbbb1111"}

	res := demultiplex(payload, expected, nil, testLogger())

	if res.stats.Unattributable != 1 {
		t.Errorf("expected 1 unattributable line, got %d", res.stats.Unattributable)
	}
	// the item behind the garbage line still gets its failure record
	if rec := res.records["req_1_bbbb1111"]; rec.Success || rec.Error == "" {
		t.Errorf("expected a synthesized failure, got %+v", rec)
	}
	if res.stats.Missing != 1 {
		t.Errorf("expected 1 missing id, got %d", res.stats.Missing)
	}
}

func TestDemultiplexDuplicateKeepsFirst(t *testing.T) {
	payload := joinLines(
		successLine(t, "req_0_aaaa0000", "first"),
		successLine(t, "req_0_aaaa0000", "second"),
	)

	res := demultiplex(payload, []string{"req_0_aaaa0000"}, nil, testLogger())

	if rec := res.records["req_0_aaaa0000"]; rec.Content != "first" {
		t.Errorf("expected the first result kept, got %q", rec.Content)
	}
	if res.stats.Succeeded != 1 || res.stats.PromptTokens != 10 {
		t.Errorf("expected the duplicate counted once, got %+v", res.stats)
	}
}

func TestDemultiplexIgnoresUnknownIDs(t *testing.T) {
	payload := joinLines(
		successLine(t, "req_0_aaaa0000", "mine"),
		successLine(t, "other_7_ffff9999", "not mine"),
	)

	res := demultiplex(payload, []string{"req_0_aaaa0000"}, nil, testLogger())

	if len(res.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(res.records))
	}
	if res.stats.Unattributable != 1 {
		t.Errorf("expected the foreign line counted, got %+v", res.stats)
	}
}

// Recovery has no correlation registry, so results come back in the
// order the remote wrote them.
func TestDemultiplexEncounterOrderWithoutExpectations(t *testing.T) {
	payload := joinLines(
		successLine(t, "req_2_cccc2222", "c"),
		successLine(t, "req_0_aaaa0000", "a"),
		successLine(t, "req_1_bbbb1111", "b"),
	)

	res := demultiplex(payload, nil, nil, testLogger())

	want := []string{"req_2_cccc2222", "req_0_aaaa0000", "req_1_bbbb1111"}
	if len(res.order) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(res.order))
	}
	for i := range want {
		if res.order[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], res.order[i])
		}
	}
	if res.stats.Missing != 0 {
		t.Errorf("expected no synthesized records without expectations, got %d", res.stats.Missing)
	}
}

func TestDemultiplexBadResponseShapes(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{"non-200 status", `{"custom_id":"x","response":{"status_code":500,"body":{}}}`, "status 500"},
		{"no response or error", `{"custom_id":"x"}`, "no response"},
		{"malformed body", `{"custom_id":"x","response":{"status_code":200,"body":"oops"}}`, "malformed"},
		{"empty choices", `{"custom_id":"x","response":{"status_code":200,"body":{"choices":[]}}}`, "no choices"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := demultiplex([]byte(tt.line+"\n"), []string{"x"}, nil, testLogger())
			rec := res.records["x"]
			if rec.Success {
				t.Fatal("expected a failure record")
			}
			if !strings.Contains(rec.Error, tt.want) {
				t.Errorf("expected error containing %q, got %q", tt.want, rec.Error)
			}
		})
	}
}

func TestDemultiplexEmptyErrorGetsPlaceholder(t *testing.T) {
	line, err := json.Marshal(mockOutputLine{CustomID: "x", Error: &resultError{}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	res := demultiplex(append(line, '\n'), []string{"x"}, nil, testLogger())
	if rec := res.records["x"]; rec.Error == "" {
		t.Error("expected a non-empty failure reason")
	}
}
