package batch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Usage counts the tokens billed for one request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ResultRecord is one work item's outcome: a success payload with usage
// counters, or a structured failure reason. Meta is the caller context
// registered at submission time; nil when results are recovered by a
// later process that no longer holds the correlation registry.
type ResultRecord struct {
	CorrelationID string `json:"correlation_id"`
	Meta          any    `json:"-"`
	Success       bool   `json:"success"`
	Content       string `json:"content,omitempty"`
	Error         string `json:"error,omitempty"`
	Usage         Usage  `json:"usage"`
}

// demuxStats aggregates one output payload's accounting.
type demuxStats struct {
	Succeeded        int
	Failed           int
	Missing          int // submitted ids absent from the output
	Unattributable   int // output lines with no recoverable correlation id
	PromptTokens     int
	CompletionTokens int
}

// demuxResult is a parsed output payload.
type demuxResult struct {
	records map[string]ResultRecord
	order   []string // record ids: submission order when known, else encounter order
	stats   demuxStats
}

// Wire shapes of the remote output file. Each line is one result.
type resultLine struct {
	ID       string          `json:"id"`
	CustomID string          `json:"custom_id"`
	Response *resultResponse `json:"response"`
	Error    *resultError    `json:"error"`
}

type resultResponse struct {
	StatusCode int             `json:"status_code"`
	RequestID  string          `json:"request_id"`
	Body       json.RawMessage `json:"body"`
}

type resultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type completionBody struct {
	Choices []completionChoice `json:"choices"`
	Usage   Usage              `json:"usage"`
}

type completionChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

// demultiplex parses a completed job's output payload line by line.
// Parsing is tolerant: a bad line becomes a failure record (or a counted
// warning when its correlation id is unrecoverable) rather than aborting
// the batch.
//
// expected lists the correlation ids submitted in the corresponding
// chunk; every expected id yields exactly one record, with ids missing
// from the output materialized as failures and flagged in the stats.
// A nil expected (recovery path, registry only knows the count) keeps
// whatever the output contains, in encounter order.
//
// metaOf resolves caller context per id; nil attaches no context.
func demultiplex(payload []byte, expected []string, metaOf func(string) (any, bool), logger *slog.Logger) demuxResult {
	res := demuxResult{records: make(map[string]ResultRecord)}

	var wanted map[string]bool
	if expected != nil {
		wanted = make(map[string]bool, len(expected))
		for _, id := range expected {
			wanted[id] = true
		}
	}

	var encounterOrder []string
	for i, raw := range bytes.Split(payload, []byte("\n")) {
		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			continue
		}

		var rl resultLine
		if err := json.Unmarshal(line, &rl); err != nil {
			res.stats.Unattributable++
			logger.Warn("unparseable result line",
				"line", i+1, "error", err)
			continue
		}
		if rl.CustomID == "" {
			res.stats.Unattributable++
			logger.Warn("result line has no correlation id", "line", i+1)
			continue
		}
		if wanted != nil && !wanted[rl.CustomID] {
			res.stats.Unattributable++
			logger.Warn("result line for unknown correlation id",
				"line", i+1, "correlation_id", rl.CustomID)
			continue
		}
		if _, dup := res.records[rl.CustomID]; dup {
			logger.Warn("duplicate result line, keeping first",
				"line", i+1, "correlation_id", rl.CustomID)
			continue
		}

		rec := decodeResult(rl)
		if metaOf != nil {
			rec.Meta, _ = metaOf(rec.CorrelationID)
		}
		res.records[rec.CorrelationID] = rec
		encounterOrder = append(encounterOrder, rec.CorrelationID)

		if rec.Success {
			res.stats.Succeeded++
			res.stats.PromptTokens += rec.Usage.PromptTokens
			res.stats.CompletionTokens += rec.Usage.CompletionTokens
		} else {
			res.stats.Failed++
		}
	}

	if expected == nil {
		res.order = encounterOrder
		return res
	}

	// Guarantee one record per submitted item: ids the remote never
	// answered become explicit failures, not silent gaps.
	res.order = make([]string, 0, len(expected))
	for _, id := range expected {
		if _, ok := res.records[id]; !ok {
			rec := ResultRecord{
				CorrelationID: id,
				Error:         "no result returned by remote job",
			}
			if metaOf != nil {
				rec.Meta, _ = metaOf(id)
			}
			res.records[id] = rec
			res.stats.Failed++
			res.stats.Missing++
		}
		res.order = append(res.order, id)
	}
	if res.stats.Missing > 0 {
		logger.Warn("remote output is missing results",
			"expected", len(expected), "missing", res.stats.Missing)
	}

	return res
}

// decodeResult turns one parsed line into a record.
func decodeResult(rl resultLine) ResultRecord {
	rec := ResultRecord{CorrelationID: rl.CustomID}

	if rl.Error != nil {
		if rl.Error.Code != "" {
			rec.Error = fmt.Sprintf("%s: %s", rl.Error.Code, rl.Error.Message)
		} else {
			rec.Error = rl.Error.Message
		}
		if rec.Error == "" {
			rec.Error = "remote reported an unspecified error"
		}
		return rec
	}

	if rl.Response == nil {
		rec.Error = "result line has no response"
		return rec
	}
	if rl.Response.StatusCode != 200 {
		rec.Error = fmt.Sprintf("remote returned status %d", rl.Response.StatusCode)
		return rec
	}

	var body completionBody
	if err := json.Unmarshal(rl.Response.Body, &body); err != nil {
		rec.Error = fmt.Sprintf("malformed completion body: %v", err)
		return rec
	}
	if len(body.Choices) == 0 {
		rec.Error = "completion has no choices"
		return rec
	}

	rec.Success = true
	rec.Content = body.Choices[0].Message.Content
	rec.Usage = body.Usage
	return rec
}
