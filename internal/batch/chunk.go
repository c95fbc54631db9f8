package batch

import (
	"encoding/json"
	"fmt"
)

// DefaultMaxPayloadBytes is the chunk budget: 50 MB, conservatively under
// the remote service's 200 MB per-file cap.
const DefaultMaxPayloadBytes = 50 * 1024 * 1024

// Chunk is a contiguous, size-bounded slice of one submission. Chunks
// partition the serialized request lines in order; concatenating chunk
// lines in index order reproduces the original submission exactly.
type Chunk struct {
	Index int      // 0-based position among the planned chunks
	Start int      // ordinal of the first request in the submission
	IDs   []string // correlation ids, submission order
	Lines [][]byte // serialized envelopes, one per request
	Size  int      // payload bytes including line terminators
}

// Count returns the number of requests in the chunk.
func (c *Chunk) Count() int {
	return len(c.Lines)
}

// Payload renders the chunk as a line-delimited upload body.
func (c *Chunk) Payload() []byte {
	buf := make([]byte, 0, c.Size)
	for _, line := range c.Lines {
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return buf
}

// Plan serializes envelopes and splits them into chunks no larger than
// maxBytes. Splitting is greedy: a line that would push the running chunk
// past the budget starts a new one. Order is preserved, nothing is
// dropped or duplicated, and the result is deterministic for identical
// input. A single line larger than maxBytes gets a chunk of its own;
// whether to accept that oversized chunk is the caller's call.
//
// Pure function: no I/O, no logging.
func Plan(envelopes []Envelope, maxBytes int) ([]Chunk, error) {
	if maxBytes <= 0 {
		return nil, &PlanningError{MaxBytes: maxBytes}
	}
	if len(envelopes) == 0 {
		return nil, nil
	}

	var chunks []Chunk
	current := Chunk{Index: 0, Start: 0}

	for i, env := range envelopes {
		line, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("serialize request %d: %w", i, err)
		}
		marginal := len(line) + 1 // newline

		if len(current.Lines) > 0 && current.Size+marginal > maxBytes {
			chunks = append(chunks, current)
			current = Chunk{Index: len(chunks), Start: i}
		}

		current.IDs = append(current.IDs, env.CustomID)
		current.Lines = append(current.Lines, line)
		current.Size += marginal
	}
	chunks = append(chunks, current)

	return chunks, nil
}
