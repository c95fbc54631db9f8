package batch

import (
	"encoding/json"
	"fmt"
)

const (
	// chatCompletionsEndpoint is the remote endpoint every batch line targets.
	chatCompletionsEndpoint = "/v1/chat/completions"

	// DefaultPrefix is used for correlation ids when the caller supplies none.
	DefaultPrefix = "req"
)

// Message is one chat message. Content is either a plain string or a
// []Part for multimodal requests (text plus images).
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// Part is one element of a multimodal content array.
type Part struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries an image reference, typically a data: URL with
// base64-encoded scan data.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) Part {
	return Part{Type: "text", Text: text}
}

// ImagePart builds an image content part.
func ImagePart(url string) Part {
	return Part{Type: "image_url", ImageURL: &ImageURL{URL: url}}
}

// Request is a single chat completion destined for a batch submission.
// Meta is caller context (barcode, row number, file paths); it never
// leaves the process and is returned attached to the matching result.
type Request struct {
	Model          string
	Messages       []Message
	MaxTokens      int
	Temperature    *float64
	ResponseFormat json.RawMessage
	Meta           any
}

// Envelope is the wire form of one request line in the uploaded payload.
type Envelope struct {
	CustomID string       `json:"custom_id"`
	Method   string       `json:"method"`
	URL      string       `json:"url"`
	Body     envelopeBody `json:"body"`
}

type envelopeBody struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat json.RawMessage `json:"response_format,omitempty"`
}

// buildEnvelopes registers every request with the correlator and wraps it
// in the line format the remote batch endpoint expects. Request order is
// preserved; envelope i corresponds to reqs[i].
func buildEnvelopes(reqs []Request, cor *Correlator) ([]Envelope, error) {
	envelopes := make([]Envelope, len(reqs))
	for i, req := range reqs {
		if req.Model == "" {
			return nil, fmt.Errorf("request %d has no model", i)
		}
		if len(req.Messages) == 0 {
			return nil, fmt.Errorf("request %d has no messages", i)
		}

		envelopes[i] = Envelope{
			CustomID: cor.Tag(i, req.Meta),
			Method:   "POST",
			URL:      chatCompletionsEndpoint,
			Body: envelopeBody{
				Model:          req.Model,
				Messages:       req.Messages,
				MaxTokens:      req.MaxTokens,
				Temperature:    req.Temperature,
				ResponseFormat: req.ResponseFormat,
			},
		}
	}
	return envelopes, nil
}
