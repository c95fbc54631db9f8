package batch

import (
	"github.com/utlibraries/crate/internal/pricing"
)

// Token estimation heuristics. These are planning numbers for cost
// preview, not tokenizer output: text is counted at four characters per
// token, images at a flat per-image charge, and each request carries a
// fixed overhead for message framing.
const (
	charsPerToken         = 4
	tokensPerImage        = 1000
	requestOverheadTokens = 100

	// completionFraction scales a request's token cap into the
	// completion tokens it is likely to actually use.
	completionFraction       = 0.6
	defaultEstimateMaxTokens = 1000
)

// EstimateTokens approximates the prompt and completion tokens a set of
// requests will consume.
func EstimateTokens(reqs []Request) (prompt, completion int) {
	for _, r := range reqs {
		prompt += requestOverheadTokens
		for _, m := range r.Messages {
			prompt += contentTokens(m.Content)
		}
		maxTokens := r.MaxTokens
		if maxTokens <= 0 {
			maxTokens = defaultEstimateMaxTokens
		}
		completion += int(float64(maxTokens) * completionFraction)
	}
	return prompt, completion
}

// contentTokens estimates one message's content. Content mirrors the
// wire format: a plain string, typed parts, or the loosely decoded
// []any/map form callers get back from json.Unmarshal.
func contentTokens(content any) int {
	switch c := content.(type) {
	case string:
		return len(c) / charsPerToken
	case []Part:
		n := 0
		for _, p := range c {
			n += partTokens(p.Type, p.Text)
		}
		return n
	case []any:
		n := 0
		for _, raw := range c {
			part, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			typ, _ := part["type"].(string)
			text, _ := part["text"].(string)
			n += partTokens(typ, text)
		}
		return n
	default:
		return 0
	}
}

func partTokens(typ, text string) int {
	switch typ {
	case "image_url":
		return tokensPerImage
	default:
		return len(text) / charsPerToken
	}
}

// EstimateCost previews what a workload will cost at per-request rates
// versus the batch discount.
func EstimateCost(reqs []Request, model string) pricing.Estimate {
	prompt, completion := EstimateTokens(reqs)
	return pricing.EstimateBatch(model, prompt, completion)
}
