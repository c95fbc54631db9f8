// Package pricing holds the OpenAI model rate table and cost math used for
// batch cost estimates. Figures are estimates for operator budgeting, not a
// billing reconstruction.
package pricing

// BatchDiscount is the fraction of the regular price charged for requests
// sent through the batch endpoint.
const BatchDiscount = 0.5

// FallbackModel is used to price models missing from the table.
const FallbackModel = "gpt-4o-mini"

// Rate holds USD per 1M tokens for one model.
type Rate struct {
	InputPer1M       float64
	CachedInputPer1M float64 // 0 means no cached rate; cached tokens bill as input
	OutputPer1M      float64
}

var rates = map[string]Rate{
	"gpt-4o":                 {InputPer1M: 2.50, CachedInputPer1M: 1.25, OutputPer1M: 10.00},
	"gpt-4o-2024-08-06":      {InputPer1M: 2.50, CachedInputPer1M: 1.25, OutputPer1M: 10.00},
	"gpt-4o-2024-05-13":      {InputPer1M: 5.00, OutputPer1M: 15.00},
	"gpt-4o-mini":            {InputPer1M: 0.15, CachedInputPer1M: 0.075, OutputPer1M: 0.60},
	"gpt-4o-mini-2024-07-18": {InputPer1M: 0.15, CachedInputPer1M: 0.075, OutputPer1M: 0.60},
	"gpt-4-turbo":            {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-4":                  {InputPer1M: 30.00, OutputPer1M: 60.00},
	"gpt-3.5-turbo":          {InputPer1M: 0.50, OutputPer1M: 1.50},
}

// Lookup returns the rate for an exactly-matching model name.
func Lookup(model string) (Rate, bool) {
	r, ok := rates[model]
	return r, ok
}

// Known reports whether the model has an entry in the rate table.
func Known(model string) bool {
	_, ok := rates[model]
	return ok
}

// rateFor resolves a model to a rate, falling back to FallbackModel.
func rateFor(model string) Rate {
	if r, ok := rates[model]; ok {
		return r
	}
	return rates[FallbackModel]
}

// Breakdown is an itemized cost in USD.
type Breakdown struct {
	InputCost  float64 `json:"input_cost"`
	CachedCost float64 `json:"cached_cost"`
	OutputCost float64 `json:"output_cost"`
	TotalCost  float64 `json:"total_cost"`
}

// Cost prices a token count against the model's regular rates.
// cachedTokens is the portion of promptTokens served from prompt cache.
func Cost(model string, promptTokens, completionTokens, cachedTokens int) Breakdown {
	r := rateFor(model)

	if cachedTokens > promptTokens {
		cachedTokens = promptTokens
	}
	cachedRate := r.CachedInputPer1M
	if cachedRate == 0 {
		cachedRate = r.InputPer1M
	}

	b := Breakdown{
		InputCost:  float64(promptTokens-cachedTokens) / 1_000_000 * r.InputPer1M,
		CachedCost: float64(cachedTokens) / 1_000_000 * cachedRate,
		OutputCost: float64(completionTokens) / 1_000_000 * r.OutputPer1M,
	}
	b.TotalCost = b.InputCost + b.CachedCost + b.OutputCost
	return b
}

// BatchCost prices a token count at the batch discount.
func BatchCost(model string, promptTokens, completionTokens, cachedTokens int) Breakdown {
	b := Cost(model, promptTokens, completionTokens, cachedTokens)
	b.InputCost *= BatchDiscount
	b.CachedCost *= BatchDiscount
	b.OutputCost *= BatchDiscount
	b.TotalCost *= BatchDiscount
	return b
}

// Estimate compares regular and batch pricing for a token count.
type Estimate struct {
	RegularCost    float64 `json:"regular_cost"`
	BatchCost      float64 `json:"batch_cost"`
	Savings        float64 `json:"savings"`
	SavingsPercent float64 `json:"savings_percentage"`
}

// EstimateBatch prices promptTokens/completionTokens both ways and reports
// the saving from the batch discount.
func EstimateBatch(model string, promptTokens, completionTokens int) Estimate {
	regular := Cost(model, promptTokens, completionTokens, 0).TotalCost
	batch := regular * BatchDiscount

	e := Estimate{
		RegularCost: regular,
		BatchCost:   batch,
		Savings:     regular - batch,
	}
	if regular > 0 {
		e.SavingsPercent = e.Savings / regular * 100
	}
	return e
}
