package dreaming

import (
	"math"

	"github.com/goodnight-ai/goodnight/pkg/models"
)

// Pricing is USD per million tokens.
type Pricing struct {
	Input      float64
	Output     float64
	CacheWrite float64
	CacheRead  float64
}

// defaultPricing matches Claude Sonnet 4 rates. Cache writes bill at 1.25x
// input, cache reads at 0.1x.
var defaultPricing = Pricing{Input: 3.00, Output: 15.00, CacheWrite: 3.75, CacheRead: 0.30}

var modelPricing = map[string]Pricing{
	"claude-sonnet-4-20250514":                   defaultPricing,
	"us.anthropic.claude-sonnet-4-5-20250929-v1:0": defaultPricing,
}

// Statistics accumulates token usage across a dreaming cycle and prices it.
type Statistics struct {
	InputTokens      int    `json:"input_tokens"`
	OutputTokens     int    `json:"output_tokens"`
	CacheReadTokens  int    `json:"cache_read_tokens"`
	CacheWriteTokens int    `json:"cache_write_tokens"`
	Model            string `json:"model"`
}

// AddUsage folds one stage's token usage into the totals.
func (s *Statistics) AddUsage(u models.TokenUsage) {
	s.InputTokens += u.InputTokens
	s.OutputTokens += u.OutputTokens
	s.CacheReadTokens += u.CacheReadTokens
	s.CacheWriteTokens += u.CacheWriteTokens
}

// TotalTokens is input plus output. Cache tokens are billed separately and
// not counted here.
func (s *Statistics) TotalTokens() int {
	return s.InputTokens + s.OutputTokens
}

// CostUSD prices the accumulated usage. Cache reads are subtracted from
// input before pricing since they bill at the cheaper cache-read rate.
func (s *Statistics) CostUSD() float64 {
	pricing, ok := modelPricing[s.Model]
	if !ok {
		pricing = defaultPricing
	}

	nonCached := s.InputTokens - s.CacheReadTokens
	if nonCached < 0 {
		nonCached = 0
	}

	return float64(nonCached)/1e6*pricing.Input +
		float64(s.OutputTokens)/1e6*pricing.Output +
		float64(s.CacheWriteTokens)/1e6*pricing.CacheWrite +
		float64(s.CacheReadTokens)/1e6*pricing.CacheRead
}

// ToMap renders the statistics for event details and API payloads, with
// the cost rounded to four decimal places.
func (s *Statistics) ToMap() map[string]any {
	return map[string]any{
		"input_tokens":       s.InputTokens,
		"output_tokens":      s.OutputTokens,
		"cache_read_tokens":  s.CacheReadTokens,
		"cache_write_tokens": s.CacheWriteTokens,
		"total_tokens":       s.TotalTokens(),
		"cost_usd":           math.Round(s.CostUSD()*10000) / 10000,
		"model":              s.Model,
	}
}
