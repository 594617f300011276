package llm

import (
	"time"

	"github.com/TobiSchelling/trendpulse/internal/topic"
)

// Settings are the per-deployment constants of the search API.
type Settings struct {
	BaseURL           string
	APIKey            string
	RequestsPerMinute int
	TopP              float64

	DefaultTimeout time.Duration
	Timeouts       map[topic.Model]time.Duration

	StandardMaxTokens  map[topic.DetailLevel]int
	ReasoningMaxTokens map[topic.DetailLevel]int
	SearchContext      map[topic.DetailLevel]string
}

// DefaultSettings returns the documented defaults without an API key.
func DefaultSettings() Settings {
	return Settings{
		BaseURL:           "https://api.perplexity.ai",
		RequestsPerMinute: 60,
		TopP:              0.9,
		DefaultTimeout:    120 * time.Second,
		Timeouts: map[topic.Model]time.Duration{
			topic.SonarDeepResearch: 40 * time.Minute,
		},
		StandardMaxTokens: map[topic.DetailLevel]int{
			topic.Brief:         512,
			topic.Detailed:      850,
			topic.Comprehensive: 1200,
		},
		ReasoningMaxTokens: map[topic.DetailLevel]int{
			topic.Brief:         2500,
			topic.Detailed:      5000,
			topic.Comprehensive: 8000,
		},
		SearchContext: map[topic.DetailLevel]string{
			topic.Brief:         "low",
			topic.Detailed:      "medium",
			topic.Comprehensive: "high",
		},
	}
}

// MaxTokens returns the output ceiling for detail on model. Reasoning models
// use the larger table because hidden thinking tokens count against it.
func (s Settings) MaxTokens(detail topic.DetailLevel, model topic.Model) int {
	table, fallback := s.StandardMaxTokens, DefaultSettings().StandardMaxTokens
	if model.IsReasoning() {
		table, fallback = s.ReasoningMaxTokens, DefaultSettings().ReasoningMaxTokens
	}
	if n := table[detail]; n > 0 {
		return n
	}
	if n := fallback[detail]; n > 0 {
		return n
	}
	return fallback[topic.Detailed]
}

// SearchContextSize returns the search breadth hint for detail.
func (s Settings) SearchContextSize(detail topic.DetailLevel) string {
	if size := s.SearchContext[detail]; size != "" {
		return size
	}
	if size := DefaultSettings().SearchContext[detail]; size != "" {
		return size
	}
	return "medium"
}

// Timeout returns the request timeout for model.
func (s Settings) Timeout(model topic.Model) time.Duration {
	if d := s.Timeouts[model]; d > 0 {
		return d
	}
	if s.DefaultTimeout > 0 {
		return s.DefaultTimeout
	}
	return 120 * time.Second
}
