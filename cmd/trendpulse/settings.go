package main

import (
	"fmt"

	"github.com/TobiSchelling/trendpulse/internal/config"
	"github.com/TobiSchelling/trendpulse/internal/llm"
	"github.com/TobiSchelling/trendpulse/internal/topic"
)

// apiSettings converts the api section of c into client settings.
func apiSettings(c *config.Config) (llm.Settings, error) {
	s := llm.DefaultSettings()
	s.BaseURL = c.API.BaseURL
	s.APIKey = c.APIKey()
	s.RequestsPerMinute = c.API.RequestsPerMinute
	s.TopP = c.API.TopP

	for key, d := range c.API.Timeouts {
		if key == config.DefaultTimeoutKey {
			s.DefaultTimeout = d
			continue
		}
		model, err := topic.ParseModel(key)
		if err != nil {
			return s, fmt.Errorf("api.timeouts: %w", err)
		}
		s.Timeouts[model] = d
	}

	var err error
	if s.StandardMaxTokens, err = detailTable(c.API.MaxTokens.Standard, s.StandardMaxTokens); err != nil {
		return s, fmt.Errorf("api.max_tokens.standard: %w", err)
	}
	if s.ReasoningMaxTokens, err = detailTable(c.API.MaxTokens.Reasoning, s.ReasoningMaxTokens); err != nil {
		return s, fmt.Errorf("api.max_tokens.reasoning: %w", err)
	}
	if s.SearchContext, err = detailTable(c.API.SearchContext, s.SearchContext); err != nil {
		return s, fmt.Errorf("api.search_context: %w", err)
	}
	return s, nil
}

// detailTable overlays a config table keyed by detail level onto base.
func detailTable[V any](in map[string]V, base map[topic.DetailLevel]V) (map[topic.DetailLevel]V, error) {
	out := make(map[topic.DetailLevel]V, len(base))
	for k, v := range base {
		out[k] = v
	}
	for key, v := range in {
		level, err := topic.ParseDetailLevel(key)
		if err != nil {
			return nil, err
		}
		out[level] = v
	}
	return out, nil
}
