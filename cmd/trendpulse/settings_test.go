package main

import (
	"testing"
	"time"

	"github.com/TobiSchelling/trendpulse/internal/config"
	"github.com/TobiSchelling/trendpulse/internal/topic"
)

func TestAPISettingsFromConfig(t *testing.T) {
	t.Setenv("TRENDPULSE_TEST_KEY", "k")
	c := config.Defaults()
	c.API.APIKeyEnv = "TRENDPULSE_TEST_KEY"
	c.API.RequestsPerMinute = 10
	c.API.Timeouts["sonar-pro"] = 90 * time.Second
	c.API.Timeouts[config.DefaultTimeoutKey] = time.Minute
	c.API.MaxTokens.Standard["brief"] = 300

	s, err := apiSettings(c)
	if err != nil {
		t.Fatalf("apiSettings: %v", err)
	}
	if s.APIKey != "k" || s.RequestsPerMinute != 10 {
		t.Errorf("unexpected settings: key %q, rpm %d", s.APIKey, s.RequestsPerMinute)
	}
	if got := s.Timeout(topic.SonarPro); got != 90*time.Second {
		t.Errorf("sonar-pro timeout = %s, want 90s", got)
	}
	if got := s.Timeout(topic.Sonar); got != time.Minute {
		t.Errorf("default timeout = %s, want 1m", got)
	}
	if got := s.Timeout(topic.SonarDeepResearch); got != 40*time.Minute {
		t.Errorf("deep research timeout = %s, want 40m", got)
	}
	if got := s.MaxTokens(topic.Brief, topic.Sonar); got != 300 {
		t.Errorf("brief max tokens = %d, want 300", got)
	}
	if got := s.MaxTokens(topic.Brief, topic.SonarReasoning); got != 2500 {
		t.Errorf("reasoning brief max tokens = %d, want 2500", got)
	}
	if got := s.SearchContextSize(topic.Comprehensive); got != "high" {
		t.Errorf("comprehensive search context = %q, want high", got)
	}
}

func TestAPISettingsRejectsUnknownKeys(t *testing.T) {
	c := config.Defaults()
	c.API.SearchContext["verbose"] = "high"
	if _, err := apiSettings(c); err == nil {
		t.Fatal("expected error for unknown detail level")
	}

	c = config.Defaults()
	c.API.Timeouts["gpt-4"] = time.Second
	if _, err := apiSettings(c); err == nil {
		t.Fatal("expected error for unknown model")
	}
}
