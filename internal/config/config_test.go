package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/trendpulse/internal/topic"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	if cfg.API.BaseURL != "https://api.perplexity.ai" {
		t.Errorf("expected perplexity base url, got %q", cfg.API.BaseURL)
	}
	if cfg.API.RequestsPerMinute != 60 {
		t.Errorf("expected 60 requests per minute, got %d", cfg.API.RequestsPerMinute)
	}
	if cfg.Refresh.MaxAttempts != 3 || cfg.Refresh.RetryDelay != 5*time.Second {
		t.Errorf("unexpected refresh settings: %+v", cfg.Refresh)
	}
	if cfg.Context.TokenCap != 20000 {
		t.Errorf("expected token cap 20000, got %d", cfg.Context.TokenCap)
	}
	if cfg.Context.Separator == "" {
		t.Error("expected default separator to survive an unset yaml key")
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
api:
  requests_per_minute: 20
  timeouts:
    sonar-pro: 90s
refresh:
  keep_summaries: 10
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.API.RequestsPerMinute != 20 {
		t.Errorf("expected 20 requests per minute, got %d", cfg.API.RequestsPerMinute)
	}
	if cfg.Refresh.KeepSummaries != 10 {
		t.Errorf("expected keep_summaries 10, got %d", cfg.Refresh.KeepSummaries)
	}
	// Defaults should still be set for unspecified fields
	if cfg.API.BaseURL != "https://api.perplexity.ai" {
		t.Errorf("expected default base_url, got %q", cfg.API.BaseURL)
	}
	if got := cfg.API.Timeouts["sonar-pro"]; got != 90*time.Second {
		t.Errorf("expected sonar-pro timeout 90s, got %s", got)
	}
	if got := cfg.API.Timeouts[string(topic.SonarDeepResearch)]; got != 40*time.Minute {
		t.Errorf("expected deep research timeout to keep its default, got %s", got)
	}
	if got := cfg.API.Timeouts[DefaultTimeoutKey]; got != 120*time.Second {
		t.Errorf("expected default timeout, got %s", got)
	}
}

func TestTickIsClamped(t *testing.T) {
	cfg, err := parse([]byte("scheduler:\n  tick: 10s\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Scheduler.Tick != time.Second {
		t.Errorf("expected tick clamped to 1s, got %s", cfg.Scheduler.Tick)
	}

	cfg, err = parse([]byte("scheduler:\n  tick: 250ms\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Scheduler.Tick != 250*time.Millisecond {
		t.Errorf("expected tick 250ms, got %s", cfg.Scheduler.Tick)
	}
}

func TestDefaultDetailTables(t *testing.T) {
	cfg := Defaults()
	for _, level := range topic.DetailLevels() {
		if cfg.API.MaxTokens.Reasoning[string(level)] <= cfg.API.MaxTokens.Standard[string(level)] {
			t.Errorf("%s: reasoning ceiling should exceed the standard one", level)
		}
		if cfg.API.SearchContext[string(level)] == "" {
			t.Errorf("%s: missing search context size", level)
		}
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	data := []byte(`
api:
  requests_per_minute: 0
  timeouts:
    gpt-4: 10s
  max_tokens:
    standard:
      verbose: 100
  search_context:
    brief: huge
refresh:
  max_attempts: 0
scheduler:
  workers: 0
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		"api.requests_per_minute",
		"api.timeouts",
		"api.max_tokens.standard",
		"api.search_context.brief",
		"refresh.max_attempts",
		"scheduler.workers",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %q, got: %v", want, err)
		}
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Scheduler.Workers != 4 {
		t.Errorf("expected 4 workers from file, got %d", cfg.Scheduler.Workers)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("refresh:\n  max_attempts: -1\n"), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid config")
	}
}

func TestResolveConfigPathExplicit(t *testing.T) {
	if _, err := ResolveConfigPath(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit path")
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ResolveConfigPath(path)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != path {
		t.Errorf("expected %q, got %q", path, got)
	}
}

func TestGetDataDir(t *testing.T) {
	cfg := &Config{}
	defaultDir := cfg.GetDataDir()
	if defaultDir == "" {
		t.Error("expected non-empty default data dir")
	}

	cfg.Output.DataDir = "/custom/path"
	if cfg.GetDataDir() != "/custom/path" {
		t.Errorf("expected '/custom/path', got %q", cfg.GetDataDir())
	}
	if cfg.DBPath() != filepath.Join("/custom/path", "trendpulse.db") {
		t.Errorf("unexpected db path %q", cfg.DBPath())
	}
}

func TestAPIKeyFromEnv(t *testing.T) {
	t.Setenv("TRENDPULSE_TEST_KEY", "secret")
	cfg := Defaults()
	cfg.API.APIKeyEnv = "TRENDPULSE_TEST_KEY"
	if cfg.APIKey() != "secret" {
		t.Errorf("expected key from env, got %q", cfg.APIKey())
	}
}
