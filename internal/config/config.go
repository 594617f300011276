package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/trendpulse/internal/topic"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

// DefaultTimeoutKey is the timeouts entry used for models without their own.
const DefaultTimeoutKey = "default"

// maxTick is the longest loop tick the scheduler accepts.
const maxTick = time.Second

type Config struct {
	API       API       `yaml:"api"`
	Refresh   Refresh   `yaml:"refresh"`
	Context   Context   `yaml:"context"`
	Scheduler Scheduler `yaml:"scheduler"`
	Output    Output    `yaml:"output"`
	Logging   Logging   `yaml:"logging"`
}

type API struct {
	BaseURL           string                   `yaml:"base_url"`
	APIKeyEnv         string                   `yaml:"api_key_env"`
	RequestsPerMinute int                      `yaml:"requests_per_minute"`
	TopP              float64                  `yaml:"top_p"`
	Timeouts          map[string]time.Duration `yaml:"timeouts"`
	MaxTokens         MaxTokens                `yaml:"max_tokens"`
	SearchContext     map[string]string        `yaml:"search_context"`
}

// MaxTokens maps detail levels to output ceilings. Reasoning models spend
// hidden tokens before answering and get the larger table.
type MaxTokens struct {
	Standard  map[string]int `yaml:"standard"`
	Reasoning map[string]int `yaml:"reasoning"`
}

type Refresh struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	KeepSummaries int           `yaml:"keep_summaries"`
}

type Context struct {
	TokenCap             int    `yaml:"token_cap"`
	MinFragmentTokens    int    `yaml:"min_fragment_tokens"`
	AllWithinBudgetFetch int    `yaml:"all_within_budget_fetch"`
	Separator            string `yaml:"separator"`
}

type Scheduler struct {
	Tick              time.Duration `yaml:"tick"`
	Workers           int           `yaml:"workers"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	Watch             bool          `yaml:"watch"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for trendpulse.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "trendpulse")
}

// DataDir returns the XDG data directory for trendpulse.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "trendpulse")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/trendpulse/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'trendpulse init' to create a default config",
		xdgConfig,
	)
}

// Load reads, parses and validates a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		API: API{
			BaseURL:           "https://api.perplexity.ai",
			APIKeyEnv:         "PERPLEXITY_API_KEY",
			RequestsPerMinute: 60,
			TopP:              0.9,
			Timeouts: map[string]time.Duration{
				DefaultTimeoutKey:               120 * time.Second,
				string(topic.SonarDeepResearch): 40 * time.Minute,
			},
			MaxTokens: MaxTokens{
				Standard: map[string]int{
					string(topic.Brief):         512,
					string(topic.Detailed):      850,
					string(topic.Comprehensive): 1200,
				},
				Reasoning: map[string]int{
					string(topic.Brief):         2500,
					string(topic.Detailed):      5000,
					string(topic.Comprehensive): 8000,
				},
			},
			SearchContext: map[string]string{
				string(topic.Brief):         "low",
				string(topic.Detailed):      "medium",
				string(topic.Comprehensive): "high",
			},
		},
		Refresh: Refresh{
			MaxAttempts: 3,
			RetryDelay:  5 * time.Second,
		},
		Context: Context{
			TokenCap:             20000,
			MinFragmentTokens:    50,
			AllWithinBudgetFetch: 15,
			Separator:            "\n\n---\n\n",
		},
		Scheduler: Scheduler{
			Tick:              time.Second,
			Workers:           4,
			ShutdownTimeout:   30 * time.Second,
			Watch:             true,
			ReconcileInterval: time.Minute,
		},
		Logging: Logging{Level: "info"},
	}
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := Defaults()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Scheduler.Tick <= 0 || cfg.Scheduler.Tick > maxTick {
		cfg.Scheduler.Tick = maxTick
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if c.API.RequestsPerMinute <= 0 {
		errs = append(errs, fmt.Errorf("api.requests_per_minute must be positive, got %d", c.API.RequestsPerMinute))
	}
	if c.API.TopP <= 0 || c.API.TopP > 1 {
		errs = append(errs, fmt.Errorf("api.top_p must be in (0, 1], got %g", c.API.TopP))
	}
	if c.API.Timeouts[DefaultTimeoutKey] <= 0 {
		errs = append(errs, errors.New("api.timeouts.default must be positive"))
	}
	for model, d := range c.API.Timeouts {
		if model == DefaultTimeoutKey {
			continue
		}
		if _, err := topic.ParseModel(model); err != nil {
			errs = append(errs, fmt.Errorf("api.timeouts: %w", err))
		} else if d <= 0 {
			errs = append(errs, fmt.Errorf("api.timeouts.%s must be positive", model))
		}
	}
	errs = append(errs, checkDetailTable("api.max_tokens.standard", c.API.MaxTokens.Standard)...)
	errs = append(errs, checkDetailTable("api.max_tokens.reasoning", c.API.MaxTokens.Reasoning)...)
	for key, size := range c.API.SearchContext {
		if _, err := topic.ParseDetailLevel(key); err != nil {
			errs = append(errs, fmt.Errorf("api.search_context: %w", err))
			continue
		}
		switch size {
		case "low", "medium", "high":
		default:
			errs = append(errs, fmt.Errorf("api.search_context.%s must be low, medium or high, got %q", key, size))
		}
	}

	if c.Refresh.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("refresh.max_attempts must be positive, got %d", c.Refresh.MaxAttempts))
	}
	if c.Refresh.RetryDelay < 0 {
		errs = append(errs, errors.New("refresh.retry_delay must not be negative"))
	}
	if c.Refresh.KeepSummaries < 0 {
		errs = append(errs, errors.New("refresh.keep_summaries must not be negative"))
	}

	if c.Context.TokenCap < 0 {
		errs = append(errs, errors.New("context.token_cap must not be negative"))
	}
	if c.Context.MinFragmentTokens < 0 {
		errs = append(errs, errors.New("context.min_fragment_tokens must not be negative"))
	}
	if c.Context.AllWithinBudgetFetch <= 0 {
		errs = append(errs, errors.New("context.all_within_budget_fetch must be positive"))
	}

	if c.Scheduler.Workers <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.workers must be positive, got %d", c.Scheduler.Workers))
	}
	if c.Scheduler.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("scheduler.shutdown_timeout must be positive"))
	}
	if c.Scheduler.Watch && c.Scheduler.ReconcileInterval <= 0 {
		errs = append(errs, errors.New("scheduler.reconcile_interval must be positive when watch is enabled"))
	}
	return errors.Join(errs...)
}

func checkDetailTable(name string, table map[string]int) []error {
	var errs []error
	for _, level := range topic.DetailLevels() {
		if table[string(level)] <= 0 {
			errs = append(errs, fmt.Errorf("%s.%s must be positive", name, level))
		}
	}
	for key := range table {
		if _, err := topic.ParseDetailLevel(key); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errs
}

// APIKey reads the API key from the configured environment variable.
func (c *Config) APIKey() string {
	return os.Getenv(c.API.APIKeyEnv)
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DBPath returns the database file inside the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.GetDataDir(), "trendpulse.db")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
